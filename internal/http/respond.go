package httpx

import (
	"encoding/json"
	"net/http"
)

// writeJSON commits the status line and encodes payload as the body. Encode
// failures are not reported; the status is already on the wire.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the canonical {"error": msg} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mustJSON marshals payload for inline SSE frames, falling back to an empty
// object so a marshal failure cannot corrupt the frame format.
func mustJSON(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte("{}")
	}
	return data
}
