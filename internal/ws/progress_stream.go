// Package ws holds streaming transports for pushing events to a single
// connected observer.
package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// ProgressStream delivers Server-Sent Events to one observer for the
// duration of a synchronization run. Sends after Close return io.EOF.
type ProgressStream struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
}

// NewProgressStream builds a stream over an HTTP response writer.
func NewProgressStream(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *ProgressStream {
	return &ProgressStream{writer: writer, flusher: flusher, log: logger}
}

// Send emits a data frame.
func (s *ProgressStream) Send(payload []byte) error {
	return s.write(fmt.Sprintf("data: %s\n\n", payload))
}

// SendEvent emits a named event frame, used for the terminal complete and
// error signals.
func (s *ProgressStream) SendEvent(name string, payload []byte) error {
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", name, payload))
}

// Heartbeat emits a comment frame to keep the connection alive.
func (s *ProgressStream) Heartbeat() error {
	return s.write(": ping\n\n")
}

// Close marks the stream as closed.
func (s *ProgressStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *ProgressStream) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.EOF
	}
	if _, err := io.WriteString(s.writer, frame); err != nil {
		s.closed = true
		s.log.Warn("sse write failed", "error", err)
		return err
	}
	s.flusher.Flush()
	return nil
}
