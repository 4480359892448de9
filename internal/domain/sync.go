package domain

// SyncStatus marks the per-pipeline outcome of a synchronization run.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "SUCCESS"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// SyncRecord holds the last-successful-synchronization timestamp for a
// project. Timestamp is epoch millis; it only moves forward and is committed
// only after every pipeline in a run has completed successfully.
type SyncRecord struct {
	ProjectID string
	Timestamp int64
}

// SyncProgress is a per-pipeline outcome notification emitted during a
// streaming synchronization run, in completion order.
type SyncProgress struct {
	PipelineID string     `json:"pipelineId"`
	Status     SyncStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
}
