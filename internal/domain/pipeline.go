package domain

import "time"

// PipelineType identifies the external CI system an adapter speaks to.
type PipelineType string

const (
	PipelineTypeJenkins PipelineType = "JENKINS"
)

// PipelineConfig identifies one external CI endpoint owned by a project.
// The synchronization engine treats it as read-only reference data.
type PipelineConfig struct {
	ID        string
	ProjectID string
	Name      string
	Type      PipelineType
	URL       string
	Username  string
	Token     []byte // AES-GCM ciphertext, decrypted only at fetch time
	CreatedAt time.Time
	UpdatedAt time.Time
}
