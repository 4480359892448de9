package repository

import (
	"context"

	"github.com/metrikhq/metrik/internal/domain"
)

// BuildRepository persists build history. SaveBuilds is an idempotent upsert
// keyed by (pipeline_id, number); builds are never deleted.
type BuildRepository interface {
	SaveBuilds(ctx context.Context, builds []domain.Build) error
	GetAllBuilds(ctx context.Context, pipelineID string) ([]domain.Build, error)
	GetLastBuild(ctx context.Context, pipelineID string) (*domain.Build, error)
}

// PipelineRepository manages pipeline configurations.
type PipelineRepository interface {
	CreatePipeline(ctx context.Context, pipeline *domain.PipelineConfig) error
	UpdatePipeline(ctx context.Context, pipeline *domain.PipelineConfig) error
	DeletePipeline(ctx context.Context, projectID, pipelineID string) error
	GetPipeline(ctx context.Context, projectID, pipelineID string) (*domain.PipelineConfig, error)
	ListPipelinesByProject(ctx context.Context, projectID string) ([]domain.PipelineConfig, error)
}

// SyncRecordRepository stores the per-project last-successful-sync timestamp.
type SyncRecordRepository interface {
	GetSyncRecord(ctx context.Context, projectID string) (*domain.SyncRecord, error)
	UpdateSyncTime(ctx context.Context, projectID string, timestamp int64) error
}
