// Package sync implements the pipeline synchronization engine: it drives the
// configured provider adapters for a project, persists their results, commits
// the synchronization record, and reports per-pipeline progress.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metrikhq/metrik/internal/domain"
	"github.com/metrikhq/metrik/internal/provider"
	"github.com/metrikhq/metrik/internal/repository"
)

// ErrSyncInProgress signals an overlapping trigger for the same project.
var ErrSyncInProgress = errors.New("synchronization already in progress for project")

const defaultPipelineConcurrency = 4

// ProgressSink receives one event per pipeline completion. A returned error
// means the observer is gone; the engine stops reporting but in-flight
// fetches keep persisting their results.
type ProgressSink func(progress domain.SyncProgress) error

// Service orchestrates one project's pipelines against their providers.
type Service struct {
	pipelines   repository.PipelineRepository
	records     repository.SyncRecordRepository
	registry    *provider.Registry
	logger      *slog.Logger
	concurrency int
	now         func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

// New returns a synchronization service. concurrency bounds how many
// pipelines of one project are fetched in parallel.
func New(pipelines repository.PipelineRepository, records repository.SyncRecordRepository, registry *provider.Registry, logger *slog.Logger, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = defaultPipelineConcurrency
	}
	return &Service{
		pipelines:   pipelines,
		records:     records,
		registry:    registry,
		logger:      logger.With("component", "sync_engine"),
		concurrency: concurrency,
		now:         time.Now,
		running:     make(map[string]struct{}),
	}
}

// Synchronize runs a full synchronization for a project and blocks until it
// completes. It returns the new synchronization timestamp in epoch millis,
// or nil when any pipeline failed; the stored record is then left unchanged.
func (s *Service) Synchronize(ctx context.Context, projectID string) (*int64, error) {
	return s.run(ctx, projectID, func(domain.SyncProgress) error { return nil })
}

// SynchronizeWithProgress is the streaming form of Synchronize: identical
// fetch and persist behavior, with one event sent to sink per pipeline
// completion. Overall failure is conveyed through the event stream, so the
// call returns a nil error once all pipelines have reported.
func (s *Service) SynchronizeWithProgress(ctx context.Context, projectID string, sink ProgressSink) error {
	if sink == nil {
		sink = func(domain.SyncProgress) error { return nil }
	}
	_, err := s.run(ctx, projectID, sink)
	return err
}

// GetLastSyncTimestamp reads the recorded timestamp without fetching.
func (s *Service) GetLastSyncTimestamp(ctx context.Context, projectID string) (*int64, error) {
	record, err := s.records.GetSyncRecord(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ts := record.Timestamp
	return &ts, nil
}

// outcome is one pipeline's terminal state within a run.
type outcome struct {
	pipelineID string
	builds     int
	err        error
}

// run is the single fetch-and-persist routine both entry points share. The
// sink is a no-op for the synchronous path.
func (s *Service) run(ctx context.Context, projectID string, sink ProgressSink) (*int64, error) {
	if !s.acquire(projectID) {
		return nil, ErrSyncInProgress
	}
	defer s.release(projectID)

	pipelines, err := s.pipelines.ListPipelinesByProject(ctx, projectID)
	if err != nil {
		recordRunOutcome("error")
		return nil, infraError{fmt.Errorf("list pipelines: %w", err)}
	}

	outcomes := make(chan outcome, len(pipelines))
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, pipeline := range pipelines {
		pipeline := pipeline
		group.Go(func() error {
			// Failures are converted to outcomes so sibling fetches
			// keep running.
			builds, fetchErr := s.fetchPipeline(ctx, projectID, pipeline)
			outcomes <- outcome{pipelineID: pipeline.ID, builds: len(builds), err: fetchErr}
			return nil
		})
	}
	go func() {
		_ = group.Wait()
		close(outcomes)
	}()

	allSucceeded := true
	var sinkErr error
	for result := range outcomes {
		recordPipelineOutcome(result.err)
		if result.err != nil {
			allSucceeded = false
			s.logger.Warn("pipeline synchronization failed",
				"project_id", projectID, "pipeline_id", result.pipelineID, "error", result.err)
		}
		if sinkErr != nil {
			continue // observer gone; drain remaining outcomes
		}
		if err := sink(progressFor(result)); err != nil {
			sinkErr = err
			s.logger.Warn("progress observer lost", "project_id", projectID, "error", err)
		}
	}
	if sinkErr != nil {
		recordRunOutcome("observer_lost")
		return nil, infraError{fmt.Errorf("deliver progress: %w", sinkErr)}
	}

	if !allSucceeded {
		recordRunOutcome("failed")
		return nil, nil
	}

	timestamp := s.now().UnixMilli()
	if err := s.records.UpdateSyncTime(ctx, projectID, timestamp); err != nil {
		recordRunOutcome("error")
		return nil, infraError{fmt.Errorf("update sync record: %w", err)}
	}
	recordRunOutcome("success")
	s.logger.Info("synchronization complete", "project_id", projectID, "pipelines", len(pipelines), "timestamp", timestamp)
	return &timestamp, nil
}

func (s *Service) fetchPipeline(ctx context.Context, projectID string, pipeline domain.PipelineConfig) ([]domain.Build, error) {
	adapter, err := s.registry.Lookup(pipeline.Type)
	if err != nil {
		return nil, err
	}
	return adapter.FetchAllBuilds(ctx, projectID, pipeline.ID)
}

func progressFor(result outcome) domain.SyncProgress {
	if result.err != nil {
		return domain.SyncProgress{
			PipelineID: result.pipelineID,
			Status:     domain.SyncStatusFailed,
			Detail:     result.err.Error(),
		}
	}
	return domain.SyncProgress{
		PipelineID: result.pipelineID,
		Status:     domain.SyncStatusSuccess,
		Detail:     fmt.Sprintf("%d builds updated", result.builds),
	}
}

func (s *Service) acquire(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.running[projectID]; held {
		return false
	}
	s.running[projectID] = struct{}{}
	return true
}

func (s *Service) release(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, projectID)
}

// infraError marks faults outside the per-pipeline boundary: they must reach
// the streaming caller as a stream error instead of a progress event.
type infraError struct{ err error }

func (e infraError) Error() string { return e.err.Error() }
func (e infraError) Unwrap() error { return e.err }
