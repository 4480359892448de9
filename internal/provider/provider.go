// Package provider defines the capability contract adapters to external CI
// systems must satisfy, plus the error taxonomy the synchronization engine
// relies on when classifying per-pipeline failures.
package provider

import (
	"context"
	"fmt"

	"github.com/metrikhq/metrik/internal/domain"
)

// Pipeline is the abstract contract one external CI integration fulfils.
//
// FetchAllBuilds retrieves the full build history currently visible on the
// provider for the given pipeline, persists the canonical build graph through
// the build store, and returns the constructed builds. The fetch is
// all-or-nothing per pipeline: a partial build graph is considered worse than
// a stale one.
//
// VerifyPipeline performs a lightweight reachability and credential check
// without persisting anything.
type Pipeline interface {
	FetchAllBuilds(ctx context.Context, projectID, pipelineID string) ([]domain.Build, error)
	VerifyPipeline(ctx context.Context, url, username, token string) error
}

// Registry selects the adapter for a configured pipeline type.
type Registry struct {
	adapters map[domain.PipelineType]Pipeline
}

// NewRegistry builds an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.PipelineType]Pipeline)}
}

// Register binds an adapter to a pipeline type, replacing any previous binding.
func (r *Registry) Register(pipelineType domain.PipelineType, adapter Pipeline) {
	r.adapters[pipelineType] = adapter
}

// Lookup returns the adapter for a pipeline type.
func (r *Registry) Lookup(pipelineType domain.PipelineType) (Pipeline, error) {
	adapter, ok := r.adapters[pipelineType]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for pipeline type %q", pipelineType)
	}
	return adapter, nil
}
