// Package pipeline manages pipeline configurations for a project and serves
// derived read models over stored builds.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metrikhq/metrik/internal/domain"
	"github.com/metrikhq/metrik/internal/provider"
	"github.com/metrikhq/metrik/internal/repository"
	"github.com/metrikhq/metrik/pkg/crypto"
)

// CreateInput encapsulates pipeline configuration attributes.
type CreateInput struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Username  string `json:"username"`
	Token     string `json:"token"`
}

// Config is the API representation of a stored pipeline configuration. The
// provider token never leaves the service.
type Config struct {
	ID        string              `json:"id"`
	ProjectID string              `json:"projectId"`
	Name      string              `json:"name"`
	Type      domain.PipelineType `json:"type"`
	URL       string              `json:"url"`
	Username  string              `json:"username"`
	CreatedAt time.Time           `json:"createdAt"`
}

var (
	errInvalidName  = errors.New("pipeline name is required")
	errInvalidURL   = errors.New("pipeline url is required")
	errInvalidToken = errors.New("pipeline token is required")
	errInvalidType  = errors.New("unsupported pipeline type")
	errMissingID    = errors.New("pipeline id required")
)

// Service orchestrates pipeline configuration management.
type Service struct {
	pipelines   repository.PipelineRepository
	builds      repository.BuildRepository
	registry    *provider.Registry
	logger      *slog.Logger
	tokenSecret string
}

// New returns a pipeline service.
func New(pipelines repository.PipelineRepository, builds repository.BuildRepository, registry *provider.Registry, logger *slog.Logger, tokenSecret string) Service {
	return Service{pipelines: pipelines, builds: builds, registry: registry, logger: logger, tokenSecret: tokenSecret}
}

// Create verifies the endpoint, encrypts the token, and stores a new
// pipeline configuration.
func (s Service) Create(ctx context.Context, input CreateInput) (*Config, error) {
	cleaned, err := s.validate(input)
	if err != nil {
		return nil, err
	}
	if err := s.Verify(ctx, cleaned.Type, cleaned.URL, cleaned.Username, cleaned.Token); err != nil {
		return nil, err
	}
	ciphertext, err := crypto.EncryptString(s.tokenSecret, cleaned.Token)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	pipeline := &domain.PipelineConfig{
		ID:        uuid.NewString(),
		ProjectID: cleaned.ProjectID,
		Name:      cleaned.Name,
		Type:      domain.PipelineType(cleaned.Type),
		URL:       cleaned.URL,
		Username:  cleaned.Username,
		Token:     ciphertext,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.pipelines.CreatePipeline(ctx, pipeline); err != nil {
		return nil, err
	}
	s.logger.Info("pipeline created", "pipeline_id", pipeline.ID, "project_id", pipeline.ProjectID, "type", pipeline.Type)
	return toConfig(pipeline), nil
}

// Update re-verifies and rewrites an existing configuration.
func (s Service) Update(ctx context.Context, pipelineID string, input CreateInput) (*Config, error) {
	if strings.TrimSpace(pipelineID) == "" {
		return nil, errMissingID
	}
	cleaned, err := s.validate(input)
	if err != nil {
		return nil, err
	}
	existing, err := s.pipelines.GetPipeline(ctx, cleaned.ProjectID, pipelineID)
	if err != nil {
		return nil, err
	}
	if err := s.Verify(ctx, cleaned.Type, cleaned.URL, cleaned.Username, cleaned.Token); err != nil {
		return nil, err
	}
	ciphertext, err := crypto.EncryptString(s.tokenSecret, cleaned.Token)
	if err != nil {
		return nil, err
	}
	existing.Name = cleaned.Name
	existing.Type = domain.PipelineType(cleaned.Type)
	existing.URL = cleaned.URL
	existing.Username = cleaned.Username
	existing.Token = ciphertext
	existing.UpdatedAt = time.Now().UTC()
	if err := s.pipelines.UpdatePipeline(ctx, existing); err != nil {
		return nil, err
	}
	s.logger.Info("pipeline updated", "pipeline_id", existing.ID, "project_id", existing.ProjectID)
	return toConfig(existing), nil
}

// Delete removes a pipeline configuration. Stored builds are kept.
func (s Service) Delete(ctx context.Context, projectID, pipelineID string) error {
	if strings.TrimSpace(pipelineID) == "" {
		return errMissingID
	}
	if err := s.pipelines.DeletePipeline(ctx, projectID, pipelineID); err != nil {
		return err
	}
	s.logger.Info("pipeline deleted", "pipeline_id", pipelineID, "project_id", projectID)
	return nil
}

// ListByProject returns a project's configurations without token material.
func (s Service) ListByProject(ctx context.Context, projectID string) ([]Config, error) {
	stored, err := s.pipelines.ListPipelinesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	configs := make([]Config, 0, len(stored))
	for i := range stored {
		configs = append(configs, *toConfig(&stored[i]))
	}
	return configs, nil
}

// Verify checks reachability and credentials against the provider for the
// given type without persisting anything.
func (s Service) Verify(ctx context.Context, pipelineType, url, username, token string) error {
	adapter, err := s.registry.Lookup(domain.PipelineType(strings.ToUpper(strings.TrimSpace(pipelineType))))
	if err != nil {
		return errInvalidType
	}
	return adapter.VerifyPipeline(ctx, url, username, token)
}

// StagesSortedByName returns the de-duplicated, lexically sorted stage names
// seen across all stored builds of a pipeline.
func (s Service) StagesSortedByName(ctx context.Context, pipelineID string) ([]string, error) {
	if strings.TrimSpace(pipelineID) == "" {
		return nil, errMissingID
	}
	builds, err := s.builds.GetAllBuilds(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, build := range builds {
		for _, stage := range build.Stages {
			if _, ok := seen[stage.Name]; ok {
				continue
			}
			seen[stage.Name] = struct{}{}
			names = append(names, stage.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s Service) validate(input CreateInput) (CreateInput, error) {
	input.ProjectID = strings.TrimSpace(input.ProjectID)
	input.Name = strings.TrimSpace(input.Name)
	input.URL = strings.TrimSpace(input.URL)
	input.Type = strings.ToUpper(strings.TrimSpace(input.Type))
	if input.ProjectID == "" {
		return input, errors.New("project id required")
	}
	if input.Name == "" {
		return input, errInvalidName
	}
	if input.URL == "" {
		return input, errInvalidURL
	}
	if strings.TrimSpace(input.Token) == "" {
		return input, errInvalidToken
	}
	if _, err := s.registry.Lookup(domain.PipelineType(input.Type)); err != nil {
		return input, errInvalidType
	}
	return input, nil
}

func toConfig(pipeline *domain.PipelineConfig) *Config {
	return &Config{
		ID:        pipeline.ID,
		ProjectID: pipeline.ProjectID,
		Name:      pipeline.Name,
		Type:      pipeline.Type,
		URL:       pipeline.URL,
		Username:  pipeline.Username,
		CreatedAt: pipeline.CreatedAt,
	}
}
