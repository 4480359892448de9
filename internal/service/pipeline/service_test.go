package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrikhq/metrik/internal/domain"
	"github.com/metrikhq/metrik/internal/provider"
	"github.com/metrikhq/metrik/internal/repository"
	"github.com/metrikhq/metrik/pkg/crypto"
)

const testSecret = "pipeline-secret"

type stubPipelineRepository struct {
	created *domain.PipelineConfig
	stored  map[string]domain.PipelineConfig
}

func (s *stubPipelineRepository) CreatePipeline(ctx context.Context, p *domain.PipelineConfig) error {
	s.created = p
	return nil
}
func (s *stubPipelineRepository) UpdatePipeline(ctx context.Context, p *domain.PipelineConfig) error {
	return nil
}
func (s *stubPipelineRepository) DeletePipeline(ctx context.Context, projectID, pipelineID string) error {
	return nil
}
func (s *stubPipelineRepository) GetPipeline(ctx context.Context, projectID, pipelineID string) (*domain.PipelineConfig, error) {
	if cfg, ok := s.stored[pipelineID]; ok {
		return &cfg, nil
	}
	return nil, repository.ErrNotFound
}
func (s *stubPipelineRepository) ListPipelinesByProject(ctx context.Context, projectID string) ([]domain.PipelineConfig, error) {
	return nil, nil
}

type stubBuildRepository struct {
	builds map[string][]domain.Build
}

func (s *stubBuildRepository) SaveBuilds(ctx context.Context, builds []domain.Build) error { return nil }
func (s *stubBuildRepository) GetAllBuilds(ctx context.Context, pipelineID string) ([]domain.Build, error) {
	return s.builds[pipelineID], nil
}
func (s *stubBuildRepository) GetLastBuild(ctx context.Context, pipelineID string) (*domain.Build, error) {
	return nil, repository.ErrNotFound
}

type verifyAdapter struct {
	err      error
	verified bool
}

func (v *verifyAdapter) FetchAllBuilds(ctx context.Context, projectID, pipelineID string) ([]domain.Build, error) {
	return nil, nil
}
func (v *verifyAdapter) VerifyPipeline(ctx context.Context, url, username, token string) error {
	v.verified = true
	return v.err
}

func newTestService(adapter provider.Pipeline, pipelines *stubPipelineRepository, builds *stubBuildRepository) Service {
	registry := provider.NewRegistry()
	registry.Register(domain.PipelineTypeJenkins, adapter)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(pipelines, builds, registry, log, testSecret)
}

func TestStagesSortedByName(t *testing.T) {
	builds := &stubBuildRepository{builds: map[string][]domain.Build{
		"pipelineId": {
			{Stages: []domain.Stage{{Name: "clone"}, {Name: "build"}, {Name: "zzz"}, {Name: "amazing"}}},
			{Stages: []domain.Stage{{Name: "build"}, {Name: "good"}}},
		},
	}}
	svc := newTestService(&verifyAdapter{}, &stubPipelineRepository{}, builds)

	result, err := svc.StagesSortedByName(context.Background(), "pipelineId")
	require.NoError(t, err)
	assert.Equal(t, []string{"amazing", "build", "clone", "good", "zzz"}, result)
}

func TestCreateVerifiesAndEncryptsToken(t *testing.T) {
	adapter := &verifyAdapter{}
	repo := &stubPipelineRepository{}
	svc := newTestService(adapter, repo, &stubBuildRepository{})

	config, err := svc.Create(context.Background(), CreateInput{
		ProjectID: "proj-1",
		Name:      "main pipeline",
		Type:      "jenkins",
		URL:       "http://jenkins.local/job/main",
		Username:  "admin",
		Token:     "secret-token",
	})
	require.NoError(t, err)
	require.NotNil(t, repo.created)
	assert.True(t, adapter.verified, "creation must verify the endpoint")
	assert.Equal(t, domain.PipelineTypeJenkins, config.Type)
	assert.NotEmpty(t, config.ID)

	// token is stored encrypted and recoverable with the service secret
	assert.NotEqual(t, []byte("secret-token"), repo.created.Token)
	plain, err := crypto.DecryptToString(testSecret, repo.created.Token)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", plain)
}

func TestCreateRejectsFailedVerification(t *testing.T) {
	adapter := &verifyAdapter{err: provider.AuthFailed(403, "bad token")}
	svc := newTestService(adapter, &stubPipelineRepository{}, &stubBuildRepository{})

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID: "proj-1",
		Name:      "main",
		Type:      "JENKINS",
		URL:       "http://jenkins.local",
		Token:     "secret",
	})
	assert.ErrorIs(t, err, provider.ErrAuthFailed)
}

func TestCreateRejectsUnsupportedType(t *testing.T) {
	svc := newTestService(&verifyAdapter{}, &stubPipelineRepository{}, &stubBuildRepository{})

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID: "proj-1",
		Name:      "main",
		Type:      "BAMBOO",
		URL:       "http://bamboo.local",
		Token:     "secret",
	})
	assert.ErrorIs(t, err, errInvalidType)
}

func TestUpdateMissingPipeline(t *testing.T) {
	svc := newTestService(&verifyAdapter{}, &stubPipelineRepository{}, &stubBuildRepository{})

	_, err := svc.Update(context.Background(), "nope", CreateInput{
		ProjectID: "proj-1",
		Name:      "main",
		Type:      "JENKINS",
		URL:       "http://jenkins.local",
		Token:     "secret",
	})
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestListByProjectOmitsTokens(t *testing.T) {
	repo := &stubPipelineRepository{}
	svc := newTestService(&verifyAdapter{}, repo, &stubBuildRepository{})

	configs, err := svc.ListByProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Empty(t, configs)
}
