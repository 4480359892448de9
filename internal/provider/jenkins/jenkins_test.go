package jenkins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/metrikhq/metrik/internal/domain"
	"github.com/metrikhq/metrik/internal/provider"
	"github.com/metrikhq/metrik/internal/repository"
	"github.com/metrikhq/metrik/pkg/crypto"
)

const testSecret = "test-secret"

type memPipelineRepository struct {
	configs map[string]domain.PipelineConfig
}

func (m *memPipelineRepository) CreatePipeline(ctx context.Context, p *domain.PipelineConfig) error {
	return nil
}
func (m *memPipelineRepository) UpdatePipeline(ctx context.Context, p *domain.PipelineConfig) error {
	return nil
}
func (m *memPipelineRepository) DeletePipeline(ctx context.Context, projectID, pipelineID string) error {
	return nil
}
func (m *memPipelineRepository) GetPipeline(ctx context.Context, projectID, pipelineID string) (*domain.PipelineConfig, error) {
	cfg, ok := m.configs[projectID+"/"+pipelineID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cfg, nil
}
func (m *memPipelineRepository) ListPipelinesByProject(ctx context.Context, projectID string) ([]domain.PipelineConfig, error) {
	return nil, nil
}

type memBuildRepository struct {
	mu     sync.Mutex
	builds map[string]map[int64]domain.Build
	errOn  error
}

func newMemBuildRepository() *memBuildRepository {
	return &memBuildRepository{builds: make(map[string]map[int64]domain.Build)}
}

func (m *memBuildRepository) SaveBuilds(ctx context.Context, builds []domain.Build) error {
	if m.errOn != nil {
		return m.errOn
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, build := range builds {
		byNumber, ok := m.builds[build.PipelineID]
		if !ok {
			byNumber = make(map[int64]domain.Build)
			m.builds[build.PipelineID] = byNumber
		}
		byNumber[build.Number] = build
	}
	return nil
}

func (m *memBuildRepository) GetAllBuilds(ctx context.Context, pipelineID string) ([]domain.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	builds := make([]domain.Build, 0)
	for _, build := range m.builds[pipelineID] {
		builds = append(builds, build)
	}
	return builds, nil
}

func (m *memBuildRepository) GetLastBuild(ctx context.Context, pipelineID string) (*domain.Build, error) {
	return nil, repository.ErrNotFound
}

const summariesBody = `{"allBuilds":[
	{"building":false,"number":10,"result":"SUCCESS","timestamp":1600000000000,"duration":120000,"url":"http://jenkins/job/10/",
	 "changeSets":[{"items":[{"commitId":"c1","timestamp":1599990000000,"msg":"first","date":"2020-09-13"},{"commitId":"c2","timestamp":1599990001000,"msg":"second","date":"2020-09-13"}]},{"items":[{"commitId":"c3","timestamp":1599990002000,"msg":"third","date":"2020-09-13"}]}]},
	{"building":true,"number":11,"result":null,"timestamp":1600000100000,"duration":0,"url":"http://jenkins/job/11/","changeSets":[]}
]}`

func jenkinsHandler(t *testing.T, failDetailFor string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "token-123" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "Invalid password/token for user: "+user)
			return
		}
		switch {
		case r.URL.Path == "/api/json":
			fmt.Fprint(w, summariesBody)
		case r.URL.Path == "/10/wfapi/describe":
			fmt.Fprint(w, `{"stages":[{"name":"clone","status":"SUCCESS","startTimeMillis":1600000000000,"durationMillis":1000,"pauseDurationMillis":0},{"name":"build","status":"SUCCESS","startTimeMillis":1600000001000,"durationMillis":2000,"pauseDurationMillis":0}]}`)
		case r.URL.Path == "/11/wfapi/describe":
			if failDetailFor == "11" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `{"stages":[{"name":"clone","status":"IN_PROGRESS","startTimeMillis":1600000100000,"durationMillis":0,"pauseDurationMillis":0}]}`)
		case r.URL.Path == "/wfapi/":
			fmt.Fprint(w, `{"name":"pipeline"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestAdapter(t *testing.T, serverURL string, builds *memBuildRepository) *Adapter {
	t.Helper()
	token, err := crypto.EncryptString(testSecret, "token-123")
	if err != nil {
		t.Fatalf("encrypt token: %v", err)
	}
	pipelines := &memPipelineRepository{configs: map[string]domain.PipelineConfig{
		"proj-1/jenkins-1": {
			ID:        "jenkins-1",
			ProjectID: "proj-1",
			Type:      domain.PipelineTypeJenkins,
			URL:       serverURL,
			Username:  "admin",
			Token:     token,
		},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(pipelines, builds, log, testSecret, 5*time.Second, 4)
}

func TestFetchAllBuildsConstructsAndPersists(t *testing.T) {
	server := httptest.NewServer(jenkinsHandler(t, ""))
	defer server.Close()

	store := newMemBuildRepository()
	adapter := newTestAdapter(t, server.URL, store)

	builds, err := adapter.FetchAllBuilds(context.Background(), "proj-1", "jenkins-1")
	if err != nil {
		t.Fatalf("FetchAllBuilds: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected 2 builds, got %d", len(builds))
	}

	byNumber := make(map[int64]domain.Build)
	for _, build := range builds {
		byNumber[build.Number] = build
	}

	ten := byNumber[10]
	if ten.Result != domain.ResultSuccess {
		t.Fatalf("build 10 result = %s", ten.Result)
	}
	if len(ten.Stages) != 2 || ten.Stages[0].Name != "clone" || ten.Stages[1].Name != "build" {
		t.Fatalf("build 10 stage order wrong: %+v", ten.Stages)
	}

	eleven := byNumber[11]
	if eleven.Result != domain.ResultInProgress {
		t.Fatalf("build 11 result = %s", eleven.Result)
	}
	if len(eleven.Stages) != 1 || eleven.Stages[0].Name != "clone" {
		t.Fatalf("build 11 stages wrong: %+v", eleven.Stages)
	}

	stored, err := store.GetAllBuilds(context.Background(), "jenkins-1")
	if err != nil {
		t.Fatalf("GetAllBuilds: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 persisted builds, got %d", len(stored))
	}
}

func TestFetchAllBuildsFlattensCommits(t *testing.T) {
	server := httptest.NewServer(jenkinsHandler(t, ""))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, newMemBuildRepository())
	builds, err := adapter.FetchAllBuilds(context.Background(), "proj-1", "jenkins-1")
	if err != nil {
		t.Fatalf("FetchAllBuilds: %v", err)
	}
	var ten *domain.Build
	for i := range builds {
		if builds[i].Number == 10 {
			ten = &builds[i]
		}
	}
	if ten == nil {
		t.Fatal("build 10 missing")
	}
	if len(ten.Commits) != 3 {
		t.Fatalf("expected 3 flattened commits, got %d", len(ten.Commits))
	}
	ids := make(map[string]bool)
	for _, commit := range ten.Commits {
		ids[commit.CommitID] = true
	}
	for _, want := range []string{"c1", "c2", "c3"} {
		if !ids[want] {
			t.Fatalf("commit %s missing from %v", want, ids)
		}
	}
}

func TestFetchAllBuildsIsIdempotent(t *testing.T) {
	server := httptest.NewServer(jenkinsHandler(t, ""))
	defer server.Close()

	store := newMemBuildRepository()
	adapter := newTestAdapter(t, server.URL, store)

	for i := 0; i < 2; i++ {
		if _, err := adapter.FetchAllBuilds(context.Background(), "proj-1", "jenkins-1"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	stored, err := store.GetAllBuilds(context.Background(), "jenkins-1")
	if err != nil {
		t.Fatalf("GetAllBuilds: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 builds after repeated fetch, got %d", len(stored))
	}
}

func TestFetchAllBuildsDetailFailureAbortsWholeCall(t *testing.T) {
	server := httptest.NewServer(jenkinsHandler(t, "11"))
	defer server.Close()

	store := newMemBuildRepository()
	adapter := newTestAdapter(t, server.URL, store)

	_, err := adapter.FetchAllBuilds(context.Background(), "proj-1", "jenkins-1")
	if !errors.Is(err, provider.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	stored, _ := store.GetAllBuilds(context.Background(), "jenkins-1")
	if len(stored) != 0 {
		t.Fatalf("partial build graph persisted: %d builds", len(stored))
	}
}

func TestFetchAllBuildsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "bad credentials")
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, newMemBuildRepository())
	_, err := adapter.FetchAllBuilds(context.Background(), "proj-1", "jenkins-1")
	if !errors.Is(err, provider.ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401 on error, got %+v", perr)
	}
}

func TestFetchAllBuildsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // immediately, so the port refuses connections

	adapter := newTestAdapter(t, server.URL, newMemBuildRepository())
	_, err := adapter.FetchAllBuilds(context.Background(), "proj-1", "jenkins-1")
	if !errors.Is(err, provider.ErrUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestFetchAllBuildsPersistenceFailure(t *testing.T) {
	server := httptest.NewServer(jenkinsHandler(t, ""))
	defer server.Close()

	store := newMemBuildRepository()
	store.errOn = errors.New("disk full")
	adapter := newTestAdapter(t, server.URL, store)

	_, err := adapter.FetchAllBuilds(context.Background(), "proj-1", "jenkins-1")
	if !errors.Is(err, provider.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}

func TestVerifyPipeline(t *testing.T) {
	server := httptest.NewServer(jenkinsHandler(t, ""))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL, newMemBuildRepository())

	if err := adapter.VerifyPipeline(context.Background(), server.URL, "admin", "token-123"); err != nil {
		t.Fatalf("VerifyPipeline with valid credentials: %v", err)
	}

	err := adapter.VerifyPipeline(context.Background(), server.URL, "admin", "wrong")
	if !errors.Is(err, provider.ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected upstream status on error, got %+v", perr)
	}
	if perr.Message == "" {
		t.Fatal("expected upstream message on error")
	}
}
