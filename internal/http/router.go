// Package httpx wires the synchronization and pipeline services to HTTP
// endpoints.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metrikhq/metrik/internal/domain"
	"github.com/metrikhq/metrik/internal/provider"
	"github.com/metrikhq/metrik/internal/repository"
	"github.com/metrikhq/metrik/internal/service/pipeline"
	syncsvc "github.com/metrikhq/metrik/internal/service/sync"
	"github.com/metrikhq/metrik/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	sync           *syncsvc.Service
	pipeline       pipeline.Service
	limiter        RateLimiter
	streamLifetime time.Duration
	dbHealth       func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateLimitSyncTrigger = 10
	rateLimitRead        = 120
	rateLimitWrite       = 60
	healthCheckTimeout   = 2 * time.Second
	heartbeatInterval    = 15 * time.Second
	defaultStreamLife    = 10 * time.Minute
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, syncSvc *syncsvc.Service, pipelineSvc pipeline.Service, limiter RateLimiter, streamLifetime time.Duration, dbHealth func(context.Context) error) *Router {
	if streamLifetime <= 0 {
		streamLifetime = defaultStreamLife
	}
	r := &Router{
		mux:            http.NewServeMux(),
		logger:         logger,
		sync:           syncSvc,
		pipeline:       pipelineSvc,
		limiter:        limiter,
		streamLifetime: streamLifetime,
		dbHealth:       dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/project/", r.instrument("/api/project", r.handleProjectSubroutes))
	r.mux.HandleFunc("/api/pipeline", r.instrument("/api/pipeline", r.withRateLimit("/api/pipeline", rateLimitWrite, rateWindowDefault, r.handlePipelineCollection)))
	r.mux.HandleFunc("/api/pipeline/", r.instrument("/api/pipeline", r.withRateLimit("/api/pipeline", rateLimitWrite, rateWindowDefault, r.handlePipelineSubroutes)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/project/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]
	switch parts[1] {
	case "synchronization":
		r.handleSynchronization(w, req, projectID)
	case "sse-sync":
		r.withRateLimit("/api/project/sse-sync", rateLimitSyncTrigger, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleStreamingSync(w, req, projectID)
		})(w, req)
	case "pipelines":
		r.handleProjectPipelines(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleSynchronization(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("/api/project/synchronization", rateLimitSyncTrigger, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleSyncTrigger(w, req, projectID)
		})(w, req)
	case http.MethodGet:
		timestamp, err := r.sync.GetLastSyncTimestamp(req.Context(), projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"synchronizationTimestamp": timestamp})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSyncTrigger(w http.ResponseWriter, req *http.Request, projectID string) {
	timestamp, err := r.sync.Synchronize(req.Context(), projectID)
	if err != nil {
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		r.logger.Error("synchronization trigger failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if timestamp == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"synchronizationTimestamp": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synchronizationTimestamp": *timestamp})
}

// handleStreamingSync runs a synchronization in a background task and pushes
// one SSE event per pipeline completion. The stream has a hard lifetime cap;
// reaching it closes the stream without cancelling in-flight fetches, which
// keep persisting but can no longer report.
func (r *Router) handleStreamingSync(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := ws.NewProgressStream(w, flusher, r.logger)
	defer stream.Close()

	sink := func(progress domain.SyncProgress) error {
		payload, err := json.Marshal(progress)
		if err != nil {
			return err
		}
		return stream.Send(payload)
	}

	runCtx := context.WithoutCancel(req.Context())
	done := make(chan error, 1)
	go func() {
		done <- r.sync.SynchronizeWithProgress(runCtx, projectID, sink)
	}()

	lifetime := time.NewTimer(r.streamLifetime)
	defer lifetime.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				r.logger.Error("streaming synchronization fault", "project_id", projectID, "error", err)
				_ = stream.SendEvent("error", mustJSON(map[string]string{"error": err.Error()}))
				return
			}
			_ = stream.SendEvent("complete", []byte("{}"))
			return
		case <-lifetime.C:
			r.logger.Warn("sync stream lifetime exceeded", "project_id", projectID)
			return
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := stream.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleProjectPipelines(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	configs, err := r.pipeline.ListByProject(req.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (r *Router) handlePipelineCollection(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload pipeline.CreateInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	config, err := r.pipeline.Create(req.Context(), payload)
	if err != nil {
		writeError(w, providerErrorStatus(err, http.StatusBadRequest), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, config)
}

func (r *Router) handlePipelineSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/pipeline/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	if parts[0] == "verify" {
		r.handlePipelineVerify(w, req)
		return
	}
	pipelineID := parts[0]
	if len(parts) == 2 && parts[1] == "stages" {
		r.handlePipelineStages(w, req, pipelineID)
		return
	}
	if len(parts) != 1 {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodPut:
		var payload pipeline.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		config, err := r.pipeline.Update(req.Context(), pipelineID, payload)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w)
				return
			}
			writeError(w, providerErrorStatus(err, http.StatusBadRequest), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, config)
	case http.MethodDelete:
		projectID := req.URL.Query().Get("projectId")
		if err := r.pipeline.Delete(req.Context(), projectID, pipelineID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePipelineVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Type     string `json:"type"`
		URL      string `json:"url"`
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.pipeline.Verify(req.Context(), payload.Type, payload.URL, payload.Username, payload.Token); err != nil {
		writeError(w, providerErrorStatus(err, http.StatusBadRequest), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (r *Router) handlePipelineStages(w http.ResponseWriter, req *http.Request, pipelineID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	stages, err := r.pipeline.StagesSortedByName(req.Context(), pipelineID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stages)
}

// providerErrorStatus maps the provider error taxonomy onto HTTP statuses so
// verification callers see the upstream failure class.
func providerErrorStatus(err error, fallback int) int {
	switch {
	case errors.Is(err, provider.ErrAuthFailed):
		return http.StatusForbidden
	case errors.Is(err, provider.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrProtocol):
		return http.StatusBadGateway
	default:
		return fallback
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
