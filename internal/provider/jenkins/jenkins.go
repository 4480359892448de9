// Package jenkins adapts a Jenkins server with the workflow API plugin into
// the canonical Build/Stage/Commit model.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metrikhq/metrik/internal/domain"
	"github.com/metrikhq/metrik/internal/provider"
	"github.com/metrikhq/metrik/internal/repository"
	"github.com/metrikhq/metrik/pkg/crypto"
)

const (
	defaultDetailConcurrency = 8
	summaryTreeQuery         = "allBuilds[building,number,result,timestamp,duration,url,changeSets[items[commitId,timestamp,msg,date]]]"
)

// Adapter implements provider.Pipeline against a Jenkins endpoint.
type Adapter struct {
	pipelines   repository.PipelineRepository
	builds      repository.BuildRepository
	client      *http.Client
	logger      *slog.Logger
	tokenSecret string
	concurrency int
}

var _ provider.Pipeline = (*Adapter)(nil)

// New returns a Jenkins adapter. concurrency bounds the parallel per-build
// detail fetches; timeout applies to every provider HTTP call.
func New(pipelines repository.PipelineRepository, builds repository.BuildRepository, logger *slog.Logger, tokenSecret string, timeout time.Duration, concurrency int) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = defaultDetailConcurrency
	}
	return &Adapter{
		pipelines:   pipelines,
		builds:      builds,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With("component", "jenkins_adapter"),
		tokenSecret: tokenSecret,
		concurrency: concurrency,
	}
}

// FetchAllBuilds pulls the full visible build history for a pipeline,
// persists it, and returns the constructed builds. Detail fetches run
// concurrently; the first failure aborts the whole call.
func (a *Adapter) FetchAllBuilds(ctx context.Context, projectID, pipelineID string) ([]domain.Build, error) {
	cfg, err := a.pipelines.GetPipeline(ctx, projectID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("load pipeline configuration: %w", err)
	}
	token, err := crypto.DecryptToString(a.tokenSecret, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("decrypt pipeline token: %w", err)
	}

	summaries, err := a.fetchSummaries(ctx, cfg.URL, cfg.Username, token)
	if err != nil {
		return nil, err
	}

	builds := make([]domain.Build, len(summaries))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for i, summary := range summaries {
		i, summary := i, summary
		group.Go(func() error {
			detail, err := a.fetchDetail(groupCtx, cfg.URL, cfg.Username, token, summary.Number)
			if err != nil {
				return err
			}
			builds[i] = domain.Build{
				PipelineID: pipelineID,
				Number:     summary.Number,
				Result:     summary.buildResult(),
				Duration:   summary.Duration,
				Timestamp:  summary.Timestamp,
				URL:        summary.URL,
				Stages:     detail.stages(),
				Commits:    summary.commits(),
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := a.builds.SaveBuilds(ctx, builds); err != nil {
		return nil, provider.Persistence(err)
	}
	a.logger.Info("fetched builds", "pipeline_id", pipelineID, "count", len(builds))
	return builds, nil
}

// VerifyPipeline checks reachability and credentials without persisting.
// Any non-2xx response surfaces as an auth failure carrying the upstream
// status code and body.
func (a *Adapter) VerifyPipeline(ctx context.Context, url, username, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/wfapi/", nil)
	if err != nil {
		return provider.Unreachable(err)
	}
	req.SetBasicAuth(username, token)
	resp, err := a.client.Do(req)
	if err != nil {
		return provider.Unreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return provider.AuthFailed(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (a *Adapter) fetchSummaries(ctx context.Context, baseURL, username, token string) ([]buildSummary, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/json?tree=" + summaryTreeQuery
	var payload buildSummaryCollection
	if err := a.getJSON(ctx, url, username, token, &payload); err != nil {
		return nil, err
	}
	return payload.AllBuilds, nil
}

func (a *Adapter) fetchDetail(ctx context.Context, baseURL, username, token string, number int64) (*buildDetail, error) {
	url := fmt.Sprintf("%s/%d/wfapi/describe", strings.TrimRight(baseURL, "/"), number)
	var payload buildDetail
	if err := a.getJSON(ctx, url, username, token, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (a *Adapter) getJSON(ctx context.Context, url, username, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return provider.Unreachable(err)
	}
	req.SetBasicAuth(username, token)
	resp, err := a.client.Do(req)
	if err != nil {
		return provider.Unreachable(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return provider.AuthFailed(resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return provider.Protocol(fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Protocol(err)
	}
	return nil
}
