package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metrikhq/metrik/internal/domain"
	"github.com/metrikhq/metrik/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.BuildRepository      = (*Repository)(nil)
	_ repository.PipelineRepository   = (*Repository)(nil)
	_ repository.SyncRecordRepository = (*Repository)(nil)
)

// SaveBuilds upserts a batch of builds keyed by (pipeline_id, number).
// Stage and commit collections are stored as JSONB documents.
func (r *Repository) SaveBuilds(ctx context.Context, builds []domain.Build) error {
	if len(builds) == 0 {
		return nil
	}
	const query = `INSERT INTO builds (pipeline_id, number, result, duration, started_at, url, stages, commits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pipeline_id, number) DO UPDATE SET
			result = EXCLUDED.result,
			duration = EXCLUDED.duration,
			started_at = EXCLUDED.started_at,
			url = EXCLUDED.url,
			stages = EXCLUDED.stages,
			commits = EXCLUDED.commits`
	batch := &pgx.Batch{}
	for _, build := range builds {
		stages, err := json.Marshal(build.Stages)
		if err != nil {
			return fmt.Errorf("encode stages for build %d: %w", build.Number, err)
		}
		commits, err := json.Marshal(build.Commits)
		if err != nil {
			return fmt.Errorf("encode commits for build %d: %w", build.Number, err)
		}
		batch.Queue(query, build.PipelineID, build.Number, string(build.Result), build.Duration, build.Timestamp, build.URL, stages, commits)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range builds {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert build: %w", err)
		}
	}
	return nil
}

// GetAllBuilds returns every stored build for a pipeline ordered by number.
func (r *Repository) GetAllBuilds(ctx context.Context, pipelineID string) ([]domain.Build, error) {
	const query = `SELECT pipeline_id, number, result, duration, started_at, url, stages, commits
		FROM builds WHERE pipeline_id = $1 ORDER BY number`
	rows, err := r.pool.Query(ctx, query, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	builds := make([]domain.Build, 0)
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *build)
	}
	return builds, rows.Err()
}

// GetLastBuild returns the build with the highest number for a pipeline.
func (r *Repository) GetLastBuild(ctx context.Context, pipelineID string) (*domain.Build, error) {
	const query = `SELECT pipeline_id, number, result, duration, started_at, url, stages, commits
		FROM builds WHERE pipeline_id = $1 ORDER BY number DESC LIMIT 1`
	rows, err := r.pool.Query(ctx, query, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, repository.ErrNotFound
	}
	return scanBuild(rows)
}

func scanBuild(row pgx.Row) (*domain.Build, error) {
	var (
		b       domain.Build
		result  string
		stages  []byte
		commits []byte
	)
	if err := row.Scan(&b.PipelineID, &b.Number, &result, &b.Duration, &b.Timestamp, &b.URL, &stages, &commits); err != nil {
		return nil, err
	}
	b.Result = domain.BuildResult(result)
	if err := json.Unmarshal(stages, &b.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	if err := json.Unmarshal(commits, &b.Commits); err != nil {
		return nil, fmt.Errorf("decode commits: %w", err)
	}
	return &b, nil
}

// CreatePipeline inserts a pipeline configuration.
func (r *Repository) CreatePipeline(ctx context.Context, pipeline *domain.PipelineConfig) error {
	const query = `INSERT INTO pipelines (id, project_id, name, type, url, username, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query, pipeline.ID, pipeline.ProjectID, pipeline.Name, string(pipeline.Type),
		pipeline.URL, pipeline.Username, pipeline.Token, pipeline.CreatedAt, pipeline.UpdatedAt)
	return err
}

// UpdatePipeline rewrites a pipeline configuration in place.
func (r *Repository) UpdatePipeline(ctx context.Context, pipeline *domain.PipelineConfig) error {
	const query = `UPDATE pipelines SET name = $3, type = $4, url = $5, username = $6, token = $7, updated_at = $8
		WHERE id = $1 AND project_id = $2`
	tag, err := r.pool.Exec(ctx, query, pipeline.ID, pipeline.ProjectID, pipeline.Name, string(pipeline.Type),
		pipeline.URL, pipeline.Username, pipeline.Token, pipeline.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePipeline removes a pipeline configuration.
func (r *Repository) DeletePipeline(ctx context.Context, projectID, pipelineID string) error {
	const query = `DELETE FROM pipelines WHERE id = $1 AND project_id = $2`
	tag, err := r.pool.Exec(ctx, query, pipelineID, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetPipeline fetches one pipeline configuration.
func (r *Repository) GetPipeline(ctx context.Context, projectID, pipelineID string) (*domain.PipelineConfig, error) {
	const query = `SELECT id, project_id, name, type, url, username, token, created_at, updated_at
		FROM pipelines WHERE id = $1 AND project_id = $2`
	row := r.pool.QueryRow(ctx, query, pipelineID, projectID)
	return scanPipeline(row)
}

// ListPipelinesByProject returns a project's pipeline configurations.
func (r *Repository) ListPipelinesByProject(ctx context.Context, projectID string) ([]domain.PipelineConfig, error) {
	const query = `SELECT id, project_id, name, type, url, username, token, created_at, updated_at
		FROM pipelines WHERE project_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pipelines := make([]domain.PipelineConfig, 0)
	for rows.Next() {
		pipeline, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *pipeline)
	}
	return pipelines, rows.Err()
}

func scanPipeline(row pgx.Row) (*domain.PipelineConfig, error) {
	var (
		p     domain.PipelineConfig
		ptype string
	)
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &ptype, &p.URL, &p.Username, &p.Token, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	p.Type = domain.PipelineType(ptype)
	return &p, nil
}

// GetSyncRecord returns the last-successful-sync record for a project.
func (r *Repository) GetSyncRecord(ctx context.Context, projectID string) (*domain.SyncRecord, error) {
	const query = `SELECT project_id, synced_at FROM sync_records WHERE project_id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var rec domain.SyncRecord
	if err := row.Scan(&rec.ProjectID, &rec.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateSyncTime upserts the per-project sync timestamp. The GREATEST guard
// keeps the stored value monotonically non-decreasing.
func (r *Repository) UpdateSyncTime(ctx context.Context, projectID string, timestamp int64) error {
	const query = `INSERT INTO sync_records (project_id, synced_at)
		VALUES ($1, $2)
		ON CONFLICT (project_id) DO UPDATE SET synced_at = GREATEST(sync_records.synced_at, EXCLUDED.synced_at)`
	_, err := r.pool.Exec(ctx, query, projectID, timestamp)
	return err
}
