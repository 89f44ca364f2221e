package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/pixelaug/internal/domain"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS augment_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	sources JSONB NOT NULL,
	augment JSONB NOT NULL,
	total INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	outputs JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE augment_jobs ADD COLUMN IF NOT EXISTS outputs JSONB NOT NULL DEFAULT '[]';
CREATE INDEX IF NOT EXISTS augment_jobs_status_idx ON augment_jobs (status);
`

const selectJobSQL = `
SELECT id, status, source_type, webhook_url, sources, augment, total, processed, failed, error, outputs, created_at, updated_at
FROM augment_jobs
WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure augment_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	sourcesJSON, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("marshal job sources: %w", err)
	}
	augmentJSON, err := json.Marshal(job.Augment)
	if err != nil {
		return fmt.Errorf("marshal job augment spec: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO augment_jobs (id, status, source_type, webhook_url, sources, augment, total, processed, failed, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		sourcesJSON,
		augmentJSON,
		job.Total,
		job.Processed,
		job.Failed,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var (
		job         domain.Job
		sourcesJSON []byte
		augmentJSON []byte
		outputsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, selectJobSQL, id).Scan(
		&job.ID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&sourcesJSON,
		&augmentJSON,
		&job.Total,
		&job.Processed,
		&job.Failed,
		&job.Error,
		&outputsJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(sourcesJSON, &job.Sources); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job sources: %w", err)
	}
	if err := json.Unmarshal(augmentJSON, &job.Augment); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job augment spec: %w", err)
	}
	if err := json.Unmarshal(outputsJSON, &job.Outputs); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job outputs: %w", err)
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id, "update job status",
		`UPDATE augment_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) UpdateProgress(ctx context.Context, id string, processed, failed int) error {
	_, err := s.exec(ctx, id, "update job progress",
		`UPDATE augment_jobs SET processed = $1, failed = $2, updated_at = $3 WHERE id = $4`,
		processed, failed, time.Now().UTC(), id,
	)
	return err
}

func (s *PostgresJobStore) Finish(ctx context.Context, id, status, errMsg string, outputs []domain.JobOutput) (domain.Job, error) {
	if outputs == nil {
		outputs = []domain.JobOutput{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job outputs: %w", err)
	}
	return s.exec(ctx, id, "finish job",
		`UPDATE augment_jobs SET status = $1, error = $2, outputs = $3, updated_at = $4 WHERE id = $5`,
		status, errMsg, outputsJSON, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) exec(ctx context.Context, id, stage, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", stage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}
