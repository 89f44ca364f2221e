package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/pixelaug/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists jobs and their coarse progress counters. Live per-image
// progress goes through progress.Tracker instead.
type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	UpdateProgress(ctx context.Context, id string, processed, failed int) error
	// Finish records the terminal status and the per-output results.
	Finish(ctx context.Context, id, status, errMsg string, outputs []domain.JobOutput) (domain.Job, error)
}

// Open returns the Postgres store when dsn is set and the in-memory store
// otherwise, along with a close function for the chosen store.
func Open(ctx context.Context, dsn string) (JobStore, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
