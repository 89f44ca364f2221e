package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelaug/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return cloneJob(job), ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) UpdateProgress(_ context.Context, id string, processed, failed int) error {
	_, err := s.update(id, func(job *domain.Job) {
		job.Processed = processed
		job.Failed = failed
	})
	return err
}

func (s *MemoryJobStore) Finish(_ context.Context, id, status, errMsg string, outputs []domain.JobOutput) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
		job.Error = errMsg
		job.Outputs = slices.Clone(outputs)
	})
}

func (s *MemoryJobStore) update(id string, fn func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	fn(&job)
	job.UpdatedAt = s.now()
	s.jobs[id] = job
	return cloneJob(job), nil
}

// cloneJob keeps callers from aliasing the stored slices.
func cloneJob(job domain.Job) domain.Job {
	job.Sources = slices.Clone(job.Sources)
	job.Augment.Operations = slices.Clone(job.Augment.Operations)
	job.Outputs = slices.Clone(job.Outputs)
	return job
}
