// Package progress tracks how many images of a running job have finished.
// The worker feeds it from the processor's per-image observer; the API reads
// snapshots while the job is still running.
package progress

import (
	"context"
	"errors"
	"math"
	"sync"
)

var ErrUnknownJob = errors.New("progress: unknown job")

type Snapshot struct {
	Total     int     `json:"total"`
	Processed int     `json:"processed"`
	Failed    int     `json:"failed"`
	Percent   float64 `json:"percent"`
}

func (s Snapshot) Succeeded() int { return s.Processed - s.Failed }

func (s Snapshot) Done() bool { return s.Total > 0 && s.Processed >= s.Total }

// NewSnapshot fills Percent, rounded to two decimals.
func NewSnapshot(total, processed, failed int) Snapshot {
	s := Snapshot{Total: total, Processed: processed, Failed: failed}
	if total > 0 {
		s.Percent = math.Round(float64(processed)/float64(total)*10000) / 100
	}
	return s
}

type Tracker interface {
	Start(ctx context.Context, jobID string, total int) error
	// Record counts one finished image. Failed images count as processed too.
	Record(ctx context.Context, jobID string, success bool) (Snapshot, error)
	Snapshot(ctx context.Context, jobID string) (Snapshot, bool, error)
}

type MemoryTracker struct {
	mu   sync.Mutex
	jobs map[string]Snapshot
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{jobs: make(map[string]Snapshot)}
}

func (t *MemoryTracker) Start(_ context.Context, jobID string, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = NewSnapshot(total, 0, 0)
	return nil
}

func (t *MemoryTracker) Record(_ context.Context, jobID string, success bool) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, ErrUnknownJob
	}
	failed := s.Failed
	if !success {
		failed++
	}
	s = NewSnapshot(s.Total, s.Processed+1, failed)
	t.jobs[jobID] = s
	return s, nil
}

func (t *MemoryTracker) Snapshot(_ context.Context, jobID string) (Snapshot, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[jobID]
	return s, ok, nil
}
