package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status of a solving job.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is the externally visible record of one solving run.
type Job struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	StartURL   string    `json:"start_url"`
	Status     Status    `json:"status"`
	Rounds     int       `json:"rounds"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// ErrJobNotFound indicates an unknown job id.
var ErrJobNotFound = fmt.Errorf("job not found")

// Store persists job records.
type Store interface {
	Save(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

// memoryStore keeps jobs in process memory. The default backend.
type memoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryStore creates an in-memory job store.
func NewMemoryStore() Store {
	return &memoryStore{jobs: make(map[string]Job)}
}

func (s *memoryStore) Save(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}
