package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

// MemoryStore keeps jobs in a map. Jobs are copied in and out so callers
// never share a record with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*types.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*types.Job{}}
}

func (s *MemoryStore) Create(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) Update(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// ListExpired scans every job; the store only ever holds one retention
// window of jobs.
func (s *MemoryStore) ListExpired(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, j := range s.jobs {
		if j.CreatedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryStore) Close() error { return nil }

// cloneJob copies the record and its time pointers. Result is shared: it is
// written once and never mutated afterwards.
func cloneJob(j *types.Job) *types.Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}
