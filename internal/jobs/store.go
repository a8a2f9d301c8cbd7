package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists jobs.
type Store interface {
	// Create saves a new job.
	Create(ctx context.Context, job *Job) error

	// Get returns a job by ID or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update replaces a stored job.
	Update(ctx context.Context, job *Job) error

	// List returns up to limit jobs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Job, error)

	// Close releases the store's resources.
	Close() error
}

// MemoryStore implements Store in memory. Finished jobs are dropped once
// they are older than the retention period. Suitable for single-instance
// deployments that do not need history across restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewMemoryStore creates an in-memory store and starts its cleanup loop.
func NewMemoryStore(retention, cleanupInterval time.Duration) *MemoryStore {
	store := &MemoryStore{
		jobs:      make(map[string]*Job),
		retention: retention,
		stopChan:  make(chan struct{}),
	}

	go store.cleanupLoop(cleanupInterval)

	return store
}

// Create saves a new job.
func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a job by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update replaces a stored job.
func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// List returns jobs newest first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		list = append(list, job.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Close stops the background cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopChan:
			return
		}
	}
}

// cleanup removes finished jobs that finished before now minus retention.
func (s *MemoryStore) cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := now.Add(-s.retention)
	for id, job := range s.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}
