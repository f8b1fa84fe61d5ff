package job

import (
	"sort"
	"sync"

	"github.com/inquira/inquira/engine/core"
)

// Store holds job records. Implementations return value snapshots so
// callers never observe a record mid-mutation.
type Store interface {
	Get(id core.ID) (Job, bool)
	Put(job Job)
	List() []Job
	Delete(id core.ID)
	Len() int
}

// memoryStore is the process-lifetime default.
type memoryStore struct {
	mu   sync.RWMutex
	jobs map[core.ID]Job
}

// NewMemoryStore returns an empty in-memory job store.
func NewMemoryStore() Store {
	return &memoryStore{jobs: make(map[core.ID]Job)}
}

func (s *memoryStore) Get(id core.ID) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

func (s *memoryStore) Put(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// List returns jobs ordered by creation time, oldest first.
func (s *memoryStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

func (s *memoryStore) Delete(id core.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
