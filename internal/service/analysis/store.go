package analysis

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// runStore is an in-memory, TTL-evicted map of completed runs. Nothing is
// persisted; a run that ages out is gone.
type runStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
	ttl  time.Duration
	done chan struct{}
	once sync.Once
}

func newRunStore(ttl time.Duration) *runStore {
	s := &runStore{
		runs: make(map[uuid.UUID]*Run),
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *runStore) put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *runStore) get(id uuid.UUID) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	if s.expired(run, time.Now()) {
		return nil, false
	}
	return run, true
}

func (s *runStore) delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	return true
}

func (s *runStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *runStore) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *runStore) expired(run *Run, now time.Time) bool {
	return s.ttl > 0 && now.Sub(run.CompletedAt) > s.ttl
}

func (s *runStore) janitor() {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(s.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired(time.Now())
		case <-s.done:
			return
		}
	}
}

func (s *runStore) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, run := range s.runs {
		if s.expired(run, now) {
			delete(s.runs, id)
		}
	}
}
