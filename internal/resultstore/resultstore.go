// Package resultstore holds per-Task state for client polling: an
// in-memory map with TTL eviction as the source of truth, optionally
// mirrored to Redis so a restarted worker process (or a second worker
// behind a shared queue) can still answer status queries for Tasks it
// didn't itself run.
package resultstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"litqa/internal/model"
)

type entry struct {
	task      *model.Task
	expiresAt time.Time
}

// Store is the in-memory Result Store. Zero value is not usable; use New.
type Store struct {
	mu     sync.RWMutex
	tasks  map[string]*entry
	ttl    time.Duration
	mirror *RedisMirror
}

// New builds a Store evicting entries ttl after their last Put, optionally
// mirroring writes to mirror (pass nil to disable).
func New(ttl time.Duration, mirror *RedisMirror) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{tasks: make(map[string]*entry), ttl: ttl, mirror: mirror}
}

// Put stores (or overwrites) a Task snapshot and resets its TTL. The Redis
// mirror write, if configured, happens in the background and never fails
// the caller.
func (s *Store) Put(ctx context.Context, task *model.Task) {
	s.mu.Lock()
	s.tasks[task.ID] = &entry{task: task, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	if s.mirror != nil {
		go func() {
			if err := s.mirror.Set(context.Background(), task, s.ttl); err != nil {
				log.Warn().Err(err).Str("task_id", task.ID).Msg("resultstore: redis mirror write failed")
			}
		}()
	}
}

// Get returns the Task state for id. It checks the in-memory map first;
// on a miss (expired locally, or this process never saw the Task) it
// falls back to the Redis mirror when configured.
func (s *Store) Get(ctx context.Context, id string) (*model.Task, bool) {
	s.mu.RLock()
	e, ok := s.tasks[id]
	s.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.task, true
	}

	if s.mirror != nil {
		if task, found, err := s.mirror.Get(ctx, id); err == nil && found {
			s.mu.Lock()
			s.tasks[id] = &entry{task: task, expiresAt: time.Now().Add(s.ttl)}
			s.mu.Unlock()
			return task, true
		}
	}
	return nil, false
}

// Delete removes a Task from the in-memory map. It does not touch the
// Redis mirror, which expires on its own TTL.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// EvictExpired removes locally-expired entries; call periodically (e.g.
// from a supervisor background loop) to bound memory for a long-running
// worker process.
func (s *Store) EvictExpired() int {
	now := time.Now()
	removed := 0
	s.mu.Lock()
	for id, e := range s.tasks {
		if now.After(e.expiresAt) {
			delete(s.tasks, id)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// RunEvictionLoop evicts expired entries every interval until ctx is
// cancelled. Intended to run as a background goroutine from cmd/litqa-worker.
func (s *Store) RunEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictExpired(); n > 0 {
				log.Debug().Int("evicted", n).Msg("resultstore: eviction sweep")
			}
		}
	}
}
