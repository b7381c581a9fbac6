// Package cache keeps the last accepted health snapshot so fallback can serve
// real stale data instead of synthetic data whenever possible.
package cache

import (
	"sync"
	"time"

	"sourcewatch/models"
)

// Options configures snapshot retention.
type Options struct {
	// TTL is how long a stored snapshot is considered fresh.
	TTL time.Duration

	// StaleWindow extends servability past TTL; within it Peek still returns
	// the snapshot but flags it stale. Zero means stale entries are dropped.
	StaleWindow time.Duration
}

// Hooks observe store activity for metrics.
type Hooks struct {
	OnStore      func()
	OnServeFresh func()
	OnServeStale func()
}

type entry struct {
	snapshot models.HealthSnapshot
	storedAt time.Time
	origin   string
}

// SnapshotStore holds the single last-known-good snapshot.
type SnapshotStore struct {
	mu    sync.RWMutex
	cur   *entry
	opts  Options
	hooks Hooks
	now   func() time.Time
}

// New creates a snapshot store. A zero TTL means snapshots never expire.
func New(opts Options, hooks Hooks) *SnapshotStore {
	return &SnapshotStore{opts: opts, hooks: hooks, now: time.Now}
}

// Store replaces the retained snapshot wholesale.
func (s *SnapshotStore) Store(snapshot models.HealthSnapshot, origin string) {
	s.mu.Lock()
	s.cur = &entry{snapshot: snapshot, storedAt: s.now(), origin: origin}
	s.mu.Unlock()
	if s.hooks.OnStore != nil {
		s.hooks.OnStore()
	}
}

// Peek returns the retained snapshot if it is still servable. The stale flag
// is true when the snapshot outlived its TTL but is inside the stale window.
func (s *SnapshotStore) Peek() (snapshot models.HealthSnapshot, storedAt time.Time, stale bool, ok bool) {
	s.mu.RLock()
	e := s.cur
	s.mu.RUnlock()
	if e == nil {
		return models.HealthSnapshot{}, time.Time{}, false, false
	}
	if s.opts.TTL <= 0 {
		if s.hooks.OnServeFresh != nil {
			s.hooks.OnServeFresh()
		}
		return e.snapshot, e.storedAt, false, true
	}

	age := s.now().Sub(e.storedAt)
	switch {
	case age <= s.opts.TTL:
		if s.hooks.OnServeFresh != nil {
			s.hooks.OnServeFresh()
		}
		return e.snapshot, e.storedAt, false, true
	case age <= s.opts.TTL+s.opts.StaleWindow:
		if s.hooks.OnServeStale != nil {
			s.hooks.OnServeStale()
		}
		return e.snapshot, e.storedAt, true, true
	default:
		return models.HealthSnapshot{}, time.Time{}, false, false
	}
}

// Origin reports which channel stored the current snapshot, or "".
func (s *SnapshotStore) Origin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.origin
}

// Clear drops the retained snapshot.
func (s *SnapshotStore) Clear() {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()
}
