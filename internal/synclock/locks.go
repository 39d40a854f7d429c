// Package synclock implements the per-user write-path lock table the Sync
// Engine uses to serialize batch-add and reset. Check only reads it; its
// tie-break meta refresh runs without taking the lock.
package synclock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Info describes a held lock, returned by status queries.
type Info struct {
	UserKey   string
	Operation string
	LockID    string
	StartTime time.Time
}

type entry struct {
	operation string
	lockID    string
	startTime time.Time
}

// Table is a keyed mutex: at most one write-path operation may hold the
// lock for a given userKey at a time. Reads (Get, Len) take the same
// table-wide mutex as Acquire/Release, holding it only for a map lookup.
type Table struct {
	mu    sync.Mutex
	locks map[string]entry
	ttl   time.Duration
}

// New creates a lock table that force-reclaims locks older than ttl.
func New(ttl time.Duration) *Table {
	return &Table{
		locks: make(map[string]entry),
		ttl:   ttl,
	}
}

// Handle releases the lock it was returned from when Release is called.
type Handle struct {
	table   *Table
	userKey string
	lockID  string
}

// Acquire takes the lock for userKey. If a lock is already held and is
// younger than the table's TTL, ok is false. If the held lock is older
// than the TTL it is forcibly reclaimed (the caller should log this as a
// warning) and the new acquire succeeds.
func (t *Table) Acquire(userKey, operation string) (h *Handle, reclaimed bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if existing, held := t.locks[userKey]; held {
		if now.Sub(existing.startTime) < t.ttl {
			return nil, false, false
		}
		reclaimed = true
	}

	lockID := uuid.NewString()
	t.locks[userKey] = entry{operation: operation, lockID: lockID, startTime: now}
	return &Handle{table: t, userKey: userKey, lockID: lockID}, reclaimed, true
}

// Release drops the lock, but only if it still owns it (a stale lock may
// already have been reclaimed by someone else).
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.table.mu.Lock()
	defer h.table.mu.Unlock()

	if cur, ok := h.table.locks[h.userKey]; ok && cur.lockID == h.lockID {
		delete(h.table.locks, h.userKey)
	}
}

// ForceRelease unconditionally drops the lock for userKey, regardless of
// its age, returning the entry that was released. Used by the admin
// force-unlock route; normal callers should rely on Acquire's own TTL
// reclamation instead.
func (t *Table) ForceRelease(userKey string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.locks[userKey]
	if !ok {
		return Info{}, false
	}
	delete(t.locks, userKey)
	return Info{UserKey: userKey, Operation: e.operation, LockID: e.lockID, StartTime: e.startTime}, true
}

// Get returns the currently held lock for userKey, if any.
func (t *Table) Get(userKey string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.locks[userKey]
	if !ok {
		return Info{}, false
	}
	return Info{UserKey: userKey, Operation: e.operation, LockID: e.lockID, StartTime: e.startTime}, true
}

// Len reports the number of currently held locks.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// SweepStale force-releases any lock older than staleAge, returning the
// userKeys that were released. Used by the periodic maintenance task as a
// defensive backstop; per-operation acquire timeouts should normally
// reclaim locks first.
func (t *Table) SweepStale(staleAge time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var released []string
	for userKey, e := range t.locks {
		if now.Sub(e.startTime) > staleAge {
			delete(t.locks, userKey)
			released = append(released, userKey)
		}
	}
	return released
}
