package model

import (
	"context"
	"time"
)

// SessionStore persists diff sessions with automatic expiry.
type SessionStore interface {
	// Create persists session. ExpiresAt must already be set by the
	// caller (CreatedAt + TTL).
	Create(ctx context.Context, session DiffSession) error
	// Find returns the session for sessionID, or ErrNotFound if it does
	// not exist or has expired. An expired session must never be
	// returned.
	Find(ctx context.Context, sessionID string) (DiffSession, error)
	// RecordSortedView upserts the precomputed sorted projection of
	// MissingInClient. Best-effort: callers must not fail on error.
	RecordSortedView(ctx context.Context, sessionID string, sorted []string) error
	// DeleteByUser removes every session belonging to userKey.
	DeleteByUser(ctx context.Context, userKey string) (int, error)
	// DeleteExpired physically reclaims sessions whose ExpiresAt has
	// passed. Used by the periodic maintenance task.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// DiffSession is a short-lived, user-scoped snapshot of a set-difference
// computation, enabling paginated delivery of MissingInClient.
//
// Advisory marks a session opened by bidirectionalDiff's batch-0 step
// rather than analyzeDifference: it carries TotalClient/TotalServer for
// inspection but never computed MissingInClient, so pullDiffPage must
// not treat its empty set as a real zero-length diff (see Q1 in the
// grounding ledger).
type DiffSession struct {
	SessionID             string
	UserKey               string
	Advisory              bool
	MissingInClient       []string
	MissingInServer       []string
	SortedMissingInClient []string
	TotalClient           int
	TotalServer           int
	CreatedAt             time.Time
	ExpiresAt             time.Time
}
