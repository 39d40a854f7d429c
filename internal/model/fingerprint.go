package model

import (
	"context"
	"time"
)

// FingerprintStore is the authoritative per-user fingerprint set.
type FingerprintStore interface {
	// Count returns the number of fingerprints stored for userKey.
	Count(ctx context.Context, userKey string) (int, error)
	// Existing returns the subset of candidates already present for userKey.
	// Candidates are assumed pre-validated, lowercased, and deduplicated by
	// the caller.
	Existing(ctx context.Context, userKey string, candidates []string) ([]string, error)
	// Enumerate streams every fingerprint stored for userKey, in no
	// particular order, invoking fn for each one. Iteration stops at the
	// first error fn returns.
	Enumerate(ctx context.Context, userKey string, fn func(fingerprint string) error) error
	// InsertBatch inserts fingerprints for userKey, reporting how many were
	// newly inserted versus already present (in storage or within the same
	// batch). It never partially fails on a duplicate.
	InsertBatch(ctx context.Context, userKey string, fingerprints []string) (InsertResult, error)
	// PurgeUser deletes every fingerprint stored for userKey.
	PurgeUser(ctx context.Context, userKey string) (int, error)
}

// InsertResult reports the outcome of a batch insert.
type InsertResult struct {
	InsertedCount  int
	DuplicateCount int
}

// FingerprintRecord is a single stored fingerprint.
type FingerprintRecord struct {
	UserKey     string
	Fingerprint string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
