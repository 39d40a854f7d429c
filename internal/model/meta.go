package model

import (
	"context"
	"time"
)

// EmptySetHash is the collection hash of a user with zero fingerprints:
// SHA-256 of the empty string.
const EmptySetHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// MetaStore persists one aggregate record per user.
type MetaStore interface {
	// GetOrCreate returns the existing meta row for userKey, creating a
	// zero-state row without enumerating the Fingerprint Store if none
	// exists yet.
	GetOrCreate(ctx context.Context, userKey string) (UserMeta, error)
	// Refresh recomputes totalCount and collectionHash from the
	// Fingerprint Store and writes them back.
	Refresh(ctx context.Context, userKey string) (UserMeta, error)
	// ApplyDelta records a completed sync (added count, duration) and
	// performs a Refresh in the same logical step.
	ApplyDelta(ctx context.Context, userKey string, added int, duration time.Duration) (UserMeta, error)
	// Delete removes the meta row for userKey.
	Delete(ctx context.Context, userKey string) (int, error)
	// SetBloomSnapshot records where a serialized bloom filter for userKey
	// was persisted. The Meta Store treats key/checksum as an opaque blob
	// reference; it never interprets them.
	SetBloomSnapshot(ctx context.Context, userKey, objectKey string, checksum uint32) error
	// BloomSnapshot returns the last recorded bloom snapshot reference, if
	// any.
	BloomSnapshot(ctx context.Context, userKey string) (objectKey string, checksum uint32, ok bool, err error)
}

// SyncStats tracks cumulative sync activity for a user.
type SyncStats struct {
	TotalSyncs       int
	LastSyncAdded    int
	LastSyncDuration time.Duration
}

// UserMeta is the durable aggregate record for one user.
type UserMeta struct {
	UserKey        string
	TotalCount     int
	CollectionHash string
	LastSyncAt     *time.Time
	Stats          SyncStats
	BloomObjectKey string
	BloomChecksum  uint32
}
