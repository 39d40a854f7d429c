package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/frkb/fingerprint-sync/internal/model"
)

// MetaRepository implements model.MetaStore against the user_meta table.
type MetaRepository struct {
	conn *Connection
}

func NewMetaRepository(conn *Connection) *MetaRepository {
	return &MetaRepository{conn: conn}
}

func (r *MetaRepository) GetOrCreate(ctx context.Context, userKey string) (model.UserMeta, error) {
	meta, err := r.scanOne(ctx,
		`SELECT user_key, collection_hash, total_count, last_sync_at, total_syncs,
		        last_sync_added, last_sync_duration_ms, bloom_object_key, bloom_checksum
		 FROM user_meta WHERE user_key = $1`, userKey)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.UserMeta{}, err
	}

	_, err = r.conn.Pool.Exec(ctx,
		`INSERT INTO user_meta (user_key, collection_hash, total_count)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (user_key) DO NOTHING`,
		userKey, model.EmptySetHash,
	)
	if err != nil {
		return model.UserMeta{}, fmt.Errorf("failed to create user meta: %w", err)
	}

	return r.scanOne(ctx,
		`SELECT user_key, collection_hash, total_count, last_sync_at, total_syncs,
		        last_sync_added, last_sync_duration_ms, bloom_object_key, bloom_checksum
		 FROM user_meta WHERE user_key = $1`, userKey)
}

func (r *MetaRepository) Refresh(ctx context.Context, userKey string) (model.UserMeta, error) {
	rows, err := r.conn.Pool.Query(ctx, `SELECT fingerprint FROM fingerprints WHERE user_key = $1`, userKey)
	if err != nil {
		return model.UserMeta{}, fmt.Errorf("failed to load fingerprints for refresh: %w", err)
	}

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return model.UserMeta{}, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	rowErr := rows.Err()
	rows.Close()
	if rowErr != nil {
		return model.UserMeta{}, fmt.Errorf("failed to iterate fingerprints: %w", rowErr)
	}

	hash := collectionHash(fps)

	_, err = r.conn.Pool.Exec(ctx,
		`INSERT INTO user_meta (user_key, collection_hash, total_count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_key) DO UPDATE SET
		   collection_hash = EXCLUDED.collection_hash,
		   total_count = EXCLUDED.total_count,
		   updated_at = NOW()`,
		userKey, hash, len(fps),
	)
	if err != nil {
		return model.UserMeta{}, fmt.Errorf("failed to persist refreshed meta: %w", err)
	}

	return r.scanOne(ctx,
		`SELECT user_key, collection_hash, total_count, last_sync_at, total_syncs,
		        last_sync_added, last_sync_duration_ms, bloom_object_key, bloom_checksum
		 FROM user_meta WHERE user_key = $1`, userKey)
}

func (r *MetaRepository) ApplyDelta(ctx context.Context, userKey string, added int, duration time.Duration) (model.UserMeta, error) {
	_, err := r.conn.Pool.Exec(ctx,
		`INSERT INTO user_meta (user_key, collection_hash, total_syncs, last_sync_added, last_sync_duration_ms, last_sync_at)
		 VALUES ($1, $2, 1, $3, $4, NOW())
		 ON CONFLICT (user_key) DO UPDATE SET
		   total_syncs = user_meta.total_syncs + 1,
		   last_sync_added = EXCLUDED.last_sync_added,
		   last_sync_duration_ms = EXCLUDED.last_sync_duration_ms,
		   last_sync_at = NOW(),
		   updated_at = NOW()`,
		userKey, model.EmptySetHash, added, duration.Milliseconds(),
	)
	if err != nil {
		return model.UserMeta{}, fmt.Errorf("failed to apply sync delta: %w", err)
	}

	return r.Refresh(ctx, userKey)
}

func (r *MetaRepository) Delete(ctx context.Context, userKey string) (int, error) {
	tag, err := r.conn.Pool.Exec(ctx, `DELETE FROM user_meta WHERE user_key = $1`, userKey)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user meta: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *MetaRepository) SetBloomSnapshot(ctx context.Context, userKey, objectKey string, checksum uint32) error {
	_, err := r.conn.Pool.Exec(ctx,
		`UPDATE user_meta SET bloom_object_key = $2, bloom_checksum = $3, updated_at = NOW() WHERE user_key = $1`,
		userKey, objectKey, int64(checksum),
	)
	if err != nil {
		return fmt.Errorf("failed to record bloom snapshot: %w", err)
	}
	return nil
}

func (r *MetaRepository) BloomSnapshot(ctx context.Context, userKey string) (string, uint32, bool, error) {
	var objectKey *string
	var checksum *int64
	err := r.conn.Pool.QueryRow(ctx,
		`SELECT bloom_object_key, bloom_checksum FROM user_meta WHERE user_key = $1`, userKey,
	).Scan(&objectKey, &checksum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, false, nil
		}
		return "", 0, false, fmt.Errorf("failed to load bloom snapshot reference: %w", err)
	}
	if objectKey == nil || checksum == nil {
		return "", 0, false, nil
	}
	return *objectKey, uint32(*checksum), true, nil
}

func (r *MetaRepository) scanOne(ctx context.Context, query string, args ...any) (model.UserMeta, error) {
	var m model.UserMeta
	var lastSyncDurationMs int64
	var bloomObjectKey *string
	var bloomChecksum *int64

	err := r.conn.Pool.QueryRow(ctx, query, args...).Scan(
		&m.UserKey, &m.CollectionHash, &m.TotalCount, &m.LastSyncAt, &m.Stats.TotalSyncs,
		&m.Stats.LastSyncAdded, &lastSyncDurationMs, &bloomObjectKey, &bloomChecksum,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserMeta{}, model.ErrNotFound
		}
		return model.UserMeta{}, fmt.Errorf("failed to scan user meta: %w", err)
	}

	m.Stats.LastSyncDuration = time.Duration(lastSyncDurationMs) * time.Millisecond
	if bloomObjectKey != nil {
		m.BloomObjectKey = *bloomObjectKey
	}
	if bloomChecksum != nil {
		m.BloomChecksum = uint32(*bloomChecksum)
	}

	return m, nil
}

// collectionHash computes SHA-256 over the sorted, concatenated fingerprint
// set, matching the wire-protocol definition of a collection hash.
func collectionHash(fps []string) string {
	sorted := make([]string, len(fps))
	copy(sorted, fps)
	sort.Strings(sorted)

	h := sha256.New()
	for _, fp := range sorted {
		h.Write([]byte(fp))
	}
	return hex.EncodeToString(h.Sum(nil))
}
