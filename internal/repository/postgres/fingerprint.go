package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/frkb/fingerprint-sync/internal/model"
)

// FingerprintRepository implements model.FingerprintStore against the
// fingerprints table.
type FingerprintRepository struct {
	conn *Connection
}

func NewFingerprintRepository(conn *Connection) *FingerprintRepository {
	return &FingerprintRepository{conn: conn}
}

func (r *FingerprintRepository) Count(ctx context.Context, userKey string) (int, error) {
	var count int
	err := r.conn.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM fingerprints WHERE user_key = $1`, userKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return count, nil
}

func (r *FingerprintRepository) Existing(ctx context.Context, userKey string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	rows, err := r.conn.Pool.Query(ctx,
		`SELECT fingerprint FROM fingerprints WHERE user_key = $1 AND fingerprint = ANY($2)`,
		userKey, candidates,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing fingerprints: %w", err)
	}
	defer rows.Close()

	existing := make([]string, 0, len(candidates))
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		existing = append(existing, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate existing fingerprints: %w", err)
	}

	return existing, nil
}

func (r *FingerprintRepository) Enumerate(ctx context.Context, userKey string, fn func(fingerprint string) error) error {
	rows, err := r.conn.Pool.Query(ctx,
		`SELECT fingerprint FROM fingerprints WHERE user_key = $1`, userKey,
	)
	if err != nil {
		return fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		if err := fn(fp); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate fingerprints: %w", err)
	}

	return nil
}

func (r *FingerprintRepository) InsertBatch(ctx context.Context, userKey string, fingerprints []string) (model.InsertResult, error) {
	if len(fingerprints) == 0 {
		return model.InsertResult{}, nil
	}

	batch := &pgx.Batch{}
	for _, fp := range fingerprints {
		batch.Queue(
			`INSERT INTO fingerprints (user_key, fingerprint) VALUES ($1, $2)
			 ON CONFLICT (user_key, fingerprint) DO NOTHING`,
			userKey, fp,
		)
	}

	br := r.conn.Pool.SendBatch(ctx, batch)
	defer br.Close()

	var result model.InsertResult
	for range fingerprints {
		tag, err := br.Exec()
		if err != nil {
			return model.InsertResult{}, fmt.Errorf("failed to insert fingerprint batch: %w", err)
		}
		if tag.RowsAffected() > 0 {
			result.InsertedCount++
		} else {
			result.DuplicateCount++
		}
	}

	return result, nil
}

func (r *FingerprintRepository) PurgeUser(ctx context.Context, userKey string) (int, error) {
	tag, err := r.conn.Pool.Exec(ctx, `DELETE FROM fingerprints WHERE user_key = $1`, userKey)
	if err != nil {
		return 0, fmt.Errorf("failed to purge fingerprints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
