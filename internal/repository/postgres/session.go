package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/frkb/fingerprint-sync/internal/model"
)

// SessionRepository implements model.SessionStore against the
// diff_sessions table.
type SessionRepository struct {
	conn *Connection
}

func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

func (r *SessionRepository) Create(ctx context.Context, session model.DiffSession) error {
	_, err := r.conn.Pool.Exec(ctx,
		`INSERT INTO diff_sessions (session_id, user_key, advisory, missing_in_client, missing_in_server,
		                            sorted_missing_in_client, total_client, total_server, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.SessionID, session.UserKey, session.Advisory, session.MissingInClient, session.MissingInServer,
		session.SortedMissingInClient, session.TotalClient, session.TotalServer,
		session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create diff session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Find(ctx context.Context, sessionID string) (model.DiffSession, error) {
	var s model.DiffSession
	err := r.conn.Pool.QueryRow(ctx,
		`SELECT session_id, user_key, advisory, missing_in_client, missing_in_server,
		        sorted_missing_in_client, total_client, total_server, created_at, expires_at
		 FROM diff_sessions WHERE session_id = $1 AND expires_at > NOW()`,
		sessionID,
	).Scan(
		&s.SessionID, &s.UserKey, &s.Advisory, &s.MissingInClient, &s.MissingInServer,
		&s.SortedMissingInClient, &s.TotalClient, &s.TotalServer, &s.CreatedAt, &s.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DiffSession{}, model.ErrNotFound
		}
		return model.DiffSession{}, fmt.Errorf("failed to find diff session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) RecordSortedView(ctx context.Context, sessionID string, sorted []string) error {
	_, err := r.conn.Pool.Exec(ctx,
		`UPDATE diff_sessions SET sorted_missing_in_client = $2 WHERE session_id = $1`,
		sessionID, sorted,
	)
	if err != nil {
		return fmt.Errorf("failed to record sorted session view: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userKey string) (int, error) {
	tag, err := r.conn.Pool.Exec(ctx, `DELETE FROM diff_sessions WHERE user_key = $1`, userKey)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user diff sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.conn.Pool.Exec(ctx, `DELETE FROM diff_sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired diff sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
