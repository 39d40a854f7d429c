package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/frkb/fingerprint-sync/internal/model"
)

// UserRepository implements model.UserStore against the user_keys table.
type UserRepository struct {
	conn *Connection
}

func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

func (r *UserRepository) GetByKey(ctx context.Context, userKey string) (model.User, error) {
	var u model.User
	err := r.conn.Pool.QueryRow(ctx,
		`SELECT user_key, is_active, fingerprint_limit, total_requests, total_syncs
		 FROM user_keys WHERE user_key = $1`, userKey,
	).Scan(&u.UserKey, &u.IsActive, &u.FingerprintLimit, &u.TotalRequests, &u.TotalSyncs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}
