//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/frkb/fingerprint-sync/internal/model"
	repo "github.com/frkb/fingerprint-sync/internal/repository/postgres"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "fingerprint_sync_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/fingerprint_sync_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func seedUser(t *testing.T, ctx context.Context, conn *repo.Connection, userKey string) {
	t.Helper()
	_, err := conn.Pool.Exec(ctx,
		`INSERT INTO user_keys (user_key, is_active, fingerprint_limit) VALUES ($1, TRUE, 200000)`,
		userKey)
	require.NoError(t, err)
}

func TestRepositories_FingerprintLifecycle(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	userKey := uuid.NewString()
	seedUser(t, ctx, conn, userKey)

	fr := repo.NewFingerprintRepository(conn)
	ur := repo.NewUserRepository(conn)

	u, err := ur.GetByKey(ctx, userKey)
	require.NoError(t, err)
	require.True(t, u.IsActive)

	fp1 := fmt.Sprintf("%064x", 1)
	fp2 := fmt.Sprintf("%064x", 2)

	result, err := fr.InsertBatch(ctx, userKey, []string{fp1, fp2, fp1})
	require.NoError(t, err)
	require.Equal(t, 2, result.InsertedCount)

	result2, err := fr.InsertBatch(ctx, userKey, []string{fp1, fp2})
	require.NoError(t, err)
	require.Equal(t, 0, result2.InsertedCount)
	require.Equal(t, 2, result2.DuplicateCount)

	count, err := fr.Count(ctx, userKey)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	existing, err := fr.Existing(ctx, userKey, []string{fp1, fmt.Sprintf("%064x", 99)})
	require.NoError(t, err)
	require.Equal(t, []string{fp1}, existing)

	var enumerated []string
	require.NoError(t, fr.Enumerate(ctx, userKey, func(fp string) error {
		enumerated = append(enumerated, fp)
		return nil
	}))
	require.Len(t, enumerated, 2)

	purged, err := fr.PurgeUser(ctx, userKey)
	require.NoError(t, err)
	require.Equal(t, 2, purged)
}

func TestRepositories_MetaRefreshAndDelta(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	userKey := uuid.NewString()
	seedUser(t, ctx, conn, userKey)

	fr := repo.NewFingerprintRepository(conn)
	mr := repo.NewMetaRepository(conn)

	meta, err := mr.GetOrCreate(ctx, userKey)
	require.NoError(t, err)
	require.Equal(t, model.EmptySetHash, meta.CollectionHash)
	require.Equal(t, 0, meta.TotalCount)

	_, err = fr.InsertBatch(ctx, userKey, []string{fmt.Sprintf("%064x", 1), fmt.Sprintf("%064x", 2)})
	require.NoError(t, err)

	refreshed, err := mr.Refresh(ctx, userKey)
	require.NoError(t, err)
	require.Equal(t, 2, refreshed.TotalCount)
	require.NotEqual(t, model.EmptySetHash, refreshed.CollectionHash)

	delta, err := mr.ApplyDelta(ctx, userKey, 2, 15*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, delta.Stats.TotalSyncs)
	require.Equal(t, 2, delta.Stats.LastSyncAdded)

	require.NoError(t, mr.SetBloomSnapshot(ctx, userKey, "bloom/"+userKey+".bin", 12345))
	key, checksum, ok, err := mr.BloomSnapshot(ctx, userKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bloom/"+userKey+".bin", key)
	require.Equal(t, uint32(12345), checksum)

	deleted, err := mr.Delete(ctx, userKey)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestRepositories_SessionExpiryAndSort(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	userKey := uuid.NewString()
	seedUser(t, ctx, conn, userKey)

	sr := repo.NewSessionRepository(conn)

	live := model.DiffSession{
		SessionID:       "diff_live",
		UserKey:         userKey,
		MissingInClient: []string{"b", "a", "c"},
		TotalClient:     3,
		TotalServer:     5,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}
	require.NoError(t, sr.Create(ctx, live))

	expired := model.DiffSession{
		SessionID: "diff_expired",
		UserKey:   userKey,
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, sr.Create(ctx, expired))

	found, err := sr.Find(ctx, live.SessionID)
	require.NoError(t, err)
	require.Equal(t, live.UserKey, found.UserKey)

	_, err = sr.Find(ctx, expired.SessionID)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, sr.RecordSortedView(ctx, live.SessionID, []string{"a", "b", "c"}))
	found, err = sr.Find(ctx, live.SessionID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, found.SortedMissingInClient)

	deletedCount, err := sr.DeleteByUser(ctx, userKey)
	require.NoError(t, err)
	require.GreaterOrEqual(t, deletedCount, 1)
}
