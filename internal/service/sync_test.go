package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/frkb/fingerprint-sync/internal/apierror"
	"github.com/frkb/fingerprint-sync/internal/bloomcache"
	"github.com/frkb/fingerprint-sync/internal/cache"
	"github.com/frkb/fingerprint-sync/internal/model"
	"github.com/frkb/fingerprint-sync/internal/synclock"
	"github.com/frkb/fingerprint-sync/internal/testutil"
)

// fakeFingerprintStore is an in-memory model.FingerprintStore.
type fakeFingerprintStore struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

func newFakeFingerprintStore() *fakeFingerprintStore {
	return &fakeFingerprintStore{sets: make(map[string]map[string]struct{})}
}

func (f *fakeFingerprintStore) Count(_ context.Context, userKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets[userKey]), nil
}

func (f *fakeFingerprintStore) Existing(_ context.Context, userKey string, candidates []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range candidates {
		if _, ok := f.sets[userKey][c]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeFingerprintStore) Enumerate(_ context.Context, userKey string, fn func(string) error) error {
	f.mu.Lock()
	set := f.sets[userKey]
	items := make([]string, 0, len(set))
	for fp := range set {
		items = append(items, fp)
	}
	f.mu.Unlock()
	sort.Strings(items)
	for _, fp := range items {
		if err := fn(fp); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeFingerprintStore) InsertBatch(_ context.Context, userKey string, fingerprints []string) (model.InsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[userKey]
	if !ok {
		set = make(map[string]struct{})
		f.sets[userKey] = set
	}
	var result model.InsertResult
	for _, fp := range fingerprints {
		if _, exists := set[fp]; exists {
			result.DuplicateCount++
			continue
		}
		set[fp] = struct{}{}
		result.InsertedCount++
	}
	return result, nil
}

func (f *fakeFingerprintStore) PurgeUser(_ context.Context, userKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.sets[userKey])
	delete(f.sets, userKey)
	return n, nil
}

// fakeMetaStore is an in-memory model.MetaStore.
type fakeMetaStore struct {
	mu   sync.Mutex
	rows map[string]model.UserMeta
	fps  *fakeFingerprintStore
}

func newFakeMetaStore(fps *fakeFingerprintStore) *fakeMetaStore {
	return &fakeMetaStore{rows: make(map[string]model.UserMeta), fps: fps}
}

func (m *fakeMetaStore) GetOrCreate(ctx context.Context, userKey string) (model.UserMeta, error) {
	m.mu.Lock()
	row, ok := m.rows[userKey]
	m.mu.Unlock()
	if ok {
		return row, nil
	}
	row = model.UserMeta{UserKey: userKey, CollectionHash: model.EmptySetHash}
	m.mu.Lock()
	m.rows[userKey] = row
	m.mu.Unlock()
	return row, nil
}

func (m *fakeMetaStore) Refresh(ctx context.Context, userKey string) (model.UserMeta, error) {
	var fps []string
	_ = m.fps.Enumerate(ctx, userKey, func(fp string) error {
		fps = append(fps, fp)
		return nil
	})
	sort.Strings(fps)
	sum := sha256.Sum256([]byte(strings.Join(fps, "")))

	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[userKey]
	row.UserKey = userKey
	row.TotalCount = len(fps)
	row.CollectionHash = hex.EncodeToString(sum[:])
	m.rows[userKey] = row
	return row, nil
}

func (m *fakeMetaStore) ApplyDelta(ctx context.Context, userKey string, added int, duration time.Duration) (model.UserMeta, error) {
	refreshed, err := m.Refresh(ctx, userKey)
	if err != nil {
		return model.UserMeta{}, err
	}
	now := time.Now()
	m.mu.Lock()
	row := m.rows[userKey]
	row.LastSyncAt = &now
	row.Stats.TotalSyncs++
	row.Stats.LastSyncAdded = added
	row.Stats.LastSyncDuration = duration
	row.TotalCount = refreshed.TotalCount
	row.CollectionHash = refreshed.CollectionHash
	m.rows[userKey] = row
	m.mu.Unlock()
	return row, nil
}

func (m *fakeMetaStore) Delete(_ context.Context, userKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[userKey]; !ok {
		return 0, nil
	}
	delete(m.rows, userKey)
	return 1, nil
}

func (m *fakeMetaStore) SetBloomSnapshot(_ context.Context, userKey, objectKey string, checksum uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[userKey]
	row.BloomObjectKey = objectKey
	row.BloomChecksum = checksum
	m.rows[userKey] = row
	return nil
}

func (m *fakeMetaStore) BloomSnapshot(_ context.Context, userKey string) (string, uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[userKey]
	if !ok || row.BloomObjectKey == "" {
		return "", 0, false, nil
	}
	return row.BloomObjectKey, row.BloomChecksum, true, nil
}

// fakeSessionStore is an in-memory model.SessionStore.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]model.DiffSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]model.DiffSession)}
}

func (s *fakeSessionStore) Create(_ context.Context, session model.DiffSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return nil
}

func (s *fakeSessionStore) Find(_ context.Context, sessionID string) (model.DiffSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || time.Now().After(session.ExpiresAt) {
		return model.DiffSession{}, model.ErrNotFound
	}
	return session, nil
}

func (s *fakeSessionStore) RecordSortedView(_ context.Context, sessionID string, sorted []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return model.ErrNotFound
	}
	session.SortedMissingInClient = sorted
	s.sessions[sessionID] = session
	return nil
}

func (s *fakeSessionStore) DeleteByUser(_ context.Context, userKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, session := range s.sessions {
		if session.UserKey == userKey {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeSessionStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// fakeUserStore is an in-memory model.UserStore.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]model.User)}
}

func (u *fakeUserStore) add(user model.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.UserKey] = user
}

func (u *fakeUserStore) GetByKey(_ context.Context, userKey string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[userKey]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return user, nil
}

// fakeSnapshotStore is an in-memory bloomcache.SnapshotStore.
type fakeSnapshotStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{blobs: make(map[string][]byte)}
}

func (s *fakeSnapshotStore) Save(_ context.Context, userKey string, data []byte) (string, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "bloom/" + userKey + ".bin"
	s.blobs[key] = data
	return key, 0, nil
}

func (s *fakeSnapshotStore) Load(_ context.Context, objectKey string, _ uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[objectKey], nil
}

type harness struct {
	sync     *Sync
	fps      *fakeFingerprintStore
	meta     *fakeMetaStore
	users    *fakeUserStore
	sessions *fakeSessionStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fps := newFakeFingerprintStore()
	meta := newFakeMetaStore(fps)
	sessions := newFakeSessionStore()
	users := newFakeUserStore()

	bloom := bloomcache.New(bloomcache.Config{
		Enabled:           true,
		FalsePositiveRate: 0.01,
		MinCapacity:       16,
		BasicMultiplier:   1.2,
	}, fps, newFakeSnapshotStore(), meta, testutil.MakeNoopLogger())

	engine := NewSync(
		fps, meta, sessions, users,
		bloom,
		cache.New(1000, true),
		synclock.New(5*time.Minute),
		SyncConfig{
			BatchSize:            1000,
			DiffSessionTTL:       5 * time.Minute,
			DefaultPageSize:      2,
			MaxAnalyzeClientSize: 100000,
			LockStaleAge:         10 * time.Minute,
			SessionMapMaxAge:     time.Hour,
			UserMetaCacheTTL:     time.Minute,
		},
		testutil.MakeNoopLogger(),
	)

	return &harness{sync: engine, fps: fps, meta: meta, users: users, sessions: sessions}
}

func newActiveUser(h *harness, limit int) string {
	key := strings.ToLower(uuid.New().String())
	h.users.add(model.User{UserKey: key, IsActive: true, FingerprintLimit: limit})
	return key
}

func fp(n byte) string {
	b := make([]byte, 32)
	b[31] = n
	return hex.EncodeToString(b)
}

func TestSync_Check(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)

	result, err := h.sync.Check(context.Background(), model.CheckParams{UserKey: userKey, ClientCount: 0, ClientHash: model.EmptySetHash})
	require.NoError(t, err)
	require.Equal(t, "both_empty", result.Reason)
	require.False(t, result.NeedSync)

	_, err = h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(1), fp(2)}})
	require.NoError(t, err)

	result, err = h.sync.Check(context.Background(), model.CheckParams{UserKey: userKey, ClientCount: 0, ClientHash: model.EmptySetHash})
	require.NoError(t, err)
	require.Equal(t, "client_empty", result.Reason)
	require.True(t, result.NeedSync)

	result, err = h.sync.Check(context.Background(), model.CheckParams{UserKey: userKey, ClientCount: 2, ClientHash: result.ServerHash})
	require.NoError(t, err)
	require.Equal(t, "already_synced", result.Reason)
	require.False(t, result.NeedSync)

	result, err = h.sync.Check(context.Background(), model.CheckParams{UserKey: userKey, ClientCount: 2, ClientHash: "deadbeef"})
	require.NoError(t, err)
	require.Equal(t, "hash_mismatch", result.Reason)
	require.True(t, result.NeedSync)
}

func TestSync_Check_InvalidAndInactiveUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.sync.Check(context.Background(), model.CheckParams{UserKey: "not-a-uuid"})
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindInvalidUserKey, apiErr.Kind)

	inactive := strings.ToLower(uuid.New().String())
	h.users.add(model.User{UserKey: inactive, IsActive: false})
	_, err = h.sync.Check(context.Background(), model.CheckParams{UserKey: inactive})
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindUserKeyInactive, apiErr.Kind)
}

func TestSync_BatchAddFingerprints_DedupAndLimit(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 3)

	result, err := h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(1), fp(2)}})
	require.NoError(t, err)
	require.Equal(t, 2, result.AddedCount)
	require.Equal(t, 0, result.DuplicateCount)

	result, err = h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(1), fp(3)}})
	require.NoError(t, err)
	require.Equal(t, 1, result.AddedCount)
	require.Equal(t, 1, result.DuplicateCount)

	// Crosses fingerprintLimit=3: insert commits (monotonicity preserved)
	// but the call itself returns the typed limit error (Q2).
	_, err = h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(4)}})
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindFingerprintLimitExceeded, apiErr.Kind)

	count, err := h.fps.Count(context.Background(), userKey)
	require.NoError(t, err)
	require.Equal(t, 4, count, "insert must not be rolled back after tripping the limit")
}

func TestSync_BatchAddFingerprints_RejectsMalformedAndDuplicateWithinBatch(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)

	_, err := h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{"not-hex"}})
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindInvalidFingerprintFormat, apiErr.Kind)

	_, err = h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(1), fp(1)}})
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindValidationError, apiErr.Kind)
}

func TestSync_BatchAddFingerprints_LockContention(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)

	handle, _, ok := h.sync.locks.Acquire(userKey, "reset")
	require.True(t, ok)
	defer handle.Release()

	_, err := h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(1)}})
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindSyncInProgress, apiErr.Kind)
}

func TestSync_AnalyzeDifferenceAndPullDiffPage(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 1000)

	_, err := h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(1), fp(2), fp(3)}})
	require.NoError(t, err)

	analyzeResult, err := h.sync.AnalyzeDifference(context.Background(), model.AnalyzeDifferenceParams{
		UserKey:            userKey,
		ClientFingerprints: []string{fp(2), fp(9)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, analyzeResult.DiffStats.ClientMissingCount) // fp(1), fp(3) missing on client
	require.Equal(t, 1, analyzeResult.DiffStats.ServerMissingCount) // fp(9) missing on server
	require.Equal(t, "bidirectional", analyzeResult.Recommendations.Strategy)

	page, err := h.sync.PullDiffPage(context.Background(), model.PullDiffPageParams{
		UserKey:       userKey,
		DiffSessionID: analyzeResult.DiffSessionID,
		PageIndex:     0,
	})
	require.NoError(t, err)
	require.Len(t, page.MissingFingerprints, 2)
	require.Equal(t, 1, page.PageInfo.TotalPages)
	require.False(t, page.PageInfo.HasMore)

	// Sorted order must be stable across repeated pulls.
	page2, err := h.sync.PullDiffPage(context.Background(), model.PullDiffPageParams{
		UserKey:       userKey,
		DiffSessionID: analyzeResult.DiffSessionID,
		PageIndex:     0,
	})
	require.NoError(t, err)
	require.Equal(t, page.MissingFingerprints, page2.MissingFingerprints)
}

func TestSync_PullDiffPage_UnknownSessionAndUserMismatch(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)
	other := newActiveUser(h, 100)

	_, err := h.sync.PullDiffPage(context.Background(), model.PullDiffPageParams{UserKey: userKey, DiffSessionID: "diff_missing"})
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindDiffSessionNotFound, apiErr.Kind)

	analyzeResult, err := h.sync.AnalyzeDifference(context.Background(), model.AnalyzeDifferenceParams{UserKey: userKey, ClientFingerprints: nil})
	require.NoError(t, err)

	_, err = h.sync.PullDiffPage(context.Background(), model.PullDiffPageParams{UserKey: other, DiffSessionID: analyzeResult.DiffSessionID})
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.KindDiffSessionUserMismatch, apiErr.Kind)
}

func TestSync_BidirectionalDiff_AdvisorySessionIsNotARealDiff(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)

	// Seed enough server fingerprints that the heuristic opens a session.
	var fps []string
	for i := byte(1); i <= 10; i++ {
		fps = append(fps, fp(i))
	}
	_, err := h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: fps})
	require.NoError(t, err)

	result, err := h.sync.BidirectionalDiff(context.Background(), model.BidirectionalDiffParams{
		UserKey:             userKey,
		ClientBatch:         []string{fp(1)},
		BatchIndex:          0,
		BatchSize:           1,
		EstimatedBatchCount: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, result.SessionInfo)
	require.True(t, result.SessionInfo.Advisory)

	page, err := h.sync.PullDiffPage(context.Background(), model.PullDiffPageParams{
		UserKey:       userKey,
		DiffSessionID: result.SessionInfo.SessionID,
	})
	require.NoError(t, err)
	require.Equal(t, 0, page.PageInfo.TotalPages)
	require.Empty(t, page.MissingFingerprints)
}

func TestSync_ResetUserData(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)

	_, err := h.sync.BatchAddFingerprints(context.Background(), model.BatchAddParams{UserKey: userKey, Fingerprints: []string{fp(1), fp(2)}})
	require.NoError(t, err)

	result, err := h.sync.ResetUserData(context.Background(), model.ResetParams{UserKey: userKey, Notes: "test reset"})
	require.NoError(t, err)
	require.Equal(t, 2, result.Before.FingerprintCount)
	require.Equal(t, 2, result.ClearedFingerprints)
	require.True(t, result.ClearedCache)

	count, err := h.fps.Count(context.Background(), userKey)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestSync_GetServiceStats(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)

	_, err := h.sync.Check(context.Background(), model.CheckParams{UserKey: userKey})
	require.NoError(t, err)

	stats := h.sync.GetServiceStats(context.Background())
	require.GreaterOrEqual(t, stats.CacheLen, 0)
	require.Equal(t, 0, stats.ActiveLockCount)
}

func TestSync_RunMaintenance_SweepsStaleLocks(t *testing.T) {
	h := newHarness(t)
	userKey := newActiveUser(h, 100)

	h.sync.cfg.LockStaleAge = time.Millisecond
	_, _, ok := h.sync.locks.Acquire(userKey, "batch_add")
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	h.sync.RunMaintenance(context.Background())

	_, held := h.sync.locks.Get(userKey)
	require.False(t, held)
}
