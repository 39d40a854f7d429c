package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frkb/fingerprint-sync/internal/apierror"
	"github.com/frkb/fingerprint-sync/internal/bloomcache"
	"github.com/frkb/fingerprint-sync/internal/cache"
	"github.com/frkb/fingerprint-sync/internal/logger"
	"github.com/frkb/fingerprint-sync/internal/model"
	"github.com/frkb/fingerprint-sync/internal/synclock"
)

var fingerprintPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// SyncConfig tunes the engine's protocol and concurrency parameters.
type SyncConfig struct {
	BatchSize            int
	DiffSessionTTL       time.Duration
	DefaultPageSize      int
	MaxAnalyzeClientSize int
	LockStaleAge         time.Duration
	SessionMapMaxAge     time.Duration
	UserMetaCacheTTL     time.Duration
}

// Sync is the orchestrator exposing the core fingerprint-sync protocol. It
// owns the per-user sync-lock table; every other component it depends on
// is a narrow interface so the engine can be exercised against in-memory
// fakes.
type Sync struct {
	fingerprints model.FingerprintStore
	meta         model.MetaStore
	sessions     model.SessionStore
	users        model.UserStore
	bloom        *bloomcache.Cache
	cache        *cache.Cache
	locks        *synclock.Table
	cfg          SyncConfig
	logger       *logger.Logger

	mu             sync.Mutex
	activeSessions map[string]time.Time
}

func NewSync(
	fingerprints model.FingerprintStore,
	meta model.MetaStore,
	sessions model.SessionStore,
	users model.UserStore,
	bloom *bloomcache.Cache,
	ephemeralCache *cache.Cache,
	locks *synclock.Table,
	cfg SyncConfig,
	log *logger.Logger,
) *Sync {
	return &Sync{
		fingerprints:   fingerprints,
		meta:           meta,
		sessions:       sessions,
		users:          users,
		bloom:          bloom,
		cache:          ephemeralCache,
		locks:          locks,
		cfg:            cfg,
		logger:         log,
		activeSessions: make(map[string]time.Time),
	}
}

// Check is the fast-path sync decision (§4.6.1's decision table).
func (s *Sync) Check(ctx context.Context, p model.CheckParams) (model.CheckResult, error) {
	userKey, user, err := s.resolveUser(ctx, p.UserKey)
	if err != nil {
		return model.CheckResult{}, err
	}

	if _, held := s.locks.Get(userKey); held {
		meta, err := s.cachedMeta(ctx, userKey)
		if err != nil {
			return model.CheckResult{}, fmt.Errorf("failed to load user meta: %w", err)
		}
		return model.CheckResult{
			Reason:      "sync_in_progress",
			NeedSync:    false,
			ServerCount: meta.TotalCount,
			ServerHash:  meta.CollectionHash,
			LastSyncAt:  meta.LastSyncAt,
			Limit:       user.FingerprintLimit,
		}, nil
	}

	meta, err := s.cachedMeta(ctx, userKey)
	if err != nil {
		return model.CheckResult{}, fmt.Errorf("failed to load user meta: %w", err)
	}

	result := model.CheckResult{
		ServerCount: meta.TotalCount,
		ServerHash:  meta.CollectionHash,
		LastSyncAt:  meta.LastSyncAt,
		Limit:       user.FingerprintLimit,
	}

	switch {
	case meta.TotalCount == 0 && p.ClientCount == 0:
		result.Reason, result.NeedSync = "both_empty", false
	case meta.TotalCount == 0:
		result.Reason, result.NeedSync = "server_empty", true
	case p.ClientCount == 0:
		result.Reason, result.NeedSync = "client_empty", true
	case meta.TotalCount != p.ClientCount:
		result.Reason, result.NeedSync = "count_mismatch", true
	case meta.CollectionHash == p.ClientHash:
		result.Reason, result.NeedSync = "already_synced", false
	default:
		// Tie-break: cached meta may lag after concurrent inserts.
		refreshed, err := s.meta.Refresh(ctx, userKey)
		if err != nil {
			return model.CheckResult{}, fmt.Errorf("failed to refresh user meta: %w", err)
		}
		s.cache.ClearUserCache(userKey)
		result.ServerCount = refreshed.TotalCount
		result.ServerHash = refreshed.CollectionHash
		result.LastSyncAt = refreshed.LastSyncAt
		if refreshed.CollectionHash != p.ClientHash {
			result.Reason, result.NeedSync = "hash_mismatch", true
		} else {
			result.Reason, result.NeedSync = "already_synced", false
		}
	}

	return result, nil
}

// BidirectionalDiff handles one batch of the incremental round-trip diff.
// Read-only; does not acquire the sync lock.
func (s *Sync) BidirectionalDiff(ctx context.Context, p model.BidirectionalDiffParams) (model.BidirectionalDiffResult, error) {
	userKey, _, err := s.resolveUser(ctx, p.UserKey)
	if err != nil {
		return model.BidirectionalDiffResult{}, err
	}

	batch, err := normalizeFingerprints(p.ClientBatch)
	if err != nil {
		return model.BidirectionalDiffResult{}, err
	}

	bloomResult, err := s.bloom.BatchMightContain(ctx, userKey, batch)
	if err != nil {
		return model.BidirectionalDiffResult{}, fmt.Errorf("failed to probe bloom cache: %w", err)
	}

	present, err := s.fingerprints.Existing(ctx, userKey, batch)
	if err != nil {
		return model.BidirectionalDiffResult{}, fmt.Errorf("failed to query existing fingerprints: %w", err)
	}
	presentSet := toSet(present)

	result := model.BidirectionalDiffResult{
		BatchIndex: p.BatchIndex,
		BatchSize:  p.BatchSize,
	}
	for _, fp := range batch {
		if _, ok := presentSet[fp]; ok {
			result.ServerExistingFingerprints = append(result.ServerExistingFingerprints, fp)
		} else {
			result.ServerMissingFingerprints = append(result.ServerMissingFingerprints, fp)
		}
	}
	result.Counts = model.BatchCounts{
		Submitted:      len(batch),
		ServerMissing:  len(result.ServerMissingFingerprints),
		ServerExisting: len(result.ServerExistingFingerprints),
		MaybePresent:   bloomResult.MaybePresent,
		DefinitelyGone: bloomResult.DefinitelyGone,
	}

	if stats := s.bloom.Stats(userKey); stats.Configured {
		converted := convertBloomStats(stats)
		result.BloomFilterStats = &converted
	}

	// Batch 0 may open an advisory session for inspection only: no later
	// call fills it in (analyzeDifference always opens a fresh session),
	// and pullDiffPage reports it as having nothing to page (Q1).
	if p.BatchIndex == 0 {
		if err := s.maybeOpenAdvisorySession(ctx, userKey, &result, p); err != nil {
			s.logger.Warn("bidirectional diff: failed to open advisory session", "user_key", userKey, "error", err)
		}
	}

	return result, nil
}

func (s *Sync) maybeOpenAdvisorySession(ctx context.Context, userKey string, result *model.BidirectionalDiffResult, p model.BidirectionalDiffParams) error {
	serverCount, err := s.fingerprints.Count(ctx, userKey)
	if err != nil {
		return fmt.Errorf("failed to count fingerprints: %w", err)
	}

	estimated := p.EstimatedBatchCount
	if estimated <= 0 {
		estimated = 1
	}
	if serverCount-(len(p.ClientBatch)*estimated) <= 0 {
		return nil
	}

	sessionID := newDiffSessionID()
	now := time.Now()
	session := model.DiffSession{
		SessionID:   sessionID,
		UserKey:     userKey,
		Advisory:    true,
		TotalClient: len(p.ClientBatch),
		TotalServer: serverCount,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.DiffSessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return fmt.Errorf("failed to create advisory session: %w", err)
	}
	s.trackSession(sessionID)
	s.cache.Set(cache.DiffSessionKey(sessionID), session, s.cfg.DiffSessionTTL)
	result.SessionInfo = &model.SessionInfo{SessionID: sessionID, Advisory: true}
	return nil
}

// AnalyzeDifference computes a whole-set diff and persists a DiffSession
// for later pagination.
func (s *Sync) AnalyzeDifference(ctx context.Context, p model.AnalyzeDifferenceParams) (model.AnalyzeDifferenceResult, error) {
	userKey, _, err := s.resolveUser(ctx, p.UserKey)
	if err != nil {
		return model.AnalyzeDifferenceResult{}, err
	}

	if len(p.ClientFingerprints) > s.cfg.MaxAnalyzeClientSize {
		return model.AnalyzeDifferenceResult{}, apierror.NewRequestTooLarge(
			fmt.Sprintf("clientFingerprints exceeds maximum of %d", s.cfg.MaxAnalyzeClientSize))
	}

	clientSet, err := normalizeFingerprints(p.ClientFingerprints)
	if err != nil {
		return model.AnalyzeDifferenceResult{}, err
	}
	clientLookup := toSet(clientSet)

	var serverSet []string
	serverLookup := make(map[string]struct{})
	err = s.fingerprints.Enumerate(ctx, userKey, func(fp string) error {
		serverSet = append(serverSet, fp)
		serverLookup[fp] = struct{}{}
		return nil
	})
	if err != nil {
		return model.AnalyzeDifferenceResult{}, fmt.Errorf("failed to enumerate fingerprints: %w", err)
	}

	var missingInClient, missingInServer []string
	for _, fp := range serverSet {
		if _, ok := clientLookup[fp]; !ok {
			missingInClient = append(missingInClient, fp)
		}
	}
	for _, fp := range clientSet {
		if _, ok := serverLookup[fp]; !ok {
			missingInServer = append(missingInServer, fp)
		}
	}

	sessionID := newDiffSessionID()
	now := time.Now()
	session := model.DiffSession{
		SessionID:       sessionID,
		UserKey:         userKey,
		MissingInClient: missingInClient,
		MissingInServer: missingInServer,
		TotalClient:     len(clientSet),
		TotalServer:     len(serverSet),
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.DiffSessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return model.AnalyzeDifferenceResult{}, fmt.Errorf("failed to create diff session: %w", err)
	}
	s.trackSession(sessionID)
	s.cache.Set(cache.DiffSessionKey(sessionID), session, s.cfg.DiffSessionTTL)

	meta, err := s.meta.GetOrCreate(ctx, userKey)
	if err != nil {
		return model.AnalyzeDifferenceResult{}, fmt.Errorf("failed to load user meta: %w", err)
	}
	if len(missingInClient) == 0 && len(missingInServer) == 0 {
		// Best-effort: a failed refresh here is logged but not surfaced,
		// matching the reference behavior for this path (Q3).
		if refreshed, err := s.meta.Refresh(ctx, userKey); err != nil {
			s.logger.Warn("analyze diff: refresh after no-diff failed", "user_key", userKey, "error", err)
		} else {
			meta = refreshed
		}
		s.cache.ClearUserCache(userKey)
	}

	pageSize := s.cfg.DefaultPageSize
	return model.AnalyzeDifferenceResult{
		DiffSessionID: sessionID,
		DiffStats: model.DiffStats{
			ClientMissingCount: len(missingInClient),
			ServerMissingCount: len(missingInServer),
			TotalPages:         pageCount(len(missingInClient), pageSize),
			PageSize:           pageSize,
		},
		Recommendations: recommend(len(missingInClient), len(missingInServer)),
		ServerStats:     model.ServerStats{TotalCount: len(serverSet), LastSyncAt: meta.LastSyncAt},
	}, nil
}

// PullDiffPage returns one page of a session's missing-in-client set, in a
// stable sorted order (§4.6.4).
func (s *Sync) PullDiffPage(ctx context.Context, p model.PullDiffPageParams) (model.PullDiffPageResult, error) {
	userKey, _, err := s.resolveUser(ctx, p.UserKey)
	if err != nil {
		return model.PullDiffPageResult{}, err
	}

	session, err := s.cachedSession(ctx, p.DiffSessionID)
	if errors.Is(err, model.ErrNotFound) {
		return model.PullDiffPageResult{}, apierror.NewDiffSessionNotFound(p.DiffSessionID, int(s.cfg.DiffSessionTTL.Seconds()))
	}
	if err != nil {
		return model.PullDiffPageResult{}, fmt.Errorf("failed to find diff session: %w", err)
	}
	if session.UserKey != userKey {
		return model.PullDiffPageResult{}, apierror.NewDiffSessionUserMismatch(p.DiffSessionID)
	}

	// Q1: an advisory session (bidirectionalDiff's batch-0 open) never
	// computed a diff. Its empty MissingInClient is not a real
	// zero-length result, so it is reported as "nothing to page"
	// instead of a spurious single empty page.
	if session.Advisory {
		return model.PullDiffPageResult{
			SessionID:           session.SessionID,
			MissingFingerprints: nil,
			PageInfo: model.PageInfo{
				CurrentPage: 0,
				PageSize:    s.cfg.DefaultPageSize,
				TotalPages:  0,
				HasMore:     false,
				TotalCount:  0,
			},
		}, nil
	}

	sorted := session.SortedMissingInClient
	if len(sorted) != len(session.MissingInClient) {
		sorted = make([]string, len(session.MissingInClient))
		copy(sorted, session.MissingInClient)
		sort.Strings(sorted)
		if err := s.sessions.RecordSortedView(ctx, session.SessionID, sorted); err != nil {
			s.logger.Warn("pull diff page: failed to persist sorted view", "session_id", session.SessionID, "error", err)
		}
		session.SortedMissingInClient = sorted
		s.cache.Set(cache.DiffSessionKey(session.SessionID), session, time.Until(session.ExpiresAt))
	}

	pageSize := s.cfg.DefaultPageSize
	totalPages := pageCount(len(sorted), pageSize)

	// A real zero-length diff (every fingerprint already matched) reports
	// the same "nothing to page" shape as an advisory session, per
	// §4.6.3's ceil(clientMissingCount/pageSize) formula.
	if totalPages == 0 {
		return model.PullDiffPageResult{
			SessionID:           session.SessionID,
			MissingFingerprints: nil,
			PageInfo: model.PageInfo{
				CurrentPage: 0,
				PageSize:    pageSize,
				TotalPages:  0,
				HasMore:     false,
				TotalCount:  0,
			},
		}, nil
	}

	pageIndex := p.PageIndex
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageIndex > totalPages-1 {
		pageIndex = totalPages - 1
	}

	start := min(pageIndex*pageSize, len(sorted))
	end := min(start+pageSize, len(sorted))

	return model.PullDiffPageResult{
		SessionID:           session.SessionID,
		MissingFingerprints: sorted[start:end],
		PageInfo: model.PageInfo{
			CurrentPage: pageIndex,
			PageSize:    pageSize,
			TotalPages:  totalPages,
			HasMore:     pageIndex < totalPages-1,
			TotalCount:  len(sorted),
		},
	}, nil
}

// BatchAddFingerprints unions a batch into the server-side set (§4.6.5).
// Acquires the sync lock for the duration of the write.
func (s *Sync) BatchAddFingerprints(ctx context.Context, p model.BatchAddParams) (model.BatchAddResult, error) {
	userKey, user, err := s.resolveUser(ctx, p.UserKey)
	if err != nil {
		return model.BatchAddResult{}, err
	}

	if len(p.Fingerprints) > s.cfg.BatchSize {
		return model.BatchAddResult{}, apierror.NewValidationError(
			fmt.Sprintf("batch exceeds maximum size of %d", s.cfg.BatchSize),
			map[string]int{"batchSize": s.cfg.BatchSize, "submitted": len(p.Fingerprints)})
	}

	fingerprints, err := normalizeFingerprints(p.Fingerprints)
	if err != nil {
		return model.BatchAddResult{}, err
	}

	handle, reclaimed, ok := s.locks.Acquire(userKey, "batch_add")
	if !ok {
		return model.BatchAddResult{}, apierror.NewSyncInProgress(userKey)
	}
	if reclaimed {
		s.logger.Warn("sync lock force-reclaimed", "user_key", userKey, "operation", "batch_add")
	}
	defer handle.Release()

	started := time.Now()

	insertResult, err := s.fingerprints.InsertBatch(ctx, userKey, fingerprints)
	if err != nil {
		return model.BatchAddResult{}, fmt.Errorf("failed to insert fingerprint batch: %w", err)
	}

	if _, err := s.meta.ApplyDelta(ctx, userKey, insertResult.InsertedCount, time.Since(started)); err != nil {
		return model.BatchAddResult{}, fmt.Errorf("failed to apply sync delta: %w", err)
	}

	if insertResult.InsertedCount > 0 {
		s.bloom.AddFingerprints(ctx, userKey, fingerprints)
	}

	s.cache.ClearUserCache(userKey)

	result := model.BatchAddResult{
		AddedCount:     insertResult.InsertedCount,
		DuplicateCount: insertResult.DuplicateCount,
		TotalRequested: len(p.Fingerprints),
	}

	// Q2: enforcement happens post-storage; the insert is never rolled
	// back, preserving union monotonicity (I-invariant the spec calls
	// out explicitly). Only the response reports the policy trip.
	if user.FingerprintLimit > 0 {
		total, err := s.fingerprints.Count(ctx, userKey)
		if err != nil {
			s.logger.Warn("batch add: failed to recount fingerprints for limit check", "user_key", userKey, "error", err)
		} else if total > user.FingerprintLimit {
			s.logger.Warn("fingerprint limit exceeded", "user_key", userKey, "limit", user.FingerprintLimit, "total", total)
			return result, apierror.NewFingerprintLimitExceeded(userKey, user.FingerprintLimit, total)
		}
	}

	return result, nil
}

// ResetUserData wipes a user's sync state while preserving usage counters
// owned by the external User record (§4.6.6).
func (s *Sync) ResetUserData(ctx context.Context, p model.ResetParams) (model.ResetResult, error) {
	userKey, _, err := s.resolveUser(ctx, p.UserKey)
	if err != nil {
		return model.ResetResult{}, err
	}

	handle, reclaimed, ok := s.locks.Acquire(userKey, "reset")
	if !ok {
		return model.ResetResult{}, apierror.NewSyncInProgress(userKey)
	}
	if reclaimed {
		s.logger.Warn("sync lock force-reclaimed", "user_key", userKey, "operation", "reset")
	}
	defer handle.Release()

	beforeCount, err := s.fingerprints.Count(ctx, userKey)
	if err != nil {
		return model.ResetResult{}, fmt.Errorf("failed to count fingerprints before reset: %w", err)
	}

	clearedFingerprints, err := s.fingerprints.PurgeUser(ctx, userKey)
	if err != nil {
		return model.ResetResult{}, fmt.Errorf("failed to purge fingerprints: %w", err)
	}

	clearedMetas, err := s.meta.Delete(ctx, userKey)
	if err != nil {
		s.logger.Error("reset: failed to delete user meta", "user_key", userKey, "error", err)
	}

	deletedSessions, err := s.sessions.DeleteByUser(ctx, userKey)
	if err != nil {
		s.logger.Error("reset: failed to delete diff sessions", "user_key", userKey, "error", err)
	}

	s.bloom.Clear(userKey)
	s.cache.ClearUserCache(userKey)

	if p.Notes != "" {
		s.logger.Info("user data reset", "user_key", userKey, "notes", p.Notes)
	}

	return model.ResetResult{
		Before:              model.ResetCounts{FingerprintCount: beforeCount, MetaCount: 1},
		ClearedFingerprints: clearedFingerprints,
		ClearedMetas:        clearedMetas,
		DeletedSessions:     deletedSessions,
		ClearedCache:        true,
	}, nil
}

// GetSyncStatus is a side-effect-free combined status view for one user.
func (s *Sync) GetSyncStatus(ctx context.Context, userKeyRaw string) (model.SyncStatusResult, error) {
	userKey, _, err := s.resolveUser(ctx, userKeyRaw)
	if err != nil {
		return model.SyncStatusResult{}, err
	}

	meta, err := s.cachedMeta(ctx, userKey)
	if err != nil {
		return model.SyncStatusResult{}, fmt.Errorf("failed to load user meta: %w", err)
	}

	var lock *model.LockStatus
	if info, held := s.locks.Get(userKey); held {
		lock = &model.LockStatus{Operation: info.Operation, LockID: info.LockID, StartTime: info.StartTime}
	}

	bloomStats := convertBloomStats(s.bloom.Stats(userKey))

	return model.SyncStatusResult{UserKey: userKey, Lock: lock, Meta: meta, BloomStats: bloomStats}, nil
}

// GetServiceStats aggregates engine-wide counters; side-effect-free.
func (s *Sync) GetServiceStats(ctx context.Context) model.ServiceStatsResult {
	cacheStats := s.cache.Stats()
	hitRate := 0.0
	if total := cacheStats.Hits + cacheStats.Misses; total > 0 {
		hitRate = float64(cacheStats.Hits) / float64(total)
	}

	s.mu.Lock()
	activeSessions := len(s.activeSessions)
	s.mu.Unlock()

	return model.ServiceStatsResult{
		ActiveSessionCount: activeSessions,
		ActiveLockCount:    s.locks.Len(),
		CacheHitRate:       hitRate,
		CacheLen:           cacheStats.Len,
	}
}

// RunMaintenance is the periodic sweep described in §4.6.8. It is a
// defensive backstop: per-operation timeouts should normally reclaim
// stale locks first. Its DeleteExpired call is what physically removes
// expired diff sessions; liveness does not depend on it, since the
// Session Store's Find never returns an expired session.
func (s *Sync) RunMaintenance(ctx context.Context) {
	for _, userKey := range s.locks.SweepStale(s.cfg.LockStaleAge) {
		s.logger.Warn("periodic maintenance: force-released stale sync lock", "user_key", userKey)
	}

	if deleted, err := s.sessions.DeleteExpired(ctx, time.Now()); err != nil {
		s.logger.Error("periodic maintenance: failed to delete expired diff sessions", "error", err)
	} else if deleted > 0 {
		s.logger.Info("periodic maintenance: deleted expired diff sessions", "count", deleted)
	}

	s.mu.Lock()
	cutoff := time.Now().Add(-s.cfg.SessionMapMaxAge)
	for sessionID, createdAt := range s.activeSessions {
		if createdAt.Before(cutoff) {
			delete(s.activeSessions, sessionID)
		}
	}
	s.mu.Unlock()
}

func (s *Sync) trackSession(sessionID string) {
	s.mu.Lock()
	s.activeSessions[sessionID] = time.Now()
	s.mu.Unlock()
}

// cachedMeta consults the ephemeral cache before falling back to the Meta
// Store, populating the cache on a miss. Every writer of FingerprintRecord
// or UserMeta clears the entry via cache.ClearUserCache so a subsequent
// call here cannot serve a stale snapshot (§4.5).
func (s *Sync) cachedMeta(ctx context.Context, userKey string) (model.UserMeta, error) {
	key := cache.UserMetaKey(userKey)
	if v, ok := s.cache.Get(key); ok {
		if meta, ok := v.(model.UserMeta); ok {
			return meta, nil
		}
	}
	meta, err := s.meta.GetOrCreate(ctx, userKey)
	if err != nil {
		return model.UserMeta{}, err
	}
	s.cache.Set(key, meta, s.cfg.UserMetaCacheTTL)
	return meta, nil
}

// cachedSession consults the ephemeral cache for a session handle before
// falling back to the Session Store, populating the cache on a miss. A
// store-side not-found/expired error is returned unwrapped so callers can
// still errors.Is it against model.ErrNotFound.
func (s *Sync) cachedSession(ctx context.Context, sessionID string) (model.DiffSession, error) {
	key := cache.DiffSessionKey(sessionID)
	if v, ok := s.cache.Get(key); ok {
		if session, ok := v.(model.DiffSession); ok {
			return session, nil
		}
	}
	session, err := s.sessions.Find(ctx, sessionID)
	if err != nil {
		return model.DiffSession{}, err
	}
	s.cache.Set(key, session, time.Until(session.ExpiresAt))
	return session, nil
}

func (s *Sync) resolveUser(ctx context.Context, raw string) (string, model.User, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", model.User{}, apierror.NewInvalidUserKey(raw)
	}
	userKey := strings.ToLower(id.String())

	u, err := s.users.GetByKey(ctx, userKey)
	if errors.Is(err, model.ErrNotFound) {
		return "", model.User{}, apierror.NewUserKeyNotFound(userKey)
	}
	if err != nil {
		return "", model.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !u.IsActive {
		return "", model.User{}, apierror.NewUserKeyInactive(userKey)
	}
	return userKey, u, nil
}

func normalizeFingerprints(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, fp := range raw {
		lower := strings.ToLower(fp)
		if !fingerprintPattern.MatchString(lower) {
			return nil, apierror.NewInvalidFingerprintFormat(fp)
		}
		if _, dup := seen[lower]; dup {
			return nil, apierror.NewValidationError("duplicate fingerprint within batch", map[string]string{"fingerprint": lower})
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
	}
	return out, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func pageCount(total, pageSize int) int {
	if pageSize <= 0 {
		pageSize = 1
	}
	if total == 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func recommend(missingInClient, missingInServer int) model.Recommendation {
	strategy := "bidirectional"
	switch {
	case missingInClient == 0 && missingInServer > 0:
		strategy = "push_only"
	case missingInServer == 0 && missingInClient > 0:
		strategy = "pull_only"
	}
	priority := "normal"
	if missingInClient > 10000 || missingInServer > 10000 {
		priority = "high"
	}
	return model.Recommendation{Strategy: strategy, Priority: priority}
}

func convertBloomStats(s bloomcache.Stats) model.BloomFilterStats {
	return model.BloomFilterStats{
		Configured:        s.Configured,
		SizeBits:          s.SizeBits,
		HashFunctions:     s.HashFunctions,
		ElementCount:      s.ElementCount,
		EstimatedFPRate:   s.EstimatedFPRate,
		ApproxMemoryBytes: s.ApproxMemoryBytes,
	}
}

// newDiffSessionID allocates an opaque token matching ^diff_[a-z0-9_]+$.
func newDiffSessionID() string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)
	var suffix [6]byte
	_, _ = rand.Read(suffix[:])
	return "diff_" + ts + "_" + hex.EncodeToString(suffix[:])
}
