package http

import (
	"net/http"
	"time"

	"github.com/frkb/fingerprint-sync/internal/logger"
	"github.com/frkb/fingerprint-sync/internal/model"
	"github.com/frkb/fingerprint-sync/internal/service"
	"github.com/frkb/fingerprint-sync/internal/synclock"
)

// SyncHandler adapts the Sync Engine to the JSON-over-HTTP surface
// described in §6. It never embeds protocol decisions itself; every
// branch it takes mirrors a field already present on the engine's
// request/response types.
type SyncHandler struct {
	sync   *service.Sync
	locks  *synclock.Table
	cache  cacheClearer
	logger *logger.Logger
}

// cacheClearer is the subset of the ephemeral cache the admin cache-reset
// route needs.
type cacheClearer interface {
	ClearUserCache(userKey string)
}

func NewSyncHandler(sync *service.Sync, locks *synclock.Table, cache cacheClearer, log *logger.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, locks: locks, cache: cache, logger: log}
}

func (h *SyncHandler) Check(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, malformedBody(err))
		return
	}

	result, err := h.sync.Check(r.Context(), model.CheckParams{
		UserKey:     req.UserKey,
		ClientCount: req.Count,
		ClientHash:  req.Hash,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Success:     true,
		NeedSync:    result.NeedSync,
		Reason:      result.Reason,
		ServerCount: result.ServerCount,
		ServerHash:  result.ServerHash,
		LastSyncAt:  result.LastSyncAt,
		Limit:       result.Limit,
		Performance: perf(started),
		Timestamp:   time.Now(),
	})
}

func (h *SyncHandler) BidirectionalDiff(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req bidirectionalDiffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, malformedBody(err))
		return
	}

	result, err := h.sync.BidirectionalDiff(r.Context(), model.BidirectionalDiffParams{
		UserKey:     req.UserKey,
		ClientBatch: req.ClientFingerprints,
		BatchIndex:  req.BatchIndex,
		BatchSize:   req.BatchSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := bidirectionalDiffResponse{
		Success:                    true,
		BatchIndex:                 result.BatchIndex,
		BatchSize:                  result.BatchSize,
		ServerMissingFingerprints:  result.ServerMissingFingerprints,
		ServerExistingFingerprints: result.ServerExistingFingerprints,
		Counts: batchCountsDTO{
			Submitted:      result.Counts.Submitted,
			ServerMissing:  result.Counts.ServerMissing,
			ServerExisting: result.Counts.ServerExisting,
			MaybePresent:   result.Counts.MaybePresent,
			DefinitelyGone: result.Counts.DefinitelyGone,
		},
		Performance: perf(started),
		Timestamp:   time.Now(),
	}
	if result.SessionInfo != nil {
		resp.SessionInfo = &sessionInfoDTO{SessionID: result.SessionInfo.SessionID, Advisory: result.SessionInfo.Advisory}
	}
	if result.BloomFilterStats != nil {
		resp.BloomFilterStats = bloomStatsDTO(*result.BloomFilterStats)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SyncHandler) Add(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req addRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, malformedBody(err))
		return
	}

	result, err := h.sync.BatchAddFingerprints(r.Context(), model.BatchAddParams{
		UserKey:      req.UserKey,
		Fingerprints: req.AddFingerprints,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, addResponse{
		Success:        true,
		AddedCount:     result.AddedCount,
		DuplicateCount: result.DuplicateCount,
		TotalRequested: result.TotalRequested,
		BatchResult:    batchResultDTO{InsertedCount: result.AddedCount, DuplicateCount: result.DuplicateCount},
		Performance:    perf(started),
		Timestamp:      time.Now(),
	})
}

func (h *SyncHandler) AnalyzeDiff(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req analyzeDiffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, malformedBody(err))
		return
	}

	result, err := h.sync.AnalyzeDifference(r.Context(), model.AnalyzeDifferenceParams{
		UserKey:            req.UserKey,
		ClientFingerprints: req.ClientFingerprints,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeDiffResponse{
		Success:       true,
		DiffSessionID: result.DiffSessionID,
		DiffStats: diffStatsDTO{
			ClientMissingCount: result.DiffStats.ClientMissingCount,
			ServerMissingCount: result.DiffStats.ServerMissingCount,
			TotalPages:         result.DiffStats.TotalPages,
			PageSize:           result.DiffStats.PageSize,
		},
		ServerStats: serverStatsDTO{
			TotalCount: result.ServerStats.TotalCount,
			LastSyncAt: result.ServerStats.LastSyncAt,
		},
		Recommendations: recommendationDTO{
			Strategy: result.Recommendations.Strategy,
			Priority: result.Recommendations.Priority,
		},
		Performance: perf(started),
		Timestamp:   time.Now(),
	})
}

func (h *SyncHandler) PullDiffPage(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req pullDiffPageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, malformedBody(err))
		return
	}

	result, err := h.sync.PullDiffPage(r.Context(), model.PullDiffPageParams{
		UserKey:       req.UserKey,
		DiffSessionID: req.DiffSessionID,
		PageIndex:     req.PageIndex,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pullDiffPageResponse{
		Success:             true,
		SessionID:           result.SessionID,
		MissingFingerprints: result.MissingFingerprints,
		PageInfo: pageInfoDTO{
			CurrentPage: result.PageInfo.CurrentPage,
			PageSize:    result.PageInfo.PageSize,
			TotalPages:  result.PageInfo.TotalPages,
			HasMore:     result.PageInfo.HasMore,
			TotalCount:  result.PageInfo.TotalCount,
		},
		Performance: perf(started),
		Timestamp:   time.Now(),
	})
}

func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, malformedBody(err))
		return
	}

	result, err := h.sync.ResetUserData(r.Context(), model.ResetParams{UserKey: req.UserKey, Notes: req.Notes})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resetResponse{
		Success: true,
		Message: "user data reset",
		Before: resetBeforeDTO{
			FingerprintCount: result.Before.FingerprintCount,
			MetaCount:        result.Before.MetaCount,
		},
		Result: resetResultDTO{
			ClearedFingerprints: result.ClearedFingerprints,
			ClearedMetas:        result.ClearedMetas,
			DeletedSessions:     result.DeletedSessions,
			ClearedCache:        result.ClearedCache,
		},
		Timestamp: time.Now(),
	})
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userKey := r.URL.Query().Get("userKey")

	result, err := h.sync.GetSyncStatus(r.Context(), userKey)
	if err != nil {
		writeError(w, err)
		return
	}

	var lock *syncLockDTO
	if result.Lock != nil {
		lock = &syncLockDTO{Operation: result.Lock.Operation, LockID: result.Lock.LockID, StartTime: result.Lock.StartTime}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Success:    true,
		UserKey:    result.UserKey,
		SyncStatus: lock,
		UserMeta: userMetaDTO{
			TotalCount:     result.Meta.TotalCount,
			CollectionHash: result.Meta.CollectionHash,
			LastSyncAt:     result.Meta.LastSyncAt,
			Stats: syncStatsDTO{
				TotalSyncs:       result.Meta.Stats.TotalSyncs,
				LastSyncAdded:    result.Meta.Stats.LastSyncAdded,
				LastSyncDuration: result.Meta.Stats.LastSyncDuration.Milliseconds(),
			},
		},
		BloomFilterStats: *bloomStatsDTO(result.BloomStats),
		Timestamp:        time.Now(),
	})
}

func (h *SyncHandler) ServiceStats(w http.ResponseWriter, r *http.Request) {
	stats := h.sync.GetServiceStats(r.Context())

	writeJSON(w, http.StatusOK, serviceStatsResponse{
		Success:            true,
		ActiveSessionCount: stats.ActiveSessionCount,
		ActiveLockCount:    stats.ActiveLockCount,
		CacheHitRate:       stats.CacheHitRate,
		CacheLen:           stats.CacheLen,
		Timestamp:          time.Now(),
	})
}

// ReleaseLock is the admin force-unlock route: `DELETE /lock/:userKey`.
func (h *SyncHandler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	userKey := r.PathValue("userKey")

	if info, released := h.locks.ForceRelease(userKey); released {
		h.logger.Warn("admin force-released sync lock", "user_key", userKey, "operation", info.Operation)
	}

	writeJSON(w, http.StatusOK, lockReleaseResponse{Success: true, UserKey: userKey})
}

// ResetCache is the admin operational route: `DELETE /cache/:userKey`.
func (h *SyncHandler) ResetCache(w http.ResponseWriter, r *http.Request) {
	userKey := r.PathValue("userKey")
	h.cache.ClearUserCache(userKey)
	writeJSON(w, http.StatusOK, cacheResetResponse{Success: true, UserKey: userKey})
}

func perf(started time.Time) performance {
	return performance{DurationMs: time.Since(started).Milliseconds()}
}

func bloomStatsDTO(s model.BloomFilterStats) *bloomFilterStatsDTO {
	return &bloomFilterStatsDTO{
		Configured:        s.Configured,
		SizeBits:          s.SizeBits,
		HashFunctions:     s.HashFunctions,
		ElementCount:      s.ElementCount,
		EstimatedFPRate:   s.EstimatedFPRate,
		ApproxMemoryBytes: s.ApproxMemoryBytes,
	}
}
