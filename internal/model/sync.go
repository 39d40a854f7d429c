package model

import "time"

// CheckParams carries what a client computed locally, to be compared
// against the server's authoritative state.
type CheckParams struct {
	UserKey     string
	ClientCount int
	ClientHash  string
}

// CheckResult is the fast-path sync decision.
type CheckResult struct {
	NeedSync    bool
	Reason      string
	ServerCount int
	ServerHash  string
	LastSyncAt  *time.Time
	Limit       int
}

// BidirectionalDiffParams is one batch of a client's incremental diff.
type BidirectionalDiffParams struct {
	UserKey             string
	ClientBatch         []string
	BatchIndex          int
	BatchSize           int
	EstimatedBatchCount int
}

// BatchCounts summarizes one bidirectional-diff batch.
type BatchCounts struct {
	Submitted      int
	ServerMissing  int
	ServerExisting int
	MaybePresent   int
	DefinitelyGone int
}

// SessionInfo is the advisory session handle optionally surfaced from
// batch 0 of a bidirectional diff.
type SessionInfo struct {
	SessionID string
	Advisory  bool
}

// BloomFilterStats mirrors the bloom cache's per-user sizing report,
// re-expressed here so the model package stays the seam between the
// engine and its transport without depending on the bloom cache package.
type BloomFilterStats struct {
	Configured        bool
	SizeBits          uint
	HashFunctions     uint
	ElementCount      uint
	EstimatedFPRate   float64
	ApproxMemoryBytes int64
}

// BidirectionalDiffResult is the outcome of one bidirectional-diff batch.
type BidirectionalDiffResult struct {
	BatchIndex                 int
	BatchSize                  int
	ServerMissingFingerprints  []string
	ServerExistingFingerprints []string
	Counts                     BatchCounts
	SessionInfo                *SessionInfo
	BloomFilterStats           *BloomFilterStats
}

// AnalyzeDifferenceParams is a client's full fingerprint set.
type AnalyzeDifferenceParams struct {
	UserKey            string
	ClientFingerprints []string
}

// DiffStats summarizes a whole-set diff session.
type DiffStats struct {
	ClientMissingCount int
	ServerMissingCount int
	TotalPages         int
	PageSize           int
}

// Recommendation is an informational hint about which direction a sync
// should favor.
type Recommendation struct {
	Strategy string
	Priority string
}

// ServerStats is a minimal snapshot of server-side totals, returned
// alongside a diff session for client-side display.
type ServerStats struct {
	TotalCount int
	LastSyncAt *time.Time
}

// AnalyzeDifferenceResult is the outcome of a whole-set diff.
type AnalyzeDifferenceResult struct {
	DiffSessionID   string
	DiffStats       DiffStats
	Recommendations Recommendation
	ServerStats     ServerStats
}

// PullDiffPageParams identifies which page of which session to return.
type PullDiffPageParams struct {
	UserKey       string
	DiffSessionID string
	PageIndex     int
}

// PageInfo describes pagination over a diff session's missing-in-client set.
type PageInfo struct {
	CurrentPage int
	PageSize    int
	TotalPages  int
	HasMore     bool
	TotalCount  int
}

// PullDiffPageResult is one page of missing-in-client fingerprints.
type PullDiffPageResult struct {
	SessionID           string
	MissingFingerprints []string
	PageInfo            PageInfo
}

// BatchAddParams is a batch of fingerprints a client wants unioned into
// its server-side set.
type BatchAddParams struct {
	UserKey      string
	Fingerprints []string
}

// BatchAddResult reports how a batch add was absorbed.
type BatchAddResult struct {
	AddedCount     int
	DuplicateCount int
	TotalRequested int
}

// ResetParams requests a full wipe of one user's sync state.
type ResetParams struct {
	UserKey string
	Notes   string
}

// ResetCounts captures before/after snapshots of a reset.
type ResetCounts struct {
	FingerprintCount int
	MetaCount        int
}

// ResetResult summarizes what a reset cleared.
type ResetResult struct {
	Before              ResetCounts
	ClearedFingerprints int
	ClearedMetas        int
	DeletedSessions     int
	ClearedCache        bool
}

// SyncStatusResult is the combined status view for one user.
type SyncStatusResult struct {
	UserKey    string
	Lock       *LockStatus
	Meta       UserMeta
	BloomStats BloomFilterStats
}

// LockStatus is the sync-lock view exposed by status queries.
type LockStatus struct {
	Operation string
	LockID    string
	StartTime time.Time
}

// ServiceStatsResult aggregates engine-wide counters.
type ServiceStatsResult struct {
	ActiveSessionCount int
	ActiveLockCount    int
	CacheHitRate       float64
	CacheLen           int
	BloomFiltersBuilt  int
}
