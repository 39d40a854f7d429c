package http

import "time"

// performance is embedded in every success response, reporting how long
// the core took to service the request.
type performance struct {
	DurationMs int64 `json:"durationMs"`
}

type checkRequest struct {
	UserKey string `json:"userKey"`
	Count   int    `json:"count"`
	Hash    string `json:"hash"`
}

type checkResponse struct {
	Success     bool        `json:"success"`
	NeedSync    bool        `json:"needSync"`
	Reason      string      `json:"reason"`
	ServerCount int         `json:"serverCount"`
	ServerHash  string      `json:"serverHash"`
	LastSyncAt  *time.Time  `json:"lastSyncAt"`
	Limit       int         `json:"limit"`
	Performance performance `json:"performance"`
	Timestamp   time.Time   `json:"timestamp"`
}

type bidirectionalDiffRequest struct {
	UserKey            string   `json:"userKey"`
	ClientFingerprints []string `json:"clientFingerprints"`
	BatchIndex         int      `json:"batchIndex"`
	BatchSize          int      `json:"batchSize"`
}

type sessionInfoDTO struct {
	SessionID string `json:"sessionId"`
	Advisory  bool   `json:"advisory"`
}

type bloomFilterStatsDTO struct {
	Configured        bool    `json:"configured"`
	SizeBits          uint    `json:"sizeBits"`
	HashFunctions     uint    `json:"hashFunctions"`
	ElementCount      uint    `json:"elementCount"`
	EstimatedFPRate   float64 `json:"estimatedFalsePositiveRate"`
	ApproxMemoryBytes int64   `json:"approxMemoryBytes"`
}

type batchCountsDTO struct {
	Submitted      int `json:"submitted"`
	ServerMissing  int `json:"serverMissing"`
	ServerExisting int `json:"serverExisting"`
	MaybePresent   int `json:"maybePresent"`
	DefinitelyGone int `json:"definitelyGone"`
}

type bidirectionalDiffResponse struct {
	Success                    bool                 `json:"success"`
	BatchIndex                 int                  `json:"batchIndex"`
	BatchSize                  int                  `json:"batchSize"`
	ServerMissingFingerprints  []string             `json:"serverMissingFingerprints"`
	ServerExistingFingerprints []string             `json:"serverExistingFingerprints"`
	Counts                     batchCountsDTO       `json:"counts"`
	SessionInfo                *sessionInfoDTO      `json:"sessionInfo,omitempty"`
	BloomFilterStats           *bloomFilterStatsDTO `json:"bloomFilterStats,omitempty"`
	Performance                performance          `json:"performance"`
	Timestamp                  time.Time            `json:"timestamp"`
}

type addRequest struct {
	UserKey         string   `json:"userKey"`
	AddFingerprints []string `json:"addFingerprints"`
}

type batchResultDTO struct {
	InsertedCount  int `json:"insertedCount"`
	DuplicateCount int `json:"duplicateCount"`
}

type addResponse struct {
	Success        bool           `json:"success"`
	AddedCount     int            `json:"addedCount"`
	DuplicateCount int            `json:"duplicateCount"`
	TotalRequested int            `json:"totalRequested"`
	BatchResult    batchResultDTO `json:"batchResult"`
	Performance    performance    `json:"performance"`
	Timestamp      time.Time      `json:"timestamp"`
}

type analyzeDiffRequest struct {
	UserKey            string   `json:"userKey"`
	ClientFingerprints []string `json:"clientFingerprints"`
}

type diffStatsDTO struct {
	ClientMissingCount int `json:"clientMissingCount"`
	ServerMissingCount int `json:"serverMissingCount"`
	TotalPages         int `json:"totalPages"`
	PageSize           int `json:"pageSize"`
}

type serverStatsDTO struct {
	TotalCount int        `json:"totalCount"`
	LastSyncAt *time.Time `json:"lastSyncAt"`
}

type recommendationDTO struct {
	Strategy string `json:"strategy"`
	Priority string `json:"priority"`
}

type analyzeDiffResponse struct {
	Success         bool              `json:"success"`
	DiffSessionID   string            `json:"diffSessionId"`
	DiffStats       diffStatsDTO      `json:"diffStats"`
	ServerStats     serverStatsDTO    `json:"serverStats"`
	Recommendations recommendationDTO `json:"recommendations"`
	Performance     performance       `json:"performance"`
	Timestamp       time.Time         `json:"timestamp"`
}

type pullDiffPageRequest struct {
	UserKey       string `json:"userKey"`
	DiffSessionID string `json:"diffSessionId"`
	PageIndex     int    `json:"pageIndex"`
}

type pageInfoDTO struct {
	CurrentPage int  `json:"currentPage"`
	PageSize    int  `json:"pageSize"`
	TotalPages  int  `json:"totalPages"`
	HasMore     bool `json:"hasMore"`
	TotalCount  int  `json:"totalCount"`
}

type pullDiffPageResponse struct {
	Success             bool        `json:"success"`
	SessionID           string      `json:"sessionId"`
	MissingFingerprints []string    `json:"missingFingerprints"`
	PageInfo            pageInfoDTO `json:"pageInfo"`
	Performance         performance `json:"performance"`
	Timestamp           time.Time   `json:"timestamp"`
}

type resetRequest struct {
	UserKey string `json:"userKey"`
	Notes   string `json:"notes,omitempty"`
}

type resetBeforeDTO struct {
	FingerprintCount int `json:"fingerprintCount"`
	MetaCount        int `json:"metaCount"`
}

type resetResultDTO struct {
	ClearedFingerprints int  `json:"clearedFingerprints"`
	ClearedMetas        int  `json:"clearedMetas"`
	DeletedSessions     int  `json:"deletedSessions"`
	ClearedCache        bool `json:"clearedCache"`
}

type resetResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Before    resetBeforeDTO `json:"before"`
	Result    resetResultDTO `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

type syncLockDTO struct {
	Operation string    `json:"operation"`
	LockID    string    `json:"lockId"`
	StartTime time.Time `json:"startTime"`
}

type syncStatsDTO struct {
	TotalSyncs       int   `json:"totalSyncs"`
	LastSyncAdded    int   `json:"lastSyncAdded"`
	LastSyncDuration int64 `json:"lastSyncDurationMs"`
}

type userMetaDTO struct {
	TotalCount     int          `json:"totalCount"`
	CollectionHash string       `json:"collectionHash"`
	LastSyncAt     *time.Time   `json:"lastSyncAt"`
	Stats          syncStatsDTO `json:"stats"`
}

type statusResponse struct {
	Success          bool                `json:"success"`
	UserKey          string              `json:"userKey"`
	SyncStatus       *syncLockDTO        `json:"syncStatus"`
	UserMeta         userMetaDTO         `json:"userMeta"`
	BloomFilterStats bloomFilterStatsDTO `json:"bloomFilterStats"`
	Timestamp        time.Time           `json:"timestamp"`
}

type serviceStatsResponse struct {
	Success            bool      `json:"success"`
	ActiveSessionCount int       `json:"activeSessionCount"`
	ActiveLockCount    int       `json:"activeLockCount"`
	CacheHitRate       float64   `json:"cacheHitRate"`
	CacheLen           int       `json:"cacheLen"`
	Timestamp          time.Time `json:"timestamp"`
}

type lockReleaseResponse struct {
	Success bool   `json:"success"`
	UserKey string `json:"userKey"`
}

type cacheResetResponse struct {
	Success bool   `json:"success"`
	UserKey string `json:"userKey"`
}
