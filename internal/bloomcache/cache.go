// Package bloomcache implements the per-user bloom filter acceleration
// layer described in the sync engine's component design: a probabilistic
// accelerator whose "possibly present" answers must always be re-verified
// against the Fingerprint Store, and whose "definitely absent" answers are
// safe to trust.
package bloomcache

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cenkalti/backoff/v4"

	"github.com/frkb/fingerprint-sync/internal/logger"
)

// Source labels why a mightContain answer came out the way it did.
type Source string

const (
	SourceBloom         Source = "bloom"
	SourceNoData        Source = "no_data"
	SourceBloomDisabled Source = "bloom_disabled"
)

// Result is the outcome of a single membership probe.
type Result struct {
	Possible bool
	Source   Source
}

// BatchResult is the outcome of a batched membership probe.
type BatchResult struct {
	PerFingerprint map[string]bool
	MaybePresent   int
	DefinitelyGone int
}

// Stats reports bloom filter sizing and effectiveness for one user.
type Stats struct {
	Configured        bool
	SizeBits          uint
	HashFunctions     uint
	ElementCount      uint
	EstimatedFPRate   float64
	ApproxMemoryBytes int64
}

// FingerprintEnumerator is the subset of the Fingerprint Store the bloom
// cache needs to (re)build a filter.
type FingerprintEnumerator interface {
	Count(ctx context.Context, userKey string) (int, error)
	Enumerate(ctx context.Context, userKey string, fn func(fingerprint string) error) error
}

// SnapshotStore persists and retrieves a serialized filter, keyed by
// userKey. It is backed by object storage (see internal/storage/minio) so
// large filters do not bloat the Meta Store row.
type SnapshotStore interface {
	Save(ctx context.Context, userKey string, data []byte) (objectKey string, checksum uint32, err error)
	Load(ctx context.Context, objectKey string, wantChecksum uint32) ([]byte, error)
}

// MetaRefs is the subset of the Meta Store the bloom cache needs to read
// and record where a user's serialized filter lives.
type MetaRefs interface {
	BloomSnapshot(ctx context.Context, userKey string) (objectKey string, checksum uint32, ok bool, err error)
	SetBloomSnapshot(ctx context.Context, userKey, objectKey string, checksum uint32) error
}

// Config tunes filter construction.
type Config struct {
	Enabled           bool
	FalsePositiveRate float64
	MinCapacity       uint
	BasicMultiplier   float64
}

type userFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	count  uint
}

// Cache is the per-user in-memory bloom filter accelerator.
type Cache struct {
	cfg       Config
	fps       FingerprintEnumerator
	snapshots SnapshotStore
	meta      MetaRefs
	logger    *logger.Logger

	mu      sync.RWMutex
	filters map[string]*userFilter
}

// New creates a bloom filter cache.
func New(cfg Config, fps FingerprintEnumerator, snapshots SnapshotStore, meta MetaRefs, log *logger.Logger) *Cache {
	return &Cache{
		cfg:       cfg,
		fps:       fps,
		snapshots: snapshots,
		meta:      meta,
		logger:    log,
		filters:   make(map[string]*userFilter),
	}
}

// MightContain answers whether fingerprint could be present for userKey.
// A false answer guarantees absence from the snapshot at build time.
func (c *Cache) MightContain(ctx context.Context, userKey, fingerprint string) (Result, error) {
	if !c.cfg.Enabled {
		return Result{Possible: true, Source: SourceBloomDisabled}, nil
	}

	uf, empty, err := c.getOrBuild(ctx, userKey)
	if err != nil {
		return Result{}, err
	}
	if empty {
		return Result{Possible: false, Source: SourceNoData}, nil
	}

	uf.mu.RLock()
	possible := uf.filter.TestString(fingerprint)
	uf.mu.RUnlock()

	return Result{Possible: possible, Source: SourceBloom}, nil
}

// BatchMightContain answers MightContain for every fingerprint in fps.
func (c *Cache) BatchMightContain(ctx context.Context, userKey string, fps []string) (BatchResult, error) {
	out := BatchResult{PerFingerprint: make(map[string]bool, len(fps))}

	if !c.cfg.Enabled {
		for _, fp := range fps {
			out.PerFingerprint[fp] = true
		}
		out.MaybePresent = len(fps)
		return out, nil
	}

	uf, empty, err := c.getOrBuild(ctx, userKey)
	if err != nil {
		return BatchResult{}, err
	}
	if empty {
		for _, fp := range fps {
			out.PerFingerprint[fp] = false
		}
		out.DefinitelyGone = len(fps)
		return out, nil
	}

	uf.mu.RLock()
	defer uf.mu.RUnlock()
	for _, fp := range fps {
		possible := uf.filter.TestString(fp)
		out.PerFingerprint[fp] = possible
		if possible {
			out.MaybePresent++
		} else {
			out.DefinitelyGone++
		}
	}
	return out, nil
}

// AddFingerprints incrementally inserts fps into userKey's filter,
// building one first if needed. Failures are logged, never returned: the
// filter is advisory and a missed insert only costs a future false
// "definitely absent" that batchAdd's own storage write already fixed.
func (c *Cache) AddFingerprints(ctx context.Context, userKey string, fps []string) {
	if !c.cfg.Enabled || len(fps) == 0 {
		return
	}

	uf, _, err := c.getOrBuild(ctx, userKey)
	if err != nil {
		c.logger.Warn("bloom: failed to build filter for incremental add", "user_key", userKey, "error", err)
		return
	}

	uf.mu.Lock()
	for _, fp := range fps {
		uf.filter.AddString(fp)
	}
	uf.count += uint(len(fps))
	uf.mu.Unlock()

	c.persist(ctx, userKey, uf)
}

// Clear drops the in-memory filter for userKey. It does not touch the
// serialized snapshot or the Meta Store's reference to it: if that
// reference still exists, the next getOrBuild loads the snapshot again
// without checking it against the store's current contents.
func (c *Cache) Clear(userKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.filters, userKey)
}

// Stats reports sizing and effectiveness for userKey's filter, if built.
func (c *Cache) Stats(userKey string) Stats {
	c.mu.RLock()
	uf, ok := c.filters[userKey]
	c.mu.RUnlock()
	if !ok {
		return Stats{Configured: false}
	}

	uf.mu.RLock()
	defer uf.mu.RUnlock()
	m, k := uf.filter.Cap(), uf.filter.K()
	return Stats{
		Configured:        true,
		SizeBits:          m,
		HashFunctions:     k,
		ElementCount:      uf.count,
		EstimatedFPRate:   estimateFalsePositiveRate(uf.filter, uf.count),
		ApproxMemoryBytes: int64(m/8) + 64,
	}
}

// estimateFalsePositiveRate computes the standard bloom filter false
// positive rate estimate (1 - e^(-k*n/m))^k from the filter's configured
// size (m), hash function count (k), and current element count (n). The
// bloom library used here does not expose this directly.
func estimateFalsePositiveRate(filter *bloom.BloomFilter, n uint) float64 {
	m, k := float64(filter.Cap()), float64(filter.K())
	if m == 0 {
		return 0
	}
	return math.Pow(1-math.Exp(-k*float64(n)/m), k)
}

func (c *Cache) capacity(currentCount int) uint {
	basic := float64(currentCount) * c.cfg.BasicMultiplier
	size := uint(basic)
	if size < c.cfg.MinCapacity {
		size = c.cfg.MinCapacity
	}
	return size
}

// getOrBuild returns the in-memory filter for userKey, lazily (re)building
// it from a persisted snapshot or a full Fingerprint Store enumeration.
// empty is true when the user currently has zero fingerprints, in which
// case no filter is built and callers should answer "definitely absent".
func (c *Cache) getOrBuild(ctx context.Context, userKey string) (*userFilter, bool, error) {
	c.mu.RLock()
	uf, ok := c.filters[userKey]
	c.mu.RUnlock()
	if ok {
		return uf, false, nil
	}

	count, err := c.fps.Count(ctx, userKey)
	if err != nil {
		return nil, false, fmt.Errorf("bloom: count fingerprints: %w", err)
	}
	if count == 0 {
		return nil, true, nil
	}

	if loaded, ok := c.tryLoadSnapshot(ctx, userKey, count); ok {
		c.mu.Lock()
		c.filters[userKey] = loaded
		c.mu.Unlock()
		return loaded, false, nil
	}

	built, err := c.build(ctx, userKey, count)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	c.filters[userKey] = built
	c.mu.Unlock()

	c.persist(ctx, userKey, built)

	return built, false, nil
}

func (c *Cache) build(ctx context.Context, userKey string, count int) (*userFilter, error) {
	filter := bloom.NewWithEstimates(c.capacity(count), c.cfg.FalsePositiveRate)

	var n uint
	err := c.fps.Enumerate(ctx, userKey, func(fp string) error {
		filter.AddString(fp)
		n++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bloom: enumerate fingerprints: %w", err)
	}

	return &userFilter{filter: filter, count: n}, nil
}

func (c *Cache) tryLoadSnapshot(ctx context.Context, userKey string, count int) (*userFilter, bool) {
	if c.meta == nil || c.snapshots == nil {
		return nil, false
	}

	objectKey, checksum, ok, err := c.meta.BloomSnapshot(ctx, userKey)
	if err != nil || !ok {
		return nil, false
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	var data []byte
	op := func() error {
		var opErr error
		data, opErr = c.snapshots.Load(ctx, objectKey, checksum)
		return opErr
	}
	if err := backoff.Retry(op, bo); err != nil {
		c.logger.Warn("bloom: snapshot load failed, falling back to rebuild", "user_key", userKey, "error", err)
		return nil, false
	}

	filter := &bloom.BloomFilter{}
	if err := filter.UnmarshalBinary(data); err != nil {
		c.logger.Warn("bloom: snapshot decode failed, falling back to rebuild", "user_key", userKey, "error", err)
		return nil, false
	}

	return &userFilter{filter: filter, count: uint(count)}, true
}

// persist uploads a serialized copy of uf's filter with the same bounded
// retry tryLoadSnapshot uses for downloads,
// consistent with the operation's best-effort contract.
func (c *Cache) persist(ctx context.Context, userKey string, uf *userFilter) {
	if c.snapshots == nil || c.meta == nil {
		return
	}

	uf.mu.RLock()
	data, err := uf.filter.MarshalBinary()
	uf.mu.RUnlock()
	if err != nil {
		c.logger.Warn("bloom: marshal failed", "user_key", userKey, "error", err)
		return
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	var objectKey string
	var checksum uint32
	op := func() error {
		var opErr error
		objectKey, checksum, opErr = c.snapshots.Save(ctx, userKey, data)
		return opErr
	}
	if err := backoff.Retry(op, bo); err != nil {
		c.logger.Warn("bloom: snapshot persist failed", "user_key", userKey, "error", err)
		return
	}

	if err := c.meta.SetBloomSnapshot(ctx, userKey, objectKey, checksum); err != nil {
		c.logger.Warn("bloom: recording snapshot reference failed", "user_key", userKey, "error", err)
	}
}
