package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/netfryer/maestro/internal/circuitbreaker"
	"github.com/netfryer/maestro/internal/metrics"
)

const defaultPortfolioTTL = 60 * time.Second

// PortfolioCacheKeyInput is everything the cache key hashes over
// (spec.md §4.2): registry ids+status, trust map, variance stats
// version.
type PortfolioCacheKeyInput struct {
	ModelIDsAndStatus map[string]string // canonical id -> status
	TrustVersion      string
	VarianceVersion   string
}

// CacheKey derives the stable cache key for a portfolio lookup.
func CacheKey(in PortfolioCacheKeyInput) string {
	ids := make([]string, 0, len(in.ModelIDsAndStatus))
	for id := range in.ModelIDsAndStatus {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte(in.ModelIDsAndStatus[id]))
	}
	h.Write([]byte(in.TrustVersion))
	h.Write([]byte(in.VarianceVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// PortfolioCache is the Redis-backed recommendation cache with a local
// mirror, TTL expiry and single-flight deduplication on miss
// (spec.md §4.2, §5 "single-flight on cache miss").
type PortfolioCache struct {
	redis  *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration

	mu               sync.Mutex
	local            map[string]cachedEntry
	forceRefreshNext map[string]bool

	group singleflight.Group
}

type cachedEntry struct {
	rec       Recommendation
	expiresAt time.Time
}

// NewPortfolioCache constructs a cache over the given Redis circuit
// breaker wrapper (nil is permitted — the cache then behaves as
// local-only, useful for tests and the file-persistence deployment mode).
func NewPortfolioCache(redisWrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *PortfolioCache {
	return &PortfolioCache{
		redis:            redisWrapper,
		logger:           logger,
		ttl:              defaultPortfolioTTL,
		local:            make(map[string]cachedEntry),
		forceRefreshNext: make(map[string]bool),
	}
}

// SetForceRefreshNext invalidates the next read for key, forcing a
// recompute even if a fresh cache entry exists.
func (c *PortfolioCache) SetForceRefreshNext(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceRefreshNext[key] = true
}

// Get returns a cached recommendation, computing and storing one via
// compute if absent or expired. Concurrent Get calls for the same key
// share a single compute invocation.
func (c *PortfolioCache) Get(ctx context.Context, key string, compute func(ctx context.Context) (Recommendation, error)) (Recommendation, error) {
	c.mu.Lock()
	forceRefresh := c.forceRefreshNext[key]
	if forceRefresh {
		delete(c.forceRefreshNext, key)
	}
	if !forceRefresh {
		if entry, ok := c.local[key]; ok && time.Now().Before(entry.expiresAt) {
			c.mu.Unlock()
			metrics.PortfolioCacheHits.Inc()
			return entry.rec, nil
		}
	}
	c.mu.Unlock()

	metrics.PortfolioCacheMisses.Inc()

	if c.redis != nil && !forceRefresh {
		if rec, ok := c.readRedis(ctx, key); ok {
			c.storeLocal(key, rec)
			return rec, nil
		}
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		rec, err := compute(ctx)
		if err != nil {
			return Recommendation{}, err
		}
		c.storeLocal(key, rec)
		if c.redis != nil {
			c.writeRedis(ctx, key, rec)
		}
		return rec, nil
	})
	if shared {
		metrics.PortfolioCacheSingleflight.Inc()
	}
	if err != nil {
		return Recommendation{}, err
	}
	return v.(Recommendation), nil
}

func (c *PortfolioCache) storeLocal(key string, rec Recommendation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[key] = cachedEntry{rec: rec, expiresAt: time.Now().Add(c.ttl)}
}

func (c *PortfolioCache) readRedis(ctx context.Context, key string) (Recommendation, bool) {
	cmd := c.redis.Get(ctx, "portfolio:"+key)
	raw, err := cmd.Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("portfolio cache: redis read failed, degrading to compute", zap.Error(err))
		}
		return Recommendation{}, false
	}
	var rec Recommendation
	if jsonErr := json.Unmarshal([]byte(raw), &rec); jsonErr != nil {
		return Recommendation{}, false
	}
	return rec, true
}

func (c *PortfolioCache) writeRedis(ctx context.Context, key string, rec Recommendation) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if status := c.redis.Set(ctx, "portfolio:"+key, data, c.ttl); status.Err() != nil {
		c.logger.Warn("portfolio cache: redis write failed", zap.Error(status.Err()))
	}
}

// ValidateRecommendation checks that every slot id in rec still exists
// in the current registry view. On failure, callers must downgrade the
// effective portfolio mode to off and record a BUDGET_OPTIMIZATION
// decision with portfolioValidationFailed=true (spec.md §4.2).
func ValidateRecommendation(rec Recommendation, currentIDs map[string]struct{}) bool {
	for _, id := range rec.SlotModelIDs {
		if _, ok := currentIDs[id]; !ok {
			return false
		}
	}
	return true
}
