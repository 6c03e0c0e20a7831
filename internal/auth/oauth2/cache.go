// internal/auth/oauth2/cache.go
package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"authdispatch/internal/observability/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CacheConfig holds token cache configuration
type CacheConfig struct {
	// Size is the maximum number of cached tokens
	Size int

	// TTL bounds how long a lookup result is reused
	TTL time.Duration

	// LookupTimeout bounds a shared backend lookup; zero leaves it bounded only by its callers
	LookupTimeout time.Duration

	// Clock overrides time.Now for expiry checks
	Clock func() time.Time
}

// CachingStorage decorates an AccessTokenStorage with an LRU of successful lookups.
// Concurrent lookups of the same token share one backend call, which is
// cancelled once every caller waiting on it has gone.
// A cached token is never served past its own expiry.
type CachingStorage struct {
	next          AccessTokenStorage
	cache         *expirable.LRU[string, *AccessToken]
	group         singleflight.Group
	lookupTimeout time.Duration
	now           func() time.Time
	metrics       *metrics.Collector

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context of one shared backend lookup and the callers waiting on it
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewCachingStorage wraps next
func NewCachingStorage(next AccessTokenStorage, cfg CacheConfig, metricsCollector *metrics.Collector) *CachingStorage {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &CachingStorage{
		next:          next,
		cache:         expirable.NewLRU[string, *AccessToken](cfg.Size, nil, cfg.TTL),
		lookupTimeout: cfg.LookupTimeout,
		now:           cfg.Clock,
		metrics:       metricsCollector,
		flights:       make(map[string]*flight),
	}
}

// GetAccessToken implements AccessTokenStorage
func (c *CachingStorage) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	key := cacheKey(token)

	if cached, ok := c.cache.Get(key); ok {
		if !cached.Expired(c.now()) {
			c.metrics.RecordTokenCache(true)
			return cached, nil
		}
		c.cache.Remove(key)
	}
	c.metrics.RecordTokenCache(false)

	f := c.join(ctx, key)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.next.GetAccessToken(f.ctx, token)
	})

	select {
	case <-ctx.Done():
		c.leave(key, f)
		return nil, ctx.Err()
	case res := <-ch:
		c.leave(key, f)
		if res.Err != nil {
			return nil, res.Err
		}
		record := res.Val.(*AccessToken)
		if record != nil && !record.Expired(c.now()) {
			c.cache.Add(key, record)
		}
		return record, nil
	}
}

// join registers the caller on the shared lookup for key, starting a new one when none is running
func (c *CachingStorage) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flights[key]
	if ok && f.ctx.Err() != nil {
		// The running lookup hit its timeout; its remaining waiters keep their own result.
		c.group.Forget(key)
		ok = false
	}
	if !ok {
		// Detached from the first caller so its cancellation alone does not fail the others.
		base := context.WithoutCancel(ctx)
		f = &flight{}
		if c.lookupTimeout > 0 {
			f.ctx, f.cancel = context.WithTimeout(base, c.lookupTimeout)
		} else {
			f.ctx, f.cancel = context.WithCancel(base)
		}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave deregisters a caller; the last one out cancels the backend lookup
func (c *CachingStorage) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
		// Later callers start a fresh lookup instead of joining the cancelled one.
		c.group.Forget(key)
	}
}

// Len returns the number of cached tokens
func (c *CachingStorage) Len() int {
	return c.cache.Len()
}

// Unwrap returns the decorated storage
func (c *CachingStorage) Unwrap() AccessTokenStorage {
	return c.next
}

// cacheKey keeps raw tokens out of the cache's key space
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
