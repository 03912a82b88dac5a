// Package cache provides the read-through result cache shared by all
// read-only tools. Entries are whole formatted tool results keyed by the
// request that produced them; concurrent misses on the same key are
// coalesced so the upstream CRM sees a single request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

const (
	// DefaultCapacity bounds the number of cached results.
	DefaultCapacity = 1000
	// DefaultTTL is how long an entry stays servable.
	DefaultTTL = 5 * time.Minute

	sampleKeyCount = 10
	sampleKeyWidth = 16
)

// Loader computes the value for a cache miss. The context it receives stays
// alive while at least one caller is still waiting for the result.
type Loader func(ctx context.Context) (interface{}, error)

type cacheEntry struct {
	value    interface{}
	cachedAt time.Time
}

// flight tracks the callers waiting on one in-flight loader so the loader is
// only canceled once every waiter has given up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache is a TTL-bounded LRU of computed tool results with request
// coalescing. All methods are safe for concurrent use.
type Cache struct {
	store *lru.Cache[string, cacheEntry]
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight

	capacity int
	ttl      time.Duration
	logger   observability.Logger
	metrics  *metrics.Metrics
}

// New builds a cache with the given capacity and TTL. Non-positive values
// fall back to the defaults.
func New(capacity int, ttl time.Duration, logger observability.Logger, m *metrics.Metrics) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	store, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.KindInternal, "create result cache")
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Cache{
		store:    store,
		flights:  make(map[string]*flight),
		capacity: capacity,
		ttl:      ttl,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Key derives the cache key for a tool invocation: a SHA-256 over the method
// name, the canonicalized arguments, and the API key, so identical requests
// collide and different credentials never share entries. Arguments are
// canonicalized by decoding and re-encoding, which sorts object keys and
// strips insignificant whitespace; empty arguments canonicalize to "null".
func Key(method string, args json.RawMessage, apiKey string) string {
	canonical := []byte("null")
	if len(args) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(args, &decoded); err == nil {
			if encoded, err := json.Marshal(decoded); err == nil {
				canonical = encoded
			} else {
				canonical = args
			}
		} else {
			canonical = args
		}
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0x1f})
	h.Write(canonical)
	h.Write([]byte{0x1f})
	h.Write([]byte(apiKey))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the live entry for key, if any.
func (c *Cache) Get(key string) (interface{}, bool) {
	entry, ok := c.store.Get(key)
	if !ok {
		c.record("get", "miss")
		return nil, false
	}
	if time.Since(entry.cachedAt) >= c.ttl {
		c.store.Remove(key)
		c.record("get", "expired")
		return nil, false
	}
	c.record("get", "hit")
	return entry.value, true
}

// Set stores a value under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, value interface{}) {
	if evicted := c.store.Add(key, cacheEntry{value: value, cachedAt: time.Now()}); evicted {
		c.record("set", "evicted")
	}
	c.record("set", "stored")
}

// GetOrCompute returns the cached value for key or runs loader to produce
// it. Concurrent callers with the same key share one loader invocation and
// all receive its result; loader errors propagate to every waiter and are
// never cached. A caller whose context ends stops waiting immediately, but
// the loader itself is only canceled when the last waiter has gone.
func (c *Cache) GetOrCompute(ctx context.Context, key string, loader Loader) (interface{}, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, pkgerrors.FromContext(ctx, err)
		}
		if value, ok := c.Get(key); ok {
			return value, nil
		}

		fl := c.joinFlight(key)
		ch := c.group.DoChan(key, func() (interface{}, error) {
			defer c.endFlight(key)
			value, err := loader(fl.ctx)
			if err != nil {
				return nil, err
			}
			c.Set(key, value)
			return value, nil
		})

		select {
		case res := <-ch:
			c.leaveFlight(key, fl)
			if res.Err != nil {
				// A shared loader dies with KindCanceled when an earlier
				// cohort of waiters all gave up. This caller is still live,
				// so start a fresh flight instead of surfacing their
				// cancellation.
				if pkgerrors.KindOf(res.Err) == pkgerrors.KindCanceled && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			if res.Shared {
				c.record("get", "coalesced")
			}
			return res.Val, nil
		case <-ctx.Done():
			c.leaveFlight(key, fl)
			return nil, pkgerrors.FromContext(ctx, ctx.Err())
		}
	}
}

// joinFlight registers the caller as a waiter on the key's in-flight load,
// creating the flight if none exists.
func (c *Cache) joinFlight(key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	fl, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.Background())
		fl = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = fl
	}
	fl.waiters++
	return fl
}

// leaveFlight drops one waiter; the last one out cancels the loader.
func (c *Cache) leaveFlight(key string, fl *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fl.waiters--
	if fl.waiters <= 0 {
		fl.cancel()
		if current, ok := c.flights[key]; ok && current == fl {
			delete(c.flights, key)
		}
	}
}

// endFlight retires the flight once its loader has returned so the next
// miss starts fresh.
func (c *Cache) endFlight(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fl, ok := c.flights[key]; ok {
		fl.cancel()
		delete(c.flights, key)
	}
}

// Clear empties the cache and reports how many entries were dropped.
func (c *Cache) Clear() ClearResult {
	n := c.store.Len()
	c.store.Purge()
	c.record("clear", "cleared")
	c.logger.Info("Result cache cleared", map[string]interface{}{
		"entries": n,
	})
	return ClearResult{Cleared: n, Capacity: c.capacity, TTLSeconds: int(c.ttl.Seconds())}
}

// ClearResult reports the outcome of a Clear call.
type ClearResult struct {
	Cleared    int `json:"cleared"`
	Capacity   int `json:"capacity"`
	TTLSeconds int `json:"ttlSeconds"`
}

// Info describes the current cache contents.
type Info struct {
	Size       int      `json:"size"`
	Capacity   int      `json:"capacity"`
	TTLSeconds int      `json:"ttlSeconds"`
	SampleKeys []string `json:"sampleKeys"`
}

// Stats returns the cache size, limits, and a few truncated sample keys.
func (c *Cache) Stats() Info {
	keys := c.store.Keys()
	samples := make([]string, 0, sampleKeyCount)
	for _, key := range keys {
		if len(samples) == sampleKeyCount {
			break
		}
		if len(key) > sampleKeyWidth {
			key = key[:sampleKeyWidth] + "…"
		}
		samples = append(samples, key)
	}
	return Info{
		Size:       c.store.Len(),
		Capacity:   c.capacity,
		TTLSeconds: int(c.ttl.Seconds()),
		SampleKeys: samples,
	}
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	return c.store.Len()
}

func (c *Cache) record(op, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(op, result)
	}
}
