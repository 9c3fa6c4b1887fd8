// Package cache provides the resilient cache/lock layer underneath the
// routing engine: cache-aside reads with TTL against a Redis primary,
// plus a named mutual-exclusion lock. When the primary is unreachable
// both degrade: reads go straight to the loader and locks fall back to
// a durable table. A background probe recovers the primary so fallback
// is never sticky.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trunkline/trunkline/internal/database"
)

// Defaults for layer behavior. Each redis call is individually bounded
// so a dead primary cannot stall a live call setup.
const (
	defaultOpTimeout     = 2 * time.Second
	defaultProbeInterval = 10 * time.Second
	localCleanupInterval = time.Minute
)

// Status reports the health of the layer's backends.
type Status struct {
	PrimaryAvailable bool
	UsingFallback    bool
}

// Layer is the resilient cache/lock layer. The Redis client may be nil,
// in which case the layer runs permanently on its fallbacks.
type Layer struct {
	rdb    *redis.Client
	locks  database.LockRepository
	local  *memStore
	logger *slog.Logger

	primaryUp     atomic.Bool
	opTimeout     time.Duration
	probeInterval time.Duration

	// nowFunc allows overriding the current time for testing.
	nowFunc func() time.Time
}

// New creates a cache layer over an optional Redis primary and a
// durable lock fallback.
func New(rdb *redis.Client, locks database.LockRepository, logger *slog.Logger) *Layer {
	l := &Layer{
		rdb:           rdb,
		locks:         locks,
		local:         newMemStore(localCleanupInterval),
		logger:        logger.With("subsystem", "cache"),
		opTimeout:     defaultOpTimeout,
		probeInterval: defaultProbeInterval,
		nowFunc:       time.Now,
	}
	l.primaryUp.Store(rdb != nil)
	return l
}

// Start runs the background health probe until ctx is cancelled.
// Without it a primary failure would leave the layer on its fallbacks
// until restart.
func (l *Layer) Start(ctx context.Context) {
	if l.rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(l.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.probe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// probe re-checks the primary and flips it back in when it answers.
func (l *Layer) probe(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	err := l.rdb.Ping(opCtx).Err()
	was := l.primaryUp.Load()
	if err != nil {
		if was {
			l.logger.Warn("cache primary unavailable, using fallback", "error", err)
		}
		l.primaryUp.Store(false)
		return
	}
	if !was {
		l.logger.Info("cache primary recovered")
	}
	l.primaryUp.Store(true)
}

// markDown records a failed primary operation so subsequent calls skip
// straight to the fallback until the probe sees the primary again.
func (l *Layer) markDown(err error) {
	if l.primaryUp.CompareAndSwap(true, false) {
		l.logger.Warn("cache primary unavailable, using fallback", "error", err)
	}
}

// Status returns the current backend health.
func (l *Layer) Status() Status {
	up := l.rdb != nil && l.primaryUp.Load()
	return Status{PrimaryAvailable: up, UsingFallback: !up}
}

// Close stops the local store's cleanup loop.
func (l *Layer) Close() {
	l.local.Close()
}

// Get returns the cached value for key, with a presence flag. Primary
// failures are absorbed: the call falls through to the in-process
// store and never surfaces an error to the routing path.
func (l *Layer) Get(ctx context.Context, key string) (string, bool) {
	if l.rdb != nil && l.primaryUp.Load() {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		val, err := l.rdb.Get(opCtx, key).Result()
		cancel()
		if err == nil {
			return val, true
		}
		if errors.Is(err, redis.Nil) {
			return "", false
		}
		l.markDown(err)
	}
	return l.local.Get(key)
}

// Put stores a value with a TTL. On primary failure the value lands in
// the in-process store so volatile per-call state keeps working.
func (l *Layer) Put(ctx context.Context, key, value string, ttl time.Duration) {
	if l.rdb != nil && l.primaryUp.Load() {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		err := l.rdb.Set(opCtx, key, value, ttl).Err()
		cancel()
		if err == nil {
			return
		}
		l.markDown(err)
	}
	l.local.Set(key, value, ttl)
}

// Forget removes a key from both the primary and the in-process store.
// Used by the invalidation hooks after writes to the underlying entity.
func (l *Layer) Forget(ctx context.Context, key string) {
	if l.rdb != nil && l.primaryUp.Load() {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		err := l.rdb.Del(opCtx, key).Err()
		cancel()
		if err != nil {
			l.markDown(err)
		}
	}
	l.local.Delete(key)
}

// Remember implements cache-aside: return the cached value for key or
// invoke loader, store its result under ttl, and return it. Cache
// trouble never fails the request; a primary error just means the
// loader runs and the store is skipped. A loader error is returned
// as-is and nothing is cached.
func Remember[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var zero T

	if raw, ok := l.cachedRaw(ctx, key); ok {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v, nil
		}
		// Undecodable entry: drop it and reload.
		l.Forget(ctx, key)
	}

	v, err := loader(ctx)
	if err != nil {
		return zero, err
	}

	if raw, err := json.Marshal(v); err == nil {
		l.storeRaw(ctx, key, string(raw), ttl)
	} else {
		l.logger.Warn("failed to encode cache value", "key", key, "error", err)
	}
	return v, nil
}

// cachedRaw reads from the primary only. Remember deliberately skips
// the in-process store: reference data must not be served stale across
// processes, and correctness never depends on a hit.
func (l *Layer) cachedRaw(ctx context.Context, key string) (string, bool) {
	if l.rdb == nil || !l.primaryUp.Load() {
		return "", false
	}
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	val, err := l.rdb.Get(opCtx, key).Result()
	if err == nil {
		return val, true
	}
	if !errors.Is(err, redis.Nil) {
		l.markDown(err)
	}
	return "", false
}

func (l *Layer) storeRaw(ctx context.Context, key, value string, ttl time.Duration) {
	if l.rdb == nil || !l.primaryUp.Load() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	if err := l.rdb.Set(opCtx, key, value, ttl).Err(); err != nil {
		l.markDown(fmt.Errorf("storing %q: %w", key, err))
	}
}
