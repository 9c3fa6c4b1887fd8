package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lease cannot be acquired within
// the caller's wait window.
var ErrLockTimeout = errors.New("lock wait timeout")

// ErrLockBackend is returned when both the primary and the durable
// fallback mutual-exclusion mechanisms are unusable.
var ErrLockBackend = errors.New("lock backend unavailable")

// lockPollInterval is how often acquisition is retried while waiting.
const lockPollInterval = 50 * time.Millisecond

// releaseScript deletes the lock key only if it is still held by this
// holder, so an expired lease re-acquired by someone else is never
// released by the original holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// WithLock runs body under the named mutual-exclusion lock. The lease
// bounds how long an abandoned holder can block others; wait bounds how
// long this caller polls for acquisition before ErrLockTimeout. The
// lock is released on every exit path of body, including panics.
//
// Holders of the same name observe serialized execution of body;
// different names never block each other.
func (l *Layer) WithLock(ctx context.Context, name string, lease, wait time.Duration, body func(ctx context.Context) error) error {
	holder := uuid.NewString()
	key := "lock:" + name
	deadline := l.nowFunc().Add(wait)

	if l.rdb != nil && l.primaryUp.Load() {
		acquired, err := l.acquirePrimary(ctx, key, holder, lease, deadline)
		if err == nil {
			if !acquired {
				return ErrLockTimeout
			}
			defer l.releasePrimary(key, holder)
			return body(ctx)
		}
		// Primary broke mid-acquisition: fall through to the durable
		// table for the remainder of the wait window.
		l.markDown(err)
	}

	acquired, err := l.acquireFallback(ctx, name, holder, lease, deadline)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockBackend, err)
	}
	if !acquired {
		return ErrLockTimeout
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
		defer cancel()
		if err := l.locks.Release(relCtx, name, holder); err != nil {
			l.logger.Error("failed to release fallback lock", "lock", name, "error", err)
		}
	}()
	return body(ctx)
}

// acquirePrimary polls SET NX PX until acquired or the deadline passes.
func (l *Layer) acquirePrimary(ctx context.Context, key, holder string, lease time.Duration, deadline time.Time) (bool, error) {
	for {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		ok, err := l.rdb.SetNX(opCtx, key, holder, lease).Result()
		cancel()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if l.nowFunc().After(deadline) {
			return false, nil
		}
		select {
		case <-time.After(lockPollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// releasePrimary runs the compare-and-delete script. A fresh context is
// used so a cancelled request still releases its lock.
func (l *Layer) releasePrimary(key, holder string) {
	relCtx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
	defer cancel()

	if err := releaseScript.Run(relCtx, l.rdb, []string{key}, holder).Err(); err != nil {
		l.logger.Error("failed to release lock", "lock", key, "error", err)
		l.markDown(err)
	}
}

// acquireFallback polls the durable lock table until acquired or the
// deadline passes. A storage error is a hard failure, not a timeout.
func (l *Layer) acquireFallback(ctx context.Context, name, holder string, lease time.Duration, deadline time.Time) (bool, error) {
	for {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		ok, err := l.locks.Acquire(opCtx, name, holder, lease)
		cancel()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if l.nowFunc().After(deadline) {
			return false, nil
		}
		select {
		case <-time.After(lockPollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
