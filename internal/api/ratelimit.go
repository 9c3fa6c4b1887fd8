package api

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-tenant rate limiting for the voice
// webhook endpoints.
type RateLimitConfig struct {
	// Rate is the number of webhook requests allowed per second per tenant.
	Rate rate.Limit
	// Burst is the maximum burst size per tenant.
	Burst int
	// CleanupInterval is how often stale entries are removed.
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter is kept before eviction.
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns the default webhook limits:
// 20 requests/second with burst of 40.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(20),
		Burst:           40,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// tenantLimitEntry tracks a per-tenant rate limiter and when it was last used.
type tenantLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TenantRateLimiter provides per-tenant rate limiting for the voice
// webhooks. Over-limit calls are not dropped at the HTTP layer; the
// handler answers them with a busy document so the carrier completes
// the call cleanly.
type TenantRateLimiter struct {
	mu      sync.Mutex
	entries map[int64]*tenantLimitEntry
	cfg     RateLimitConfig
	stopCh  chan struct{}
}

// NewTenantRateLimiter creates a per-tenant rate limiter and starts
// background cleanup.
func NewTenantRateLimiter(cfg RateLimitConfig) *TenantRateLimiter {
	rl := &TenantRateLimiter{
		entries: make(map[int64]*tenantLimitEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow checks whether a request for the given tenant is allowed.
func (rl *TenantRateLimiter) Allow(tenantID int64) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[tenantID]
	if !ok {
		entry = &tenantLimitEntry{
			limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst),
		}
		rl.entries[tenantID] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop terminates the background cleanup goroutine.
func (rl *TenantRateLimiter) Stop() {
	close(rl.stopCh)
}

// cleanupLoop periodically removes stale rate limiter entries.
func (rl *TenantRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup removes entries that haven't been seen within MaxAge.
func (rl *TenantRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	removed := 0
	for tenantID, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, tenantID)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("webhook rate limiter cleanup", "removed", removed, "remaining", len(rl.entries))
	}
}
