// Package ringgroup selects and dials the members of a ring group.
// Membership can change between reads, so the member list is re-read
// fresh under a per-group lock; two concurrent calls to the same group
// never build dial lists from interleaved snapshots.
package ringgroup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trunkline/trunkline/internal/cache"
	"github.com/trunkline/trunkline/internal/database"
	"github.com/trunkline/trunkline/internal/database/models"
	"github.com/trunkline/trunkline/internal/metrics"
)

// Lock parameters. The critical section is a handful of reads, so the
// lease stays short and acquisition gives up quickly.
const (
	lockLease      = 5 * time.Second
	lockWait       = 3 * time.Second
	maxLockRetries = 3
	retryBackoff   = 100 * time.Millisecond
)

// Result is the hunter's routing decision for one call.
type Result struct {
	// Addresses is the simultaneous dial list; empty when Fallback or
	// Unavailable is set.
	Addresses      []string
	TimeoutSeconds int

	// Fallback is the group's configured fallback action, set when no
	// member can be rung.
	Fallback *models.RoutingAction

	// Unavailable marks a temporary failure (lock contention or backend
	// trouble); the caller answers with a service-unavailable document.
	Unavailable bool
}

// Hunter resolves ring groups to dial instructions.
type Hunter struct {
	groups     database.RingGroupRepository
	extensions database.ExtensionRepository
	locks      *cache.Layer
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// sleepFunc allows overriding backoff sleeps for testing.
	sleepFunc func(time.Duration)
}

// NewHunter creates a new Hunter. Metrics may be nil.
func NewHunter(groups database.RingGroupRepository, extensions database.ExtensionRepository, locks *cache.Layer, m *metrics.Metrics, logger *slog.Logger) *Hunter {
	return &Hunter{
		groups:     groups,
		extensions: extensions,
		locks:      locks,
		metrics:    m,
		logger:     logger.With("subsystem", "ring_group"),
		sleepFunc:  time.Sleep,
	}
}

// Route builds the dial decision for a ring group. Lock timeouts are
// retried with exponential backoff; a hard lock backend failure
// short-circuits to the unavailable result without retrying.
func (h *Hunter) Route(ctx context.Context, rg *models.RingGroup) Result {
	lockName := fmt.Sprintf("ring-group:%d", rg.ID)

	var result Result
	for attempt := 0; attempt < maxLockRetries; attempt++ {
		err := h.locks.WithLock(ctx, lockName, lockLease, lockWait, func(ctx context.Context) error {
			r, err := h.buildDialList(ctx, rg)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err == nil {
			return result
		}

		if errors.Is(err, cache.ErrLockBackend) {
			h.metrics.LockBackendFailure()
			h.logger.Error("ring group lock backend failure",
				"ring_group_id", rg.ID,
				"tenant_id", rg.TenantID,
				"error", err,
			)
			return Result{Unavailable: true}
		}
		if errors.Is(err, cache.ErrLockTimeout) {
			h.metrics.LockTimeout()
			backoff := retryBackoff << attempt
			h.logger.Warn("ring group lock contended, retrying",
				"ring_group_id", rg.ID,
				"attempt", attempt+1,
				"backoff", backoff,
			)
			h.sleepFunc(backoff)
			continue
		}

		h.logger.Error("ring group resolution failed",
			"ring_group_id", rg.ID,
			"tenant_id", rg.TenantID,
			"error", err,
		)
		return Result{Unavailable: true}
	}

	h.logger.Error("ring group lock retries exhausted",
		"ring_group_id", rg.ID,
		"tenant_id", rg.TenantID,
	)
	return Result{Unavailable: true}
}

// buildDialList runs inside the lock: fresh membership read, active
// filter, priority order, address mapping.
func (h *Hunter) buildDialList(ctx context.Context, rg *models.RingGroup) (Result, error) {
	members, err := h.groups.ListMembers(ctx, rg.TenantID, rg.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reading ring group members: %w", err)
	}

	var addresses []string
	for _, m := range members {
		ext, err := h.extensions.GetByID(ctx, rg.TenantID, m.ExtensionID)
		if err != nil {
			return Result{}, fmt.Errorf("reading member extension %d: %w", m.ExtensionID, err)
		}
		if ext == nil || !ext.Active {
			continue
		}
		if ext.SIPAddress == "" {
			h.logger.Warn("ring group member has no session address",
				"ring_group_id", rg.ID,
				"extension_id", ext.ID,
			)
			continue
		}
		addresses = append(addresses, ext.SIPAddress)
	}

	if len(addresses) == 0 {
		h.logger.Info("ring group has no ringable members, using fallback",
			"ring_group_id", rg.ID,
			"tenant_id", rg.TenantID,
		)
		fb := models.RoutingAction{Type: rg.FallbackAction, TargetID: rg.FallbackTargetID}
		return Result{Fallback: &fb}, nil
	}

	if rg.Strategy != models.StrategySimultaneous {
		// round_robin and sequential have no per-call cursor yet and
		// deliberately ring everyone at once rather than guessing a
		// different semantics.
		h.logger.Warn("ring strategy not implemented, ringing simultaneously",
			"ring_group_id", rg.ID,
			"strategy", rg.Strategy,
		)
	}

	timeout := rg.RingTimeout
	if timeout <= 0 {
		timeout = 30
	}

	h.logger.Info("ringing group",
		"ring_group_id", rg.ID,
		"tenant_id", rg.TenantID,
		"strategy", rg.Strategy,
		"members", len(addresses),
		"ring_timeout", timeout,
	)
	return Result{Addresses: addresses, TimeoutSeconds: timeout}, nil
}
