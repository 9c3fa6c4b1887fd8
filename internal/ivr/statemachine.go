// Package ivr drives multi-turn menu interaction. Each call carries a
// turn counter keyed by its carrier call id; empty or unmatched input
// increments it, and failover fires exactly when the counter exceeds
// the menu's max turns. The machine decides the next instruction; the
// routing resolver turns it into a protocol response.
package ivr

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/trunkline/trunkline/internal/cache"
	"github.com/trunkline/trunkline/internal/database"
	"github.com/trunkline/trunkline/internal/database/models"
	"github.com/trunkline/trunkline/internal/metrics"
)

// stateTTL bounds per-call state even when a call never exits the menu
// cleanly.
const stateTTL = time.Hour

// Caller-facing announcements.
const (
	msgInvalidOption = "Invalid option."
	msgUnavailable   = "This menu is currently unavailable. Goodbye."
)

// OutcomeKind enumerates what the machine decided for this turn.
type OutcomeKind int

const (
	// OutcomePrompt replays the menu and gathers another turn.
	OutcomePrompt OutcomeKind = iota
	// OutcomeRouted exits the machine into ordinary call routing.
	OutcomeRouted
	// OutcomeHangup terminates the call.
	OutcomeHangup
	// OutcomeError announces failure and terminates.
	OutcomeError
)

// Outcome is the machine's decision for one turn.
type Outcome struct {
	Kind OutcomeKind

	// Say is announced before the prompt or hangup, if set.
	Say string
	// Prompt is the menu greeting gathered against for OutcomePrompt.
	Prompt string
	// Target is set for OutcomeRouted.
	Target *models.RoutingTarget
}

// DestinationResolver resolves an option or failover destination to a
// validated routing target. Implementations must tolerate extension
// destinations whose stored id is actually an extension number, and
// must reject inactive entities.
type DestinationResolver interface {
	ResolveDestination(ctx context.Context, tenantID int64, destType string, destID int64) (*models.RoutingTarget, error)
}

// Machine is the IVR navigation state machine.
type Machine struct {
	menus    database.IVRMenuRepository
	state    *cache.Layer
	resolver DestinationResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewMachine creates a new Machine. Metrics may be nil.
func NewMachine(menus database.IVRMenuRepository, state *cache.Layer, resolver DestinationResolver, m *metrics.Metrics, logger *slog.Logger) *Machine {
	return &Machine{
		menus:    menus,
		state:    state,
		resolver: resolver,
		metrics:  m,
		logger:   logger.With("subsystem", "ivr"),
	}
}

// Enter starts a call's first turn in a menu: the turn counter is
// created at zero and the greeting is played.
func (m *Machine) Enter(ctx context.Context, tenantID, menuID int64, callID string) Outcome {
	menu, err := m.menus.GetByID(ctx, tenantID, menuID)
	if err != nil || menu == nil || !menu.Active {
		m.logger.Warn("ivr menu unavailable on entry",
			"tenant_id", tenantID,
			"menu_id", menuID,
			"call_id", callID,
			"error", err,
		)
		return Outcome{Kind: OutcomeError, Say: msgUnavailable}
	}

	m.putTurns(ctx, callID, 0)

	m.logger.Info("ivr entered",
		"tenant_id", tenantID,
		"menu_id", menuID,
		"call_id", callID,
	)
	return Outcome{Kind: OutcomePrompt, Prompt: menu.Greeting}
}

// HandleTurn processes one DTMF turn. Empty digits mean the caller
// timed out without input.
func (m *Machine) HandleTurn(ctx context.Context, tenantID, menuID int64, callID, digits string) Outcome {
	menu, err := m.menus.GetByID(ctx, tenantID, menuID)
	if err != nil || menu == nil || !menu.Active {
		m.logger.Warn("ivr menu unavailable mid-call",
			"tenant_id", tenantID,
			"menu_id", menuID,
			"call_id", callID,
			"error", err,
		)
		m.clearTurns(ctx, callID)
		return Outcome{Kind: OutcomeError, Say: msgUnavailable}
	}

	if digits == "" {
		return m.retryOrFailover(ctx, menu, callID, "")
	}

	if opt := matchOption(menu, digits); opt != nil {
		target, err := m.resolver.ResolveDestination(ctx, tenantID, opt.DestType, opt.DestID)
		if err != nil || target == nil {
			m.logger.Warn("ivr option destination unresolvable",
				"tenant_id", tenantID,
				"menu_id", menuID,
				"call_id", callID,
				"digits", digits,
				"dest_type", opt.DestType,
				"dest_id", opt.DestID,
				"error", err,
			)
			return m.failover(ctx, menu, callID)
		}

		m.clearTurns(ctx, callID)
		m.logger.Info("ivr option routed",
			"tenant_id", tenantID,
			"menu_id", menuID,
			"call_id", callID,
			"digits", digits,
			"target", target.Kind.String(),
		)
		return Outcome{Kind: OutcomeRouted, Target: target}
	}

	return m.retryOrFailover(ctx, menu, callID, msgInvalidOption)
}

// retryOrFailover increments the turn counter and either replays the
// menu or fails over once the counter exceeds max turns.
func (m *Machine) retryOrFailover(ctx context.Context, menu *models.IVRMenu, callID, announce string) Outcome {
	turns := m.getTurns(ctx, callID) + 1
	if turns > menu.MaxTurns {
		m.metrics.IVRFailover()
		m.logger.Info("ivr max turns exceeded",
			"menu_id", menu.ID,
			"call_id", callID,
			"turns", turns,
			"max_turns", menu.MaxTurns,
		)
		return m.failover(ctx, menu, callID)
	}

	m.putTurns(ctx, callID, turns)
	return Outcome{Kind: OutcomePrompt, Say: announce, Prompt: menu.Greeting}
}

// failover resolves the menu's failover destination, or hangs up when
// failover is configured as hangup (or cannot be resolved).
func (m *Machine) failover(ctx context.Context, menu *models.IVRMenu, callID string) Outcome {
	m.clearTurns(ctx, callID)

	if menu.FailoverType == models.DestHangup || menu.FailoverID == nil {
		return Outcome{Kind: OutcomeHangup}
	}

	target, err := m.resolver.ResolveDestination(ctx, menu.TenantID, menu.FailoverType, *menu.FailoverID)
	if err != nil || target == nil {
		m.logger.Warn("ivr failover destination unresolvable",
			"menu_id", menu.ID,
			"call_id", callID,
			"failover_type", menu.FailoverType,
			"error", err,
		)
		return Outcome{Kind: OutcomeError, Say: msgUnavailable}
	}

	m.logger.Info("ivr failover routed",
		"menu_id", menu.ID,
		"call_id", callID,
		"target", target.Kind.String(),
	)
	return Outcome{Kind: OutcomeRouted, Target: target}
}

// matchOption finds the first option whose digit string equals the
// input exactly. Options come ordered by priority.
func matchOption(menu *models.IVRMenu, digits string) *models.IVRMenuOption {
	for i := range menu.Options {
		if menu.Options[i].Digits == digits {
			return &menu.Options[i]
		}
	}
	return nil
}

func turnsKey(callID string) string {
	return "ivr:turns:" + callID
}

func (m *Machine) getTurns(ctx context.Context, callID string) int {
	raw, ok := m.state.Get(ctx, turnsKey(callID))
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func (m *Machine) putTurns(ctx context.Context, callID string, turns int) {
	m.state.Put(ctx, turnsKey(callID), strconv.Itoa(turns), stateTTL)
}

func (m *Machine) clearTurns(ctx context.Context, callID string) {
	m.state.Forget(ctx, turnsKey(callID))
}
