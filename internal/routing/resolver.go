// Package routing is the top-level orchestrator of the inbound-call
// decision engine. Given an inbound call event it walks the DID,
// business hours, extension and outbound-whitelist resolution order and
// emits the protocol response the carrier executes. Every failure path
// degrades to a valid terminal document; the carrier never sees a
// transport-level error.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/trunkline/trunkline/internal/cache"
	"github.com/trunkline/trunkline/internal/database"
	"github.com/trunkline/trunkline/internal/database/models"
	"github.com/trunkline/trunkline/internal/hours"
	"github.com/trunkline/trunkline/internal/ivr"
	"github.com/trunkline/trunkline/internal/metrics"
	"github.com/trunkline/trunkline/internal/protocol"
	"github.com/trunkline/trunkline/internal/ringgroup"
	"github.com/trunkline/trunkline/internal/whitelist"
)

// Reference data TTLs. Writes go through the invalidation hooks, so the
// TTLs only bound staleness when a hook is missed.
const (
	extensionCacheTTL     = 30 * time.Minute
	businessHoursCacheTTL = 15 * time.Minute
)

// maxActionDepth bounds recursive business_hours action resolution so
// misconfigured schedules pointing at each other cannot loop.
const maxActionDepth = 3

// Caller-facing announcements.
const (
	msgNotFound      = "The number you have dialed is not in service."
	msgUnavailable   = "We are unable to connect your call right now. Please try again later."
	msgNotAuthorized = "You are not authorized to call this destination."
)

// Routed-call outcomes recorded in metrics.
const (
	outcomeDialed      = "dialed"
	outcomeIVR         = "ivr"
	outcomeVoicemail   = "voicemail"
	outcomeHangup      = "hangup"
	outcomeNotFound    = "not_found"
	outcomeUnavailable = "unavailable"
	outcomeDenied      = "denied"
)

// Resolver orchestrates inbound call routing.
type Resolver struct {
	extensions  database.ExtensionRepository
	ringGroups  database.RingGroupRepository
	schedules   database.BusinessHoursRepository
	menus       database.IVRMenuRepository
	dids        database.DIDRepository
	conferences database.ConferenceRepository

	cache     *cache.Layer
	evaluator *hours.Evaluator
	matcher   *whitelist.Matcher
	hunter    *ringgroup.Hunter
	machine   *ivr.Machine
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// baseURL is the externally reachable prefix for IVR gather
	// callbacks, e.g. "https://pbx.example.com".
	baseURL string
}

// Config bundles the resolver's dependencies.
type Config struct {
	Extensions  database.ExtensionRepository
	RingGroups  database.RingGroupRepository
	Schedules   database.BusinessHoursRepository
	Menus       database.IVRMenuRepository
	DIDs        database.DIDRepository
	Conferences database.ConferenceRepository

	Cache   *cache.Layer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	BaseURL string
}

// NewResolver wires the resolver and its sub-resolvers.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		extensions:  cfg.Extensions,
		ringGroups:  cfg.RingGroups,
		schedules:   cfg.Schedules,
		menus:       cfg.Menus,
		dids:        cfg.DIDs,
		conferences: cfg.Conferences,
		cache:       cfg.Cache,
		evaluator:   hours.NewEvaluator(cfg.Logger),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("subsystem", "routing"),
		baseURL:     cfg.BaseURL,
	}
	return r
}

// SetCollaborators installs the whitelist matcher, hunter and IVR
// machine. Split from NewResolver because the machine needs the
// resolver as its destination resolver.
func (r *Resolver) SetCollaborators(matcher *whitelist.Matcher, hunter *ringgroup.Hunter, machine *ivr.Machine) {
	r.matcher = matcher
	r.hunter = hunter
	r.machine = machine
}

// HandleInbound resolves one inbound call event to a protocol response.
func (r *Resolver) HandleInbound(ctx context.Context, event models.InboundCallEvent) *protocol.Response {
	start := time.Now()
	defer func() {
		r.metrics.ObserveWebhook(time.Since(start))
	}()

	logger := r.logger.With(
		"tenant_id", event.TenantID,
		"call_id", event.CallID,
		"to", event.To,
		"from", event.From,
	)
	logger.Info("inbound call")

	// 1. Closed business hours override everything else.
	if resp := r.closedHoursOverride(ctx, event, logger); resp != nil {
		return resp
	}

	// 2. DID lookup on the dialed number.
	did, err := r.dids.GetByNumber(ctx, event.TenantID, event.To)
	if err != nil {
		logger.Error("did lookup failed", "error", err)
		return r.unavailable()
	}
	if did != nil {
		logger.Info("did matched", "did_id", did.ID, "routing_type", did.RoutingType)
		return r.routeAction(ctx, event, models.RoutingAction{Type: did.RoutingType, TargetID: did.TargetID}, 0)
	}

	// 3. Direct internal extension dialing.
	ext, err := r.cachedExtension(ctx, event.TenantID, event.To)
	if err != nil {
		logger.Error("extension lookup failed", "error", err)
		return r.unavailable()
	}
	if ext != nil && ext.Active {
		return r.routeExtension(ctx, event, ext, 0)
	}

	// 4. Outbound: the caller is one of our extensions dialing out.
	caller, err := r.cachedExtension(ctx, event.TenantID, event.From)
	if err != nil {
		logger.Error("caller extension lookup failed", "error", err)
		return r.unavailable()
	}
	if caller != nil && caller.Active {
		return r.routeOutbound(ctx, event, logger)
	}

	// 5. Nothing matched.
	logger.Info("destination not found")
	r.metrics.CallRouted(outcomeNotFound)
	return protocol.New().Say(msgNotFound).Hangup()
}

// closedHoursOverride returns a response when the tenant's active
// schedule evaluates closed, nil otherwise. Schedule trouble never
// blocks routing: on lookup or evaluation errors the gate is skipped.
func (r *Resolver) closedHoursOverride(ctx context.Context, event models.InboundCallEvent, logger *slog.Logger) *protocol.Response {
	sched, err := r.cachedSchedule(ctx, event.TenantID)
	if err != nil {
		logger.Error("business hours lookup failed", "error", err)
		return nil
	}
	if sched == nil || !sched.Active {
		return nil
	}

	open, err := r.evaluator.IsOpen(sched, r.evaluator.Now())
	if err != nil {
		logger.Error("business hours evaluation failed", "schedule_id", sched.ID, "error", err)
		return nil
	}
	if open {
		return nil
	}

	logger.Info("closed hours, routing closed action",
		"schedule_id", sched.ID,
		"action", sched.ClosedAction.Type,
	)
	return r.routeAction(ctx, event, sched.ClosedAction, 0)
}

// routeAction resolves a {type, target} action to a response. The
// business_hours type recurses into that schedule's current action.
func (r *Resolver) routeAction(ctx context.Context, event models.InboundCallEvent, action models.RoutingAction, depth int) *protocol.Response {
	if depth > maxActionDepth {
		r.logger.Error("routing action recursion limit reached",
			"tenant_id", event.TenantID,
			"call_id", event.CallID,
			"action", action.Type,
		)
		return r.unavailable()
	}

	if action.Type == models.DestBusinessHours {
		if action.TargetID == nil {
			return r.unavailable()
		}
		sched, err := r.schedules.GetByID(ctx, event.TenantID, *action.TargetID)
		if err != nil || sched == nil {
			r.logger.Error("business hours target missing",
				"tenant_id", event.TenantID,
				"schedule_id", action.TargetID,
				"error", err,
			)
			return r.unavailable()
		}
		next, err := r.evaluator.CurrentAction(sched, r.evaluator.Now())
		if err != nil {
			r.logger.Error("business hours target evaluation failed",
				"schedule_id", sched.ID,
				"error", err,
			)
			return r.unavailable()
		}
		return r.routeAction(ctx, event, next, depth+1)
	}

	var targetID int64
	if action.TargetID != nil {
		targetID = *action.TargetID
	}
	target, err := r.ResolveDestination(ctx, event.TenantID, action.Type, targetID)
	if err != nil || target == nil {
		r.logger.Warn("routing action unresolvable",
			"tenant_id", event.TenantID,
			"call_id", event.CallID,
			"action", action.Type,
			"target_id", action.TargetID,
			"error", err,
		)
		return r.unavailable()
	}
	return r.routeTarget(ctx, event, target, depth)
}

// routeTarget maps a resolved target to its protocol instruction.
func (r *Resolver) routeTarget(ctx context.Context, event models.InboundCallEvent, target *models.RoutingTarget, depth int) *protocol.Response {
	switch target.Kind {
	case models.TargetHangup:
		r.metrics.CallRouted(outcomeHangup)
		return protocol.New().Hangup()

	case models.TargetVoicemail:
		r.metrics.CallRouted(outcomeVoicemail)
		return protocol.New().Voicemail()

	case models.TargetExtension:
		return r.routeExtension(ctx, event, target.Extension, depth)

	case models.TargetRingGroup:
		return r.routeRingGroup(ctx, event, target.RingGroup, depth)

	case models.TargetConference:
		r.metrics.CallRouted(outcomeDialed)
		return protocol.New().Dial(conferenceAddress(target.Conference), protocol.DefaultDialTimeout, "")

	case models.TargetIVRMenu:
		return r.enterIVR(ctx, event, target.IVRMenu)

	case models.TargetAIAssistant:
		if target.AssistantURI == "" {
			return r.unavailable()
		}
		r.metrics.CallRouted(outcomeDialed)
		return protocol.New().Dial(target.AssistantURI, protocol.DefaultDialTimeout, "")

	default:
		r.logger.Error("unhandled routing target", "kind", target.Kind.String())
		return r.unavailable()
	}
}

// routeExtension dispatches on the extension's type.
func (r *Resolver) routeExtension(ctx context.Context, event models.InboundCallEvent, ext *models.Extension, depth int) *protocol.Response {
	if ext == nil || !ext.Active {
		r.metrics.CallRouted(outcomeNotFound)
		return protocol.New().Say(msgNotFound).Hangup()
	}

	switch ext.Type {
	case models.ExtensionTypeUser, models.ExtensionTypeForward:
		if ext.SIPAddress == "" {
			r.logger.Warn("extension has no session address",
				"tenant_id", ext.TenantID,
				"extension_id", ext.ID,
			)
			return r.unavailable()
		}
		r.metrics.CallRouted(outcomeDialed)
		return protocol.New().Dial(ext.SIPAddress, protocol.DefaultDialTimeout, "")

	case models.ExtensionTypeRingGroup:
		rg, err := r.lookupExtensionRingGroup(ctx, ext)
		if err != nil || rg == nil {
			r.logger.Error("ring group for extension unresolvable",
				"tenant_id", ext.TenantID,
				"extension_id", ext.ID,
				"error", err,
			)
			return r.unavailable()
		}
		return r.routeRingGroup(ctx, event, rg, depth)

	case models.ExtensionTypeConference:
		if ext.ConferenceID == nil {
			return r.unavailable()
		}
		conf, err := r.conferences.GetByID(ctx, ext.TenantID, *ext.ConferenceID)
		if err != nil || conf == nil {
			return r.unavailable()
		}
		r.metrics.CallRouted(outcomeDialed)
		return protocol.New().Dial(conferenceAddress(conf), protocol.DefaultDialTimeout, "")

	case models.ExtensionTypeIVR:
		if ext.IVRMenuID == nil {
			return r.unavailable()
		}
		menu, err := r.menus.GetByID(ctx, ext.TenantID, *ext.IVRMenuID)
		if err != nil || menu == nil {
			return r.unavailable()
		}
		return r.enterIVR(ctx, event, menu)

	case models.ExtensionTypeAIAssistant:
		if ext.AssistantURI == "" {
			return r.unavailable()
		}
		r.metrics.CallRouted(outcomeDialed)
		return protocol.New().Dial(ext.AssistantURI, protocol.DefaultDialTimeout, "")

	default:
		r.logger.Error("unknown extension type",
			"tenant_id", ext.TenantID,
			"extension_id", ext.ID,
			"type", ext.Type,
		)
		return r.unavailable()
	}
}

// lookupExtensionRingGroup loads the ring group an extension points at.
// A missing reference falls back to matching the group by the
// extension's name before giving up.
func (r *Resolver) lookupExtensionRingGroup(ctx context.Context, ext *models.Extension) (*models.RingGroup, error) {
	if ext.RingGroupID != nil {
		return r.ringGroups.GetByID(ctx, ext.TenantID, *ext.RingGroupID)
	}
	r.logger.Warn("extension missing ring group reference, matching by name",
		"tenant_id", ext.TenantID,
		"extension_id", ext.ID,
	)
	return r.ringGroups.GetByName(ctx, ext.TenantID, ext.Name)
}

// routeRingGroup delegates to the hunter and renders its result.
func (r *Resolver) routeRingGroup(ctx context.Context, event models.InboundCallEvent, rg *models.RingGroup, depth int) *protocol.Response {
	if rg == nil || !rg.Active {
		r.metrics.CallRouted(outcomeNotFound)
		return protocol.New().Say(msgNotFound).Hangup()
	}

	result := r.hunter.Route(ctx, rg)
	switch {
	case result.Unavailable:
		return r.unavailable()
	case result.Fallback != nil:
		return r.routeAction(ctx, event, *result.Fallback, depth+1)
	default:
		r.metrics.CallRouted(outcomeDialed)
		return protocol.New().DialMany(result.Addresses, result.TimeoutSeconds)
	}
}

// enterIVR starts the first IVR turn for the call.
func (r *Resolver) enterIVR(ctx context.Context, event models.InboundCallEvent, menu *models.IVRMenu) *protocol.Response {
	outcome := r.machine.Enter(ctx, event.TenantID, menu.ID, event.CallID)
	r.metrics.CallRouted(outcomeIVR)
	return r.renderIVROutcome(ctx, event, menu.ID, outcome)
}

// HandleIVRTurn processes a gather callback for an in-progress IVR
// interaction.
func (r *Resolver) HandleIVRTurn(ctx context.Context, event models.InboundCallEvent, menuID int64) *protocol.Response {
	outcome := r.machine.HandleTurn(ctx, event.TenantID, menuID, event.CallID, event.Digits)
	return r.renderIVROutcome(ctx, event, menuID, outcome)
}

// renderIVROutcome turns a machine outcome into a protocol response.
func (r *Resolver) renderIVROutcome(ctx context.Context, event models.InboundCallEvent, menuID int64, outcome ivr.Outcome) *protocol.Response {
	switch outcome.Kind {
	case ivr.OutcomePrompt:
		resp := protocol.New()
		if outcome.Say != "" {
			resp.Say(outcome.Say)
		}
		return resp.Gather(outcome.Prompt, r.ivrCallbackURL(event.TenantID, menuID))

	case ivr.OutcomeRouted:
		return r.routeTarget(ctx, event, outcome.Target, 0)

	case ivr.OutcomeHangup:
		r.metrics.CallRouted(outcomeHangup)
		return protocol.New().Hangup()

	default: // ivr.OutcomeError
		r.metrics.CallRouted(outcomeUnavailable)
		resp := protocol.New()
		if outcome.Say != "" {
			resp.Say(outcome.Say)
		}
		return resp.Hangup()
	}
}

// routeOutbound authorizes and trunk-selects an outbound call from an
// internal extension.
func (r *Resolver) routeOutbound(ctx context.Context, event models.InboundCallEvent, logger *slog.Logger) *protocol.Response {
	entry, err := r.matcher.FindTrunk(ctx, event.TenantID, event.To)
	if err != nil {
		logger.Error("whitelist lookup failed", "error", err)
		return r.unavailable()
	}
	if entry == nil {
		logger.Info("outbound destination denied")
		r.metrics.CallRouted(outcomeDenied)
		return protocol.New().Busy(msgNotAuthorized)
	}

	logger.Info("outbound call authorized", "trunk", entry.TrunkName)
	r.metrics.CallRouted(outcomeDialed)
	return protocol.New().Dial(event.To, protocol.DefaultDialTimeout, entry.TrunkName)
}

// ResolveDestination resolves a destination {type, id} pair to a
// validated routing target. It implements ivr.DestinationResolver.
// Extension ids are retried as extension numbers to tolerate data that
// stores a number where an id belongs. Inactive entities resolve to
// nil; conference rooms are always valid.
func (r *Resolver) ResolveDestination(ctx context.Context, tenantID int64, destType string, destID int64) (*models.RoutingTarget, error) {
	switch destType {
	case models.DestHangup:
		return &models.RoutingTarget{Kind: models.TargetHangup, TenantID: tenantID}, nil

	case models.DestVoicemail:
		return &models.RoutingTarget{Kind: models.TargetVoicemail, TenantID: tenantID}, nil

	case models.DestExtension:
		ext, err := r.extensions.GetByID(ctx, tenantID, destID)
		if err != nil {
			return nil, err
		}
		if ext == nil {
			ext, err = r.extensions.GetByNumber(ctx, tenantID, strconv.FormatInt(destID, 10))
			if err != nil {
				return nil, err
			}
		}
		if ext == nil || !ext.Active {
			return nil, nil
		}
		return &models.RoutingTarget{Kind: models.TargetExtension, TenantID: tenantID, Extension: ext}, nil

	case models.DestRingGroup:
		rg, err := r.ringGroups.GetByID(ctx, tenantID, destID)
		if err != nil {
			return nil, err
		}
		if rg == nil || !rg.Active {
			return nil, nil
		}
		return &models.RoutingTarget{Kind: models.TargetRingGroup, TenantID: tenantID, RingGroup: rg}, nil

	case models.DestConference:
		conf, err := r.conferences.GetByID(ctx, tenantID, destID)
		if err != nil {
			return nil, err
		}
		if conf == nil {
			return nil, nil
		}
		return &models.RoutingTarget{Kind: models.TargetConference, TenantID: tenantID, Conference: conf}, nil

	case models.DestIVRMenu:
		menu, err := r.menus.GetByID(ctx, tenantID, destID)
		if err != nil {
			return nil, err
		}
		if menu == nil || !menu.Active {
			return nil, nil
		}
		return &models.RoutingTarget{Kind: models.TargetIVRMenu, TenantID: tenantID, IVRMenu: menu}, nil

	case models.DestAIAssistant:
		ext, err := r.extensions.GetByID(ctx, tenantID, destID)
		if err != nil {
			return nil, err
		}
		if ext == nil || !ext.Active || ext.AssistantURI == "" {
			return nil, nil
		}
		return &models.RoutingTarget{Kind: models.TargetAIAssistant, TenantID: tenantID, AssistantURI: ext.AssistantURI}, nil

	default:
		return nil, fmt.Errorf("unknown destination type: %s", destType)
	}
}

// InvalidateExtension drops the cached lookup for a tenant's extension
// number. Called by the provisioning layer after writes.
func (r *Resolver) InvalidateExtension(ctx context.Context, tenantID int64, number string) {
	r.cache.Forget(ctx, extensionKey(tenantID, number))
}

// InvalidateBusinessHours drops the tenant's cached active schedule.
func (r *Resolver) InvalidateBusinessHours(ctx context.Context, tenantID int64) {
	r.cache.Forget(ctx, scheduleKey(tenantID))
}

// cachedExtension reads an extension by number through the cache layer.
func (r *Resolver) cachedExtension(ctx context.Context, tenantID int64, number string) (*models.Extension, error) {
	return cache.Remember(ctx, r.cache, extensionKey(tenantID, number), extensionCacheTTL,
		func(ctx context.Context) (*models.Extension, error) {
			return r.extensions.GetByNumber(ctx, tenantID, number)
		})
}

// cachedSchedule reads the tenant's active schedule through the cache
// layer.
func (r *Resolver) cachedSchedule(ctx context.Context, tenantID int64) (*models.BusinessHoursSchedule, error) {
	return cache.Remember(ctx, r.cache, scheduleKey(tenantID), businessHoursCacheTTL,
		func(ctx context.Context) (*models.BusinessHoursSchedule, error) {
			return r.schedules.GetActive(ctx, tenantID)
		})
}

// unavailable is the generic degraded response: the carrier always gets
// a valid terminal document.
func (r *Resolver) unavailable() *protocol.Response {
	r.metrics.CallRouted(outcomeUnavailable)
	return protocol.New().Say(msgUnavailable).Hangup()
}

// ivrCallbackURL is where the carrier posts gathered digits.
func (r *Resolver) ivrCallbackURL(tenantID, menuID int64) string {
	return fmt.Sprintf("%s/webhook/%d/voice/ivr/%d", r.baseURL, tenantID, menuID)
}

// conferenceAddress maps a room to its dialable bridge address.
func conferenceAddress(c *models.ConferenceRoom) string {
	return fmt.Sprintf("sip:conf-%s@conference.internal", c.Number)
}

func extensionKey(tenantID int64, number string) string {
	return fmt.Sprintf("ext:%d:%s", tenantID, number)
}

func scheduleKey(tenantID int64) string {
	return fmt.Sprintf("bh:%d", tenantID)
}
