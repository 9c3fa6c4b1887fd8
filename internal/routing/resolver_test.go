package routing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trunkline/trunkline/internal/cache"
	"github.com/trunkline/trunkline/internal/database/models"
	"github.com/trunkline/trunkline/internal/ivr"
	"github.com/trunkline/trunkline/internal/protocol"
	"github.com/trunkline/trunkline/internal/ringgroup"
	"github.com/trunkline/trunkline/internal/whitelist"
)

// fixture is an in-memory tenant dataset backing all repository
// interfaces the resolver depends on.
type fixture struct {
	extensionsByID     map[int64]*models.Extension
	extensionsByNumber map[string]*models.Extension
	ringGroups         map[int64]*models.RingGroup
	members            map[int64][]models.RingGroupMember
	schedulesByID      map[int64]*models.BusinessHoursSchedule
	activeSchedule     *models.BusinessHoursSchedule
	menus              map[int64]*models.IVRMenu
	dids               map[string]*models.DIDNumber
	whitelist          []models.OutboundWhitelistEntry
	conferences        map[int64]*models.ConferenceRoom
}

func (f *fixture) GetByID(ctx context.Context, tenantID, id int64) (*models.Extension, error) {
	return f.extensionsByID[id], nil
}

func (f *fixture) GetByNumber(ctx context.Context, tenantID int64, number string) (*models.Extension, error) {
	return f.extensionsByNumber[number], nil
}

type ringGroupRepo struct{ f *fixture }

func (r ringGroupRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.RingGroup, error) {
	return r.f.ringGroups[id], nil
}

func (r ringGroupRepo) GetByName(ctx context.Context, tenantID int64, name string) (*models.RingGroup, error) {
	for _, rg := range r.f.ringGroups {
		if rg.Name == name {
			return rg, nil
		}
	}
	return nil, nil
}

func (r ringGroupRepo) ListMembers(ctx context.Context, tenantID, ringGroupID int64) ([]models.RingGroupMember, error) {
	return r.f.members[ringGroupID], nil
}

type scheduleRepo struct{ f *fixture }

func (r scheduleRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.BusinessHoursSchedule, error) {
	return r.f.schedulesByID[id], nil
}

func (r scheduleRepo) GetActive(ctx context.Context, tenantID int64) (*models.BusinessHoursSchedule, error) {
	return r.f.activeSchedule, nil
}

type menuRepo struct{ f *fixture }

func (r menuRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.IVRMenu, error) {
	return r.f.menus[id], nil
}

type didRepo struct{ f *fixture }

func (r didRepo) GetByNumber(ctx context.Context, tenantID int64, number string) (*models.DIDNumber, error) {
	return r.f.dids[number], nil
}

type whitelistRepo struct{ f *fixture }

func (r whitelistRepo) ListForTenant(ctx context.Context, tenantID int64) ([]models.OutboundWhitelistEntry, error) {
	return r.f.whitelist, nil
}

type conferenceRepo struct{ f *fixture }

func (r conferenceRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.ConferenceRoom, error) {
	return r.f.conferences[id], nil
}

type testLockRepo struct {
	mu   sync.Mutex
	held map[string]string
}

func (r *testLockRepo) Acquire(ctx context.Context, name, holder string, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == nil {
		r.held = make(map[string]string)
	}
	if _, taken := r.held[name]; taken {
		return false, nil
	}
	r.held[name] = holder
	return true, nil
}

func (r *testLockRepo) Release(ctx context.Context, name, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[name] == holder {
		delete(r.held, name)
	}
	return nil
}

func newFixture() *fixture {
	return &fixture{
		extensionsByID:     make(map[int64]*models.Extension),
		extensionsByNumber: make(map[string]*models.Extension),
		ringGroups:         make(map[int64]*models.RingGroup),
		members:            make(map[int64][]models.RingGroupMember),
		schedulesByID:      make(map[int64]*models.BusinessHoursSchedule),
		menus:              make(map[int64]*models.IVRMenu),
		dids:               make(map[string]*models.DIDNumber),
		conferences:        make(map[int64]*models.ConferenceRoom),
	}
}

func (f *fixture) addExtension(ext *models.Extension) {
	f.extensionsByID[ext.ID] = ext
	f.extensionsByNumber[ext.Number] = ext
}

func newTestResolver(t *testing.T, f *fixture) *Resolver {
	t.Helper()
	logger := slog.Default()

	layer := cache.New(nil, &testLockRepo{}, logger)
	t.Cleanup(layer.Close)

	r := NewResolver(Config{
		Extensions:  f,
		RingGroups:  ringGroupRepo{f},
		Schedules:   scheduleRepo{f},
		Menus:       menuRepo{f},
		DIDs:        didRepo{f},
		Conferences: conferenceRepo{f},
		Cache:       layer,
		Logger:      logger,
		BaseURL:     "https://pbx.example.com",
	})
	r.SetCollaborators(
		whitelist.NewMatcher(whitelistRepo{f}, logger),
		ringgroup.NewHunter(ringGroupRepo{f}, f, layer, nil, logger),
		ivr.NewMachine(menuRepo{f}, layer, r, nil, logger),
	)
	return r
}

func renderResp(t *testing.T, resp *protocol.Response) string {
	t.Helper()
	out, err := resp.Render()
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	return out
}

func event(to, from string) models.InboundCallEvent {
	return models.InboundCallEvent{TenantID: 1, To: to, From: from, CallID: "call-1"}
}

func TestHandleInboundDirectExtension(t *testing.T) {
	f := newFixture()
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: true, SIPAddress: "sip:alice@pbx.local",
	})
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("2001", "+972501234567")))
	if !strings.Contains(got, "<Sip>sip:alice@pbx.local</Sip>") {
		t.Errorf("expected dial to alice:\n%s", got)
	}
}

func TestHandleInboundInactiveExtensionNotFound(t *testing.T) {
	f := newFixture()
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: false, SIPAddress: "sip:alice@pbx.local",
	})
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("2001", "+972501234567")))
	if !strings.Contains(got, "not in service") {
		t.Errorf("expected not-in-service announcement:\n%s", got)
	}
	if !strings.Contains(got, "<Hangup>") {
		t.Errorf("expected terminal hangup:\n%s", got)
	}
}

func TestHandleInboundDIDToIVR(t *testing.T) {
	f := newFixture()
	var menuID int64 = 7
	f.dids["+97239999999"] = &models.DIDNumber{
		ID: 1, TenantID: 1, Number: "+97239999999",
		RoutingType: models.DestIVRMenu, TargetID: &menuID,
	}
	f.menus[7] = &models.IVRMenu{
		ID: 7, TenantID: 1, Active: true,
		Greeting: "Press 1 for sales.", MaxTurns: 3,
		FailoverType: models.DestHangup,
	}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("+97239999999", "+972501234567")))
	if !strings.Contains(got, "<Say>Press 1 for sales.</Say>") {
		t.Errorf("expected menu greeting:\n%s", got)
	}
	if !strings.Contains(got, `action="https://pbx.example.com/webhook/1/voice/ivr/7"`) {
		t.Errorf("expected gather callback for menu 7:\n%s", got)
	}
}

func TestHandleInboundRingGroupExtension(t *testing.T) {
	f := newFixture()
	var rgID int64 = 3
	f.addExtension(&models.Extension{
		ID: 20, TenantID: 1, Number: "2100", Type: models.ExtensionTypeRingGroup,
		Active: true, RingGroupID: &rgID,
	})
	f.ringGroups[3] = &models.RingGroup{
		ID: 3, TenantID: 1, Name: "support", Active: true,
		Strategy: models.StrategySimultaneous, RingTimeout: 25,
	}
	f.members[3] = []models.RingGroupMember{
		{ExtensionID: 10, Priority: 1},
		{ExtensionID: 11, Priority: 2},
	}
	f.extensionsByID[10] = &models.Extension{ID: 10, TenantID: 1, Active: true, SIPAddress: "sip:a@x"}
	f.extensionsByID[11] = &models.Extension{ID: 11, TenantID: 1, Active: true, SIPAddress: "sip:b@x"}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("2100", "+972501234567")))
	if !strings.Contains(got, "<Sip>sip:a@x</Sip>") || !strings.Contains(got, "<Sip>sip:b@x</Sip>") {
		t.Errorf("expected simultaneous dial of both members:\n%s", got)
	}
	if !strings.Contains(got, `timeout="25"`) {
		t.Errorf("expected group ring timeout:\n%s", got)
	}
}

func TestHandleInboundEmptyRingGroupFallsBack(t *testing.T) {
	f := newFixture()
	var rgID int64 = 3
	f.addExtension(&models.Extension{
		ID: 20, TenantID: 1, Number: "2100", Type: models.ExtensionTypeRingGroup,
		Active: true, RingGroupID: &rgID,
	})
	f.ringGroups[3] = &models.RingGroup{
		ID: 3, TenantID: 1, Name: "support", Active: true,
		Strategy:       models.StrategySimultaneous,
		FallbackAction: models.DestVoicemail,
	}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("2100", "+972501234567")))
	if !strings.Contains(got, "<Redirect>/voicemail</Redirect>") {
		t.Errorf("expected voicemail fallback:\n%s", got)
	}
}

func TestHandleInboundClosedHours(t *testing.T) {
	f := newFixture()
	f.activeSchedule = &models.BusinessHoursSchedule{
		ID: 5, TenantID: 1, Active: true, Timezone: "UTC",
		// No enabled days: always closed.
		ClosedAction: models.RoutingAction{Type: models.DestVoicemail},
	}
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: true, SIPAddress: "sip:alice@pbx.local",
	})
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("2001", "+972501234567")))
	if !strings.Contains(got, "<Redirect>/voicemail</Redirect>") {
		t.Errorf("closed hours should override extension dialing:\n%s", got)
	}
}

func TestHandleInboundOutboundWhitelisted(t *testing.T) {
	f := newFixture()
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: true, SIPAddress: "sip:alice@pbx.local",
	})
	f.whitelist = []models.OutboundWhitelistEntry{
		{ID: 1, TenantID: 1, DestinationCountry: "IL", TrunkName: "tel-aviv"},
	}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("+972501234567", "2001")))
	if !strings.Contains(got, `trunk="tel-aviv"`) {
		t.Errorf("expected whitelisted trunk:\n%s", got)
	}
	if !strings.Contains(got, "<Number>+972501234567</Number>") {
		t.Errorf("expected PSTN dial of destination:\n%s", got)
	}
}

func TestHandleInboundOutboundDenied(t *testing.T) {
	f := newFixture()
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: true, SIPAddress: "sip:alice@pbx.local",
	})
	f.whitelist = []models.OutboundWhitelistEntry{
		{ID: 1, TenantID: 1, DestinationCountry: "IL", TrunkName: "tel-aviv"},
	}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("+442071234567", "2001")))
	if !strings.Contains(got, `<Reject reason="busy">`) {
		t.Errorf("expected busy rejection for non-whitelisted destination:\n%s", got)
	}
}

func TestHandleInboundNothingMatches(t *testing.T) {
	r := newTestResolver(t, newFixture())

	got := renderResp(t, r.HandleInbound(context.Background(), event("9999", "+972501234567")))
	if !strings.Contains(got, "not in service") {
		t.Errorf("expected not-in-service:\n%s", got)
	}
}

func TestHandleInboundConferenceExtension(t *testing.T) {
	f := newFixture()
	var confID int64 = 4
	f.addExtension(&models.Extension{
		ID: 30, TenantID: 1, Number: "3000", Type: models.ExtensionTypeConference,
		Active: true, ConferenceID: &confID,
	})
	f.conferences[4] = &models.ConferenceRoom{ID: 4, TenantID: 1, Name: "standup", Number: "3000"}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("3000", "+972501234567")))
	if !strings.Contains(got, "<Sip>sip:conf-3000@conference.internal</Sip>") {
		t.Errorf("expected conference bridge dial:\n%s", got)
	}
}

func TestHandleIVRTurnRoutesOption(t *testing.T) {
	f := newFixture()
	f.menus[7] = &models.IVRMenu{
		ID: 7, TenantID: 1, Active: true, Greeting: "Menu.", MaxTurns: 3,
		FailoverType: models.DestHangup,
		Options: []models.IVRMenuOption{
			{Digits: "1", DestType: models.DestExtension, DestID: 10, Priority: 1},
		},
	}
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: true, SIPAddress: "sip:alice@pbx.local",
	})
	r := newTestResolver(t, f)

	ev := event("+97239999999", "+972501234567")
	ev.Digits = "1"
	got := renderResp(t, r.HandleIVRTurn(context.Background(), ev, 7))
	if !strings.Contains(got, "<Sip>sip:alice@pbx.local</Sip>") {
		t.Errorf("expected option 1 to dial alice:\n%s", got)
	}
}

func TestHandleIVRTurnInvalidReplays(t *testing.T) {
	f := newFixture()
	f.menus[7] = &models.IVRMenu{
		ID: 7, TenantID: 1, Active: true, Greeting: "Menu.", MaxTurns: 3,
		FailoverType: models.DestHangup,
	}
	r := newTestResolver(t, f)

	ev := event("+97239999999", "+972501234567")
	ev.Digits = "9"
	got := renderResp(t, r.HandleIVRTurn(context.Background(), ev, 7))
	if !strings.Contains(got, "<Say>Invalid option.</Say>") {
		t.Errorf("expected invalid-option announcement:\n%s", got)
	}
	if !strings.Contains(got, "<Gather") {
		t.Errorf("expected replayed gather:\n%s", got)
	}
}

func TestHandleIVRTurnMaxTurnsHangsUp(t *testing.T) {
	f := newFixture()
	f.menus[7] = &models.IVRMenu{
		ID: 7, TenantID: 1, Active: true, Greeting: "Menu.", MaxTurns: 1,
		FailoverType: models.DestHangup,
	}
	r := newTestResolver(t, f)
	ctx := context.Background()

	ev := event("+97239999999", "+972501234567")
	ev.Digits = "9"
	first := renderResp(t, r.HandleIVRTurn(ctx, ev, 7))
	if !strings.Contains(first, "<Gather") {
		t.Fatalf("first bad turn should replay:\n%s", first)
	}

	second := renderResp(t, r.HandleIVRTurn(ctx, ev, 7))
	if !strings.Contains(second, "<Hangup>") || strings.Contains(second, "<Gather") {
		t.Errorf("second bad turn should fail over to hangup:\n%s", second)
	}
}

func TestResolveDestinationExtensionByNumberFallback(t *testing.T) {
	f := newFixture()
	// Stored destination id 2001 is actually the extension number.
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: true, SIPAddress: "sip:alice@pbx.local",
	})
	r := newTestResolver(t, f)

	target, err := r.ResolveDestination(context.Background(), 1, models.DestExtension, 2001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target == nil || target.Kind != models.TargetExtension {
		t.Fatalf("target = %+v, want extension", target)
	}
	if target.Extension.ID != 10 {
		t.Errorf("extension id = %d, want 10", target.Extension.ID)
	}
}

func TestResolveDestinationInactive(t *testing.T) {
	f := newFixture()
	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: false,
	})
	r := newTestResolver(t, f)

	target, err := r.ResolveDestination(context.Background(), 1, models.DestExtension, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != nil {
		t.Errorf("inactive extension must not resolve, got %+v", target)
	}
}

func TestResolveDestinationUnknownType(t *testing.T) {
	r := newTestResolver(t, newFixture())

	_, err := r.ResolveDestination(context.Background(), 1, "carrier_pigeon", 1)
	if err == nil {
		t.Fatal("expected error for unknown destination type")
	}
}

func TestRouteActionBusinessHoursIndirection(t *testing.T) {
	f := newFixture()
	var schedID int64 = 5
	f.dids["+97239999999"] = &models.DIDNumber{
		ID: 1, TenantID: 1, Number: "+97239999999",
		RoutingType: models.DestBusinessHours, TargetID: &schedID,
	}
	f.schedulesByID[5] = &models.BusinessHoursSchedule{
		ID: 5, TenantID: 1, Active: true, Timezone: "UTC",
		ClosedAction: models.RoutingAction{Type: models.DestVoicemail},
	}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("+97239999999", "+972501234567")))
	if !strings.Contains(got, "<Redirect>/voicemail</Redirect>") {
		t.Errorf("expected DID to route through the schedule's closed action:\n%s", got)
	}
}

func TestRouteActionRecursionBounded(t *testing.T) {
	f := newFixture()
	var schedID int64 = 5
	f.dids["+97239999999"] = &models.DIDNumber{
		ID: 1, TenantID: 1, Number: "+97239999999",
		RoutingType: models.DestBusinessHours, TargetID: &schedID,
	}
	// Schedule whose closed action points back at itself.
	f.schedulesByID[5] = &models.BusinessHoursSchedule{
		ID: 5, TenantID: 1, Active: true, Timezone: "UTC",
		ClosedAction: models.RoutingAction{Type: models.DestBusinessHours, TargetID: &schedID},
	}
	r := newTestResolver(t, f)

	got := renderResp(t, r.HandleInbound(context.Background(), event("+97239999999", "+972501234567")))
	if !strings.Contains(got, "<Hangup>") {
		t.Errorf("self-referencing schedules must terminate with a valid document:\n%s", got)
	}
}

func TestInvalidateExtension(t *testing.T) {
	f := newFixture()
	r := newTestResolver(t, f)
	ctx := context.Background()

	// Miss populates nothing (no primary), but a later provisioning
	// write must still be visible on the next call.
	got := renderResp(t, r.HandleInbound(ctx, event("2001", "+972501234567")))
	if !strings.Contains(got, "not in service") {
		t.Fatalf("expected not-in-service before provisioning:\n%s", got)
	}

	f.addExtension(&models.Extension{
		ID: 10, TenantID: 1, Number: "2001", Type: models.ExtensionTypeUser,
		Active: true, SIPAddress: "sip:alice@pbx.local",
	})
	r.InvalidateExtension(ctx, 1, "2001")

	got = renderResp(t, r.HandleInbound(ctx, event("2001", "+972501234567")))
	if !strings.Contains(got, "<Sip>sip:alice@pbx.local</Sip>") {
		t.Errorf("expected fresh lookup after invalidation:\n%s", got)
	}
}
