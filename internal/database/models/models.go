package models

import "time"

// Extension types.
const (
	ExtensionTypeUser        = "user"
	ExtensionTypeRingGroup   = "ring_group"
	ExtensionTypeConference  = "conference"
	ExtensionTypeIVR         = "ivr"
	ExtensionTypeAIAssistant = "ai_assistant"
	ExtensionTypeForward     = "forward"
)

// Ring strategies. RoundRobin and Sequential are accepted but currently
// ring all members simultaneously; see ringgroup.Hunter.
const (
	StrategySimultaneous = "simultaneous"
	StrategyRoundRobin   = "round_robin"
	StrategySequential   = "sequential"
)

// Routing action / destination types shared by DIDs, business hours
// actions, IVR options and ring group fallbacks.
const (
	DestExtension     = "extension"
	DestRingGroup     = "ring_group"
	DestConference    = "conference_room"
	DestIVRMenu       = "ivr_menu"
	DestBusinessHours = "business_hours"
	DestAIAssistant   = "ai_assistant"
	DestVoicemail     = "voicemail"
	DestHangup        = "hangup"
)

// Schedule exception types.
const (
	ExceptionClosed       = "closed"
	ExceptionSpecialHours = "special_hours"
)

// Extension represents an internal addressable endpoint: a user phone,
// a ring group, a conference room, an IVR menu, an AI assistant or a
// plain forwarder. Type-specific configuration lives in the nullable
// reference columns.
type Extension struct {
	ID       int64
	TenantID int64
	Number   string
	Name     string
	Type     string
	Active   bool

	// SIPAddress is the session-layer address dialed for user and
	// forward extensions (a sip: URI or an internal routing token).
	SIPAddress string

	// Type-specific references; only the one matching Type is set.
	RingGroupID  *int64
	ConferenceID *int64
	IVRMenuID    *int64
	AssistantURI string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RingGroup represents a set of extensions rung together.
type RingGroup struct {
	ID          int64
	TenantID    int64
	Name        string
	Active      bool
	Strategy    string
	RingTimeout int
	RingTurns   int

	// FallbackAction is the destination type used when no member can
	// be rung; FallbackTargetID references the fallback entity.
	FallbackAction   string
	FallbackTargetID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RingGroupMember ties an extension into a ring group with an ordering
// priority (ascending; lower rings first in ordered strategies).
type RingGroupMember struct {
	ID          int64
	RingGroupID int64
	ExtensionID int64
	Priority    int
}

// TimeRange is a half-open wall-clock interval [Start, End) in
// "HH:MM:SS". Comparison is lexicographic.
type TimeRange struct {
	Start string
	End   string
}

// ScheduleDay holds one weekday's opening hours. Weekday follows
// time.Weekday numbering (Sunday = 0).
type ScheduleDay struct {
	Weekday int
	Enabled bool
	Ranges  []TimeRange
}

// ScheduleException overrides the weekday schedule on a specific
// calendar date ("2006-01-02"). A closed exception shuts the whole
// day; a special_hours exception replaces the day's ranges.
type ScheduleException struct {
	Date   string
	Type   string
	Ranges []TimeRange
}

// RoutingAction is a {type, target} pair configured on schedules,
// DIDs, IVR options and ring group fallbacks.
type RoutingAction struct {
	Type     string
	TargetID *int64
}

// BusinessHoursSchedule gates routing on day/time/holiday rules.
type BusinessHoursSchedule struct {
	ID       int64
	TenantID int64
	Name     string
	Active   bool
	Timezone string

	OpenAction   RoutingAction
	ClosedAction RoutingAction

	Days       []ScheduleDay
	Exceptions []ScheduleException

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IVRMenuOption maps an exact digit string to a destination.
type IVRMenuOption struct {
	ID       int64
	MenuID   int64
	Digits   string
	DestType string
	DestID   int64
	Priority int
}

// IVRMenu is a digit-collecting menu played to the caller.
type IVRMenu struct {
	ID       int64
	TenantID int64
	Name     string
	Active   bool
	Greeting string
	MaxTurns int

	FailoverType string
	FailoverID   *int64

	Options []IVRMenuOption

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DIDNumber is a tenant-owned public number with a configured routing
// type and target.
type DIDNumber struct {
	ID          int64
	TenantID    int64
	Number      string
	Name        string
	RoutingType string
	TargetID    *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutboundWhitelistEntry authorizes outbound dialing toward a
// destination and names the trunk to use. DestinationCountry accepts
// either an ISO-3166 code ("IL") or a raw calling code ("+972" or
// "972") interchangeably.
type OutboundWhitelistEntry struct {
	ID                 int64
	TenantID           int64
	DestinationCountry string
	DestinationPrefix  string
	TrunkName          string
	CreatedAt          time.Time
}

// ConferenceRoom is a dial-in bridge. Rooms have no active flag and
// are always considered routable.
type ConferenceRoom struct {
	ID        int64
	TenantID  int64
	Name      string
	Number    string
	CreatedAt time.Time
}

// RoutingLock is a row in the durable lock table used when the primary
// lock backend is unavailable. Expired rows are reaped lazily.
type RoutingLock struct {
	Name       string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// InboundCallEvent is the per-webhook unit of work. Immutable once
// parsed; scoped to a single HTTP request.
type InboundCallEvent struct {
	TenantID int64
	To       string
	From     string
	CallID   string
	Digits   string
}
