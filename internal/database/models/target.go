package models

// TargetKind enumerates the variants of RoutingTarget. Dispatch is
// over this explicit enum, never over entity type strings.
type TargetKind int

const (
	TargetHangup TargetKind = iota
	TargetExtension
	TargetRingGroup
	TargetConference
	TargetIVRMenu
	TargetAIAssistant
	TargetVoicemail
)

// String returns the kind name for logging.
func (k TargetKind) String() string {
	switch k {
	case TargetHangup:
		return "hangup"
	case TargetExtension:
		return "extension"
	case TargetRingGroup:
		return "ring_group"
	case TargetConference:
		return "conference_room"
	case TargetIVRMenu:
		return "ivr_menu"
	case TargetAIAssistant:
		return "ai_assistant"
	case TargetVoicemail:
		return "voicemail"
	default:
		return "unknown"
	}
}

// RoutingTarget is the tagged union produced by resolution steps. Only
// the field matching Kind is set. Targets are never persisted; they
// live for one routing decision.
type RoutingTarget struct {
	Kind     TargetKind
	TenantID int64

	Extension    *Extension
	RingGroup    *RingGroup
	Conference   *ConferenceRoom
	IVRMenu      *IVRMenu
	AssistantURI string
}
