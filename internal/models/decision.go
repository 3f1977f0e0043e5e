// ABOUTME: InterventionDecision is the per-cycle output of the intervention policy
// ABOUTME: Always carries a machine-readable rationale for auditability
package models

// Action is what the mediator does after a scoring cycle
type Action string

const (
	ActionNone           Action = "none"
	ActionFacilitate     Action = "facilitate"
	ActionRedirectTopic  Action = "redirect_topic"
	ActionPrivateCheckin Action = "private_checkin"
	ActionEscalate       Action = "escalate"
)

// Priority orders actions: the most protective action has the highest value
func (a Action) Priority() int {
	switch a {
	case ActionEscalate:
		return 4
	case ActionPrivateCheckin:
		return 3
	case ActionRedirectTopic:
		return 2
	case ActionFacilitate:
		return 1
	default:
		return 0
	}
}

// NeedsText reports whether the action sends a generated message
func (a Action) NeedsText() bool {
	return a == ActionFacilitate || a == ActionRedirectTopic || a == ActionPrivateCheckin
}

// TargetKind says whether a decision addresses the conversation or one user
type TargetKind string

const (
	TargetConversation TargetKind = "conversation"
	TargetUser         TargetKind = "user"
)

// Target addresses a decision
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// InterventionDecision is produced once per scoring cycle
type InterventionDecision struct {
	Action    Action `json:"action"`
	Target    Target `json:"target"`
	Rationale string `json:"rationale"`
	// OfferPrivateTo names a triggered user a redirect should offer a private channel to
	OfferPrivateTo string `json:"offer_private_to,omitempty"`
}
