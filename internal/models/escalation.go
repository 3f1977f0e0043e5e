// ABOUTME: EscalationEvent packages conversation context for a human supervisor
// ABOUTME: The context snapshot is a copy taken at trigger time, never a live reference
package models

import (
	"time"

	"github.com/google/uuid"
)

// EscalationStatus tracks the escalation lifecycle
type EscalationStatus string

const (
	StatusCreated      EscalationStatus = "created"
	StatusDelivered    EscalationStatus = "delivered"
	StatusAcknowledged EscalationStatus = "acknowledged"
	StatusTimedOut     EscalationStatus = "timed_out"
	StatusLost         EscalationStatus = "lost"
)

// Terminal reports whether no further transition is expected
func (s EscalationStatus) Terminal() bool {
	return s == StatusAcknowledged || s == StatusTimedOut || s == StatusLost
}

// DeliveryChannel names the channel that carried an escalation
type DeliveryChannel string

const (
	ChannelPrimary  DeliveryChannel = "primary"
	ChannelFallback DeliveryChannel = "fallback"
)

// SignalBreakdown records the sub-signals behind a trigger score
type SignalBreakdown struct {
	Sentiment     float64 `json:"sentiment"`
	Silence       float64 `json:"silence"`
	Participation float64 `json:"participation"`
	Trigger       float64 `json:"trigger"`
}

// EscalationEvent is created when the policy selects escalate
type EscalationEvent struct {
	ID              string           `json:"id"`
	ConversationID  string           `json:"conversation_id"`
	TriggerScore    float64          `json:"trigger_score"`
	Rationale       string           `json:"rationale"`
	// Summary is the human-readable alert sent to supervisors
	Summary         string           `json:"summary,omitempty"`
	Signals         SignalBreakdown  `json:"signals"`
	ContextSnapshot []Turn           `json:"context_snapshot"`
	Participants    []string         `json:"participants"`
	CreatedAt       time.Time        `json:"created_at"`
	Status          EscalationStatus `json:"status"`
	Channel         DeliveryChannel  `json:"channel,omitempty"`
	DeliveredTo     []string         `json:"delivered_to,omitempty"`
	DeliveredAt     time.Time        `json:"delivered_at,omitempty"`
	AcknowledgedBy  string           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  time.Time        `json:"acknowledged_at,omitempty"`
}

// NewEscalationEvent builds an event from a state copy. The turn window is copied again
// so the event never aliases tracker memory.
func NewEscalationEvent(state ConversationState, score float64, rationale string, signals SignalBreakdown, now time.Time) *EscalationEvent {
	return &EscalationEvent{
		ID:              "esc_" + uuid.New().String(),
		ConversationID:  state.ConversationID,
		TriggerScore:    score,
		Rationale:       rationale,
		Signals:         signals,
		ContextSnapshot: CopyTurns(state.TurnWindow),
		Participants:    state.ActiveHumans(),
		CreatedAt:       now.UTC(),
		Status:          StatusCreated,
	}
}

// Clone returns a copy safe to hand to another goroutine
func (e *EscalationEvent) Clone() EscalationEvent {
	out := *e
	out.ContextSnapshot = CopyTurns(e.ContextSnapshot)
	out.Participants = append([]string(nil), e.Participants...)
	out.DeliveredTo = append([]string(nil), e.DeliveredTo...)
	return out
}

// DeliveryResult reports the outcome of dispatching one escalation
type DeliveryResult struct {
	EventID     string           `json:"event_id"`
	Status      EscalationStatus `json:"status"`
	Channel     DeliveryChannel  `json:"channel,omitempty"`
	DeliveredTo []string         `json:"delivered_to,omitempty"`
	Attempts    int              `json:"attempts"`
	Err         error            `json:"-"`
}
