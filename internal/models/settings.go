// ABOUTME: ConversationSettings are the per-conversation mediation switches kept in the directory
// ABOUTME: Unknown conversations are mediated with every switch on
package models

import "time"

// ConversationSettings says which mediation the agent may start in one conversation.
// Escalation is never switched off.
type ConversationSettings struct {
	ConversationID string `json:"conversation_id"`
	// Mediation allows facilitation and topic redirection
	Mediation bool `json:"mediation"`
	// ActivityGuidance allows facilitation while an activity is running
	ActivityGuidance bool      `json:"activity_guidance"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// DefaultConversationSettings returns the settings of a conversation nobody configured
func DefaultConversationSettings(conversationID string) ConversationSettings {
	return ConversationSettings{ConversationID: conversationID, Mediation: true, ActivityGuidance: true}
}

// Allows reports whether a decision to act may go ahead in a conversation in state st
func (s ConversationSettings) Allows(action Action, st *ConversationState) bool {
	switch action {
	case ActionFacilitate:
		if st != nil && st.Activity != nil {
			return s.ActivityGuidance
		}
		return s.Mediation
	case ActionRedirectTopic:
		return s.Mediation
	default:
		return true
	}
}
