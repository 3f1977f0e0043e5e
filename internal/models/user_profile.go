// ABOUTME: UserProfile represents the structured preferences of a community member
// ABOUTME: Owned by the external profile store; the engine only reads it
package models

import "strings"

// CommunicationPreference describes how a user prefers to be addressed
type CommunicationPreference string

const (
	CommunicationDirect   CommunicationPreference = "direct"
	CommunicationDetailed CommunicationPreference = "detailed"
)

// UserProfile represents user context and preferences
type UserProfile struct {
	UserID           string                  `json:"user_id" yaml:"user_id"`
	DisplayName      string                  `json:"display_name" yaml:"display_name"`
	AgeBand          string                  `json:"age_band,omitempty" yaml:"age_band,omitempty"`
	Interests        []string                `json:"interests,omitempty" yaml:"interests,omitempty"`
	AnxietyTriggers  []string                `json:"anxiety_triggers,omitempty" yaml:"anxiety_triggers,omitempty"`
	Communication    CommunicationPreference `json:"communication" yaml:"communication"`
	EmergencyContact string                  `json:"emergency_contact,omitempty" yaml:"emergency_contact,omitempty"`
}

// PrivateAttributes returns the distinctive values of the profile that must never
// appear in a prompt composed for someone else. Age band and communication
// preference are shared by many users and are not distinctive.
func (p *UserProfile) PrivateAttributes() []string {
	attrs := make([]string, 0, 2+len(p.Interests)+len(p.AnxietyTriggers))
	add := func(v string) {
		if v = strings.TrimSpace(v); v != "" {
			attrs = append(attrs, v)
		}
	}
	add(p.DisplayName)
	add(p.EmergencyContact)
	for _, i := range p.Interests {
		add(i)
	}
	for _, t := range p.AnxietyTriggers {
		add(t)
	}
	return attrs
}

// Name returns the display name, falling back to the user id
func (p *UserProfile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}
