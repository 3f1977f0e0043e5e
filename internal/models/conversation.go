// ABOUTME: ConversationState is the rolling per-conversation state owned by the tracker
// ABOUTME: Other components only ever see copies produced by Clone
package models

import (
	"sort"
	"time"
)

// ConversationKind distinguishes group conversations from 1:1 chats
type ConversationKind string

const (
	KindGroup  ConversationKind = "group"
	KindDirect ConversationKind = "direct"
)

// Activity is a structured activity running inside a conversation
type Activity struct {
	Title     string    `json:"title"`
	Topic     []string  `json:"topic,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// ConversationState holds the tracked state of one conversation
type ConversationState struct {
	ConversationID      string              `json:"conversation_id"`
	Kind                ConversationKind    `json:"kind"`
	Participants        map[string]struct{} `json:"-"`
	Departed            map[string]struct{} `json:"-"`
	TurnWindow          []Turn              `json:"turn_window"`
	SilenceSince        time.Time           `json:"silence_since"`
	ParticipationCounts map[string]int      `json:"participation_counts"`
	TensionScore        float64             `json:"tension_score"`
	LastInterventionAt  time.Time           `json:"last_intervention_at"`
	Topic               []string            `json:"topic,omitempty"`
	Activity            *Activity           `json:"activity,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

// NewConversationState creates empty state for a conversation
func NewConversationState(id string, kind ConversationKind, now time.Time) *ConversationState {
	if kind == "" {
		kind = KindGroup
	}
	return &ConversationState{
		ConversationID:      id,
		Kind:                kind,
		Participants:        make(map[string]struct{}),
		Departed:            make(map[string]struct{}),
		ParticipationCounts: make(map[string]int),
		SilenceSince:        now,
		CreatedAt:           now,
	}
}

// Clone returns a deep copy that shares no memory with the receiver
func (s *ConversationState) Clone() ConversationState {
	out := *s
	out.Participants = make(map[string]struct{}, len(s.Participants))
	for id := range s.Participants {
		out.Participants[id] = struct{}{}
	}
	out.Departed = make(map[string]struct{}, len(s.Departed))
	for id := range s.Departed {
		out.Departed[id] = struct{}{}
	}
	out.ParticipationCounts = make(map[string]int, len(s.ParticipationCounts))
	for id, n := range s.ParticipationCounts {
		out.ParticipationCounts[id] = n
	}
	out.TurnWindow = CopyTurns(s.TurnWindow)
	if s.Topic != nil {
		out.Topic = append([]string(nil), s.Topic...)
	}
	if s.Activity != nil {
		a := *s.Activity
		a.Topic = append([]string(nil), s.Activity.Topic...)
		out.Activity = &a
	}
	return out
}

// CopyTurns copies a turn slice
func CopyTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// LastActivity is the latest of creation, the last turn and the last intervention
func (s *ConversationState) LastActivity() time.Time {
	last := s.CreatedAt
	for _, t := range []time.Time{s.SilenceSince, s.LastInterventionAt} {
		if t.After(last) {
			last = t
		}
	}
	return last
}

// ActiveHumans returns the sorted ids of present, non-departed human participants
func (s *ConversationState) ActiveHumans() []string {
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		if id == AgentSpeakerID {
			continue
		}
		if _, gone := s.Departed[id]; gone {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HumanTurns returns the turns in the window not produced by the agent, oldest first
func (s *ConversationState) HumanTurns() []Turn {
	out := make([]Turn, 0, len(s.TurnWindow))
	for _, t := range s.TurnWindow {
		if !t.FromAgent {
			out = append(out, t)
		}
	}
	return out
}

// IsParticipant reports whether the user is in the participant set
func (s *ConversationState) IsParticipant(userID string) bool {
	_, ok := s.Participants[userID]
	return ok
}

// TopicKeywords returns the active activity topic if any, else the conversation topic
func (s *ConversationState) TopicKeywords() []string {
	if s.Activity != nil && len(s.Activity.Topic) > 0 {
		return s.Activity.Topic
	}
	return s.Topic
}
