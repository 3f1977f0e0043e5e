// ABOUTME: Inbound events delivered by the chat-platform collaborator
// ABOUTME: Turn events carry text, lifecycle events change membership or activity
package models

import (
	"errors"
	"strings"
	"time"
)

// EventType identifies what an inbound event does to conversation state
type EventType string

const (
	EventTurn          EventType = "turn"
	EventJoin          EventType = "join"
	EventLeave         EventType = "leave"
	EventActivityStart EventType = "activity_start"
	EventActivityEnd   EventType = "activity_end"
	// EventTick carries no content; it lets silence be noticed without new messages
	EventTick EventType = "tick"
)

// MessageType mirrors the chat platform message classification
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageCommand MessageType = "command"
)

// Event is a single inbound event for one conversation
type Event struct {
	Type           EventType        `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Kind           ConversationKind `json:"kind,omitempty"`
	SpeakerID      string           `json:"speaker_id,omitempty"`
	Text           string           `json:"text,omitempty"`
	MessageType    MessageType      `json:"message_type,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	// Activity fields apply to activity_start
	ActivityTitle string   `json:"activity_title,omitempty"`
	Topic         []string `json:"topic,omitempty"`
}

// Validate checks the fields each event type requires
func (e Event) Validate() error {
	if strings.TrimSpace(e.ConversationID) == "" {
		return errors.New("conversation id is required")
	}
	switch e.Type {
	case EventTurn:
		if e.SpeakerID == "" {
			return errors.New("turn event requires a speaker id")
		}
		if strings.TrimSpace(e.Text) == "" {
			return errors.New("turn event requires text")
		}
	case EventJoin, EventLeave:
		if e.SpeakerID == "" {
			return errors.New("membership event requires a user id")
		}
	case EventActivityStart, EventActivityEnd, EventTick:
	default:
		return errors.New("unknown event type: " + string(e.Type))
	}
	if e.Kind != "" && e.Kind != KindGroup && e.Kind != KindDirect {
		return errors.New("unknown conversation kind: " + string(e.Kind))
	}
	return nil
}

// IsCommand reports whether a turn is a platform command rather than conversation
func (e Event) IsCommand() bool {
	return e.MessageType == MessageCommand || strings.HasPrefix(strings.TrimSpace(e.Text), "/")
}
