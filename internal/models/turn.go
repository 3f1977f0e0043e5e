// ABOUTME: Turn represents a single message contributed to a conversation
// ABOUTME: Carries the speaker, text and the per-turn sentiment estimate used by risk scoring
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentSpeakerID is the speaker id used for turns produced by the mediator itself
const AgentSpeakerID = "agent"

// Turn represents a single conversation turn
type Turn struct {
	TurnID    string    `json:"turn_id"`
	SpeakerID string    `json:"speaker_id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	// Sentiment is in [-1, 1]; negative values signal distress
	Sentiment float64 `json:"sentiment"`
	FromAgent bool    `json:"from_agent,omitempty"`
}

// NewTurn creates a new Turn with validation
func NewTurn(speakerID, text string, ts time.Time) (*Turn, error) {
	if strings.TrimSpace(speakerID) == "" {
		return nil, errors.New("speaker id cannot be empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("turn text cannot be empty")
	}
	return &Turn{
		TurnID:    generateTurnID(ts),
		SpeakerID: speakerID,
		Timestamp: ts.UTC(),
		Text:      text,
	}, nil
}

// NewAgentTurn creates a turn authored by the mediator
func NewAgentTurn(text string, ts time.Time) *Turn {
	return &Turn{
		TurnID:    generateTurnID(ts),
		SpeakerID: AgentSpeakerID,
		Timestamp: ts.UTC(),
		Text:      text,
		FromAgent: true,
	}
}

// generateTurnID generates a unique turn identifier
func generateTurnID(ts time.Time) string {
	return fmt.Sprintf("turn_%s_%s", ts.UTC().Format("20060102_150405"), uuid.New().String()[:8])
}
