// ABOUTME: Message log of every turn the engine sees or sends
// ABOUTME: Supervisors read it back when reviewing a conversation
package storage

import (
	"context"
	"fmt"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// MessageStore records conversation turns
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a new MessageStore
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// SaveMessage records one turn; saving the same turn twice is a no-op
func (s *MessageStore) SaveMessage(ctx context.Context, conversationID string, turn models.Turn, mt models.MessageType) error {
	if mt == "" {
		mt = models.MessageText
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, speaker_id, text, message_type, from_agent, sentiment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`+s.db.upsert("id"),
		turn.TurnID, conversationID, turn.SpeakerID, turn.Text, string(mt), turn.FromAgent, turn.Sentiment, turn.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit turns of a conversation, oldest first
func (s *MessageStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, speaker_id, text, from_agent, sentiment, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.TurnID, &t.SpeakerID, &t.Text, &t.FromAgent, &t.Sentiment, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
