// ABOUTME: Audit log of generation backend calls
// ABOUTME: Implements llm.AuditLog so every prompt and reply can be reviewed later
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/harper/auticonnect-mediator/internal/llm"
)

// InteractionStore records AI interactions
type InteractionStore struct {
	db *DB
}

// NewInteractionStore creates a new InteractionStore
func NewInteractionStore(db *DB) *InteractionStore {
	return &InteractionStore{db: db}
}

// RecordInteraction stores one gateway call
func (s *InteractionStore) RecordInteraction(ctx context.Context, in llm.Interaction) error {
	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO ai_interactions (id, scenario, conversation_id, target_user_id, prompt, response, attempts, fallback, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.Scenario, in.ConversationID, in.TargetUserID, in.Prompt, in.Response, in.Attempts, in.Fallback,
		in.Error, in.Latency.Milliseconds(), created.UTC())
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// ListInteractions returns the newest interactions first; an empty conversation id lists all
func (s *InteractionStore) ListInteractions(ctx context.Context, conversationID string, limit int) ([]llm.Interaction, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, scenario, conversation_id, target_user_id, prompt, response, attempts, fallback, error, latency_ms, created_at
		FROM ai_interactions`
	var args []any
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []llm.Interaction
	for rows.Next() {
		var (
			in        llm.Interaction
			target    sql.NullString
			errText   sql.NullString
			latencyMS int64
		)
		if err := rows.Scan(&in.ID, &in.Scenario, &in.ConversationID, &target, &in.Prompt, &in.Response,
			&in.Attempts, &in.Fallback, &errText, &latencyMS, &in.CreatedAt); err != nil {
			return nil, err
		}
		in.TargetUserID = target.String
		in.Error = errText.String
		in.Latency = time.Duration(latencyMS) * time.Millisecond
		in.CreatedAt = in.CreatedAt.UTC()
		out = append(out, in)
	}
	return out, rows.Err()
}
