// ABOUTME: Escalation event persistence for the dispatcher and supervisor tools
// ABOUTME: Snapshot, signals and recipients are JSON columns next to the lifecycle fields
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// EscalationStore persists escalation events
type EscalationStore struct {
	db *DB
}

// NewEscalationStore creates a new EscalationStore
func NewEscalationStore(db *DB) *EscalationStore {
	return &EscalationStore{db: db}
}

// SaveEscalation inserts the event or updates its lifecycle fields
func (s *EscalationStore) SaveEscalation(ctx context.Context, ev *models.EscalationEvent) error {
	signals, err := json.Marshal(ev.Signals)
	if err != nil {
		return fmt.Errorf("failed to encode signals: %w", err)
	}
	snapshot, err := json.Marshal(ev.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	participants, err := encodeList(ev.Participants)
	if err != nil {
		return err
	}
	deliveredTo, err := encodeList(ev.DeliveredTo)
	if err != nil {
		return err
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO escalations (id, conversation_id, trigger_score, rationale, summary, signals, context_snapshot,
			participants, status, channel, delivered_to, created_at, delivered_at, acknowledged_by, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`+s.db.upsert("id", "summary", "status", "channel", "delivered_to", "delivered_at", "acknowledged_by", "acknowledged_at"),
		ev.ID, ev.ConversationID, ev.TriggerScore, ev.Rationale, ev.Summary, string(signals), string(snapshot),
		participants, string(ev.Status), string(ev.Channel), deliveredTo, ev.CreatedAt.UTC(),
		nullTime(ev.DeliveredAt), ev.AcknowledgedBy, nullTime(ev.AcknowledgedAt))
	if err != nil {
		return models.Transient("save escalation", err)
	}
	return nil
}

const escalationColumns = `id, conversation_id, trigger_score, rationale, summary, signals, context_snapshot,
	participants, status, channel, delivered_to, created_at, delivered_at, acknowledged_by, acknowledged_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (*models.EscalationEvent, error) {
	var (
		ev                          models.EscalationEvent
		summary, channel, ackBy     sql.NullString
		signals, snapshot           string
		participants, deliveredTo   sql.NullString
		status                      string
		deliveredAt, acknowledgedAt sql.NullTime
	)
	err := row.Scan(&ev.ID, &ev.ConversationID, &ev.TriggerScore, &ev.Rationale, &summary, &signals, &snapshot,
		&participants, &status, &channel, &deliveredTo, &ev.CreatedAt, &deliveredAt, &ackBy, &acknowledgedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(signals), &ev.Signals); err != nil {
		return nil, fmt.Errorf("corrupt signals for %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(snapshot), &ev.ContextSnapshot); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for %s: %w", ev.ID, err)
	}
	ev.Summary = summary.String
	ev.Status = models.EscalationStatus(status)
	ev.Channel = models.DeliveryChannel(channel.String)
	ev.Participants = decodeList(participants)
	ev.DeliveredTo = decodeList(deliveredTo)
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.DeliveredAt = timeOf(deliveredAt)
	ev.AcknowledgedBy = ackBy.String
	ev.AcknowledgedAt = timeOf(acknowledgedAt)
	return &ev, nil
}

// GetEscalation loads one event
func (s *EscalationStore) GetEscalation(ctx context.Context, id string) (*models.EscalationEvent, error) {
	row := s.db.conn.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
	ev, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEscalationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation %s: %w", id, err)
	}
	return ev, nil
}

// ListEscalations returns events newest first, filtered by status when given
func (s *EscalationStore) ListEscalations(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.EscalationEvent, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.EscalationEvent
	for rows.Next() {
		ev, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
