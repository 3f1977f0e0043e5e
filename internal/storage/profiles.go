// ABOUTME: Profile, supervisor and conversation settings directory backed by SQL
// ABOUTME: List attributes are stored as JSON arrays; unknown users return ErrProfileNotFound
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// ProfileStore handles user profile and supervisor persistence
type ProfileStore struct {
	db *DB
}

// NewProfileStore creates a new ProfileStore
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// GetProfile returns the profile of one user
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var (
		p             models.UserProfile
		ageBand       sql.NullString
		interests     sql.NullString
		triggers      sql.NullString
		communication string
		contact       sql.NullString
	)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT user_id, display_name, age_band, interests, anxiety_triggers, communication, emergency_contact
		FROM user_profiles
		WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.DisplayName, &ageBand, &interests, &triggers, &communication, &contact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, models.Transient("get profile", err)
	}

	p.AgeBand = ageBand.String
	p.Communication = models.CommunicationPreference(communication)
	p.EmergencyContact = contact.String
	p.Interests = decodeList(interests)
	p.AnxietyTriggers = decodeList(triggers)
	return &p, nil
}

// SaveProfile inserts or replaces a profile
func (s *ProfileStore) SaveProfile(ctx context.Context, p *models.UserProfile) error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("profile requires a user id")
	}
	comm := p.Communication
	if comm == "" {
		comm = models.CommunicationDirect
	}
	interests, err := encodeList(p.Interests)
	if err != nil {
		return err
	}
	triggers, err := encodeList(p.AnxietyTriggers)
	if err != nil {
		return err
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, display_name, age_band, interests, anxiety_triggers, communication, emergency_contact, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`+s.db.upsert("user_id", "display_name", "age_band", "interests", "anxiety_triggers", "communication", "emergency_contact", "updated_at"),
		p.UserID, p.DisplayName, p.AgeBand, interests, triggers, string(comm), p.EmergencyContact, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.UserID, err)
	}
	return nil
}

// ListProfiles returns every profile ordered by user id
func (s *ProfileStore) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT user_id FROM user_profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.UserProfile, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// DeleteProfile removes a profile; deleting an unknown user is not an error
func (s *ProfileStore) DeleteProfile(ctx context.Context, userID string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM user_profiles WHERE user_id = ?`, userID)
	return err
}

// GetSupervisors returns the supervisors registered for a conversation
func (s *ProfileStore) GetSupervisors(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT supervisor_id FROM conversation_supervisors
		WHERE conversation_id = ?
		ORDER BY supervisor_id
	`, conversationID)
	if err != nil {
		return nil, models.Transient("get supervisors", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddSupervisor registers a supervisor for a conversation
func (s *ProfileStore) AddSupervisor(ctx context.Context, conversationID, supervisorID string) error {
	if conversationID == "" || supervisorID == "" {
		return errors.New("conversation id and supervisor id are required")
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO conversation_supervisors (conversation_id, supervisor_id, created_at)
		VALUES (?, ?, ?)
		`+s.db.upsert("conversation_id, supervisor_id"),
		conversationID, supervisorID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add supervisor: %w", err)
	}
	return nil
}

// RemoveSupervisor unregisters a supervisor
func (s *ProfileStore) RemoveSupervisor(ctx context.Context, conversationID, supervisorID string) error {
	_, err := s.db.conn.ExecContext(ctx, `
		DELETE FROM conversation_supervisors WHERE conversation_id = ? AND supervisor_id = ?
	`, conversationID, supervisorID)
	return err
}

// GetConversationSettings returns the mediation switches of a conversation, or the
// defaults when nobody configured it
func (s *ProfileStore) GetConversationSettings(ctx context.Context, conversationID string) (*models.ConversationSettings, error) {
	st := models.DefaultConversationSettings(conversationID)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT mediation, activity_guidance, updated_at
		FROM conversation_settings
		WHERE conversation_id = ?
	`, conversationID).Scan(&st.Mediation, &st.ActivityGuidance, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, models.Transient("get conversation settings", err)
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// SaveConversationSettings inserts or replaces the switches of a conversation
func (s *ProfileStore) SaveConversationSettings(ctx context.Context, st *models.ConversationSettings) error {
	if strings.TrimSpace(st.ConversationID) == "" {
		return errors.New("conversation settings require a conversation id")
	}
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO conversation_settings (conversation_id, mediation, activity_guidance, updated_at)
		VALUES (?, ?, ?, ?)
		`+s.db.upsert("conversation_id", "mediation", "activity_guidance", "updated_at"),
		st.ConversationID, st.Mediation, st.ActivityGuidance, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", st.ConversationID, err)
	}
	return nil
}

func encodeList(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

func decodeList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
