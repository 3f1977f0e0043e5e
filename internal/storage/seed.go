// ABOUTME: YAML import and export of profiles and supervisor assignments
// ABOUTME: Lets operators provision a directory without a separate admin tool
package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"gopkg.in/yaml.v3"
)

// SeedData is the on-disk directory format
type SeedData struct {
	Version    string               `yaml:"version"`
	ExportedAt string               `yaml:"exported_at,omitempty"`
	Profiles   []models.UserProfile `yaml:"profiles"`
	// Supervisors maps a conversation id to its supervisor ids
	Supervisors map[string][]string `yaml:"supervisors,omitempty"`
}

// LoadSeed reads a seed file
func LoadSeed(path string) (*SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML
func ParseSeed(data []byte) (*SeedData, error) {
	var seed SeedData
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed yaml: %w", err)
	}
	for i, p := range seed.Profiles {
		if p.UserID == "" {
			return nil, fmt.Errorf("profile %d has no user_id", i)
		}
		switch p.Communication {
		case "", models.CommunicationDirect, models.CommunicationDetailed:
		default:
			return nil, fmt.Errorf("profile %s: unknown communication preference %q", p.UserID, p.Communication)
		}
	}
	return &seed, nil
}

// Import writes every profile and supervisor assignment in seed
func (s *ProfileStore) Import(ctx context.Context, seed *SeedData) (profiles, supervisors int, err error) {
	for i := range seed.Profiles {
		if err := s.SaveProfile(ctx, &seed.Profiles[i]); err != nil {
			return profiles, supervisors, err
		}
		profiles++
	}
	for conversationID, ids := range seed.Supervisors {
		for _, id := range ids {
			if err := s.AddSupervisor(ctx, conversationID, id); err != nil {
				return profiles, supervisors, err
			}
			supervisors++
		}
	}
	return profiles, supervisors, nil
}

// Export collects the directory into seed form
func (s *ProfileStore) Export(ctx context.Context) (*SeedData, error) {
	profiles, err := s.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	seed := &SeedData{
		Version:     "1.0",
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		Profiles:    profiles,
		Supervisors: map[string][]string{},
	}

	rows, err := s.db.conn.QueryContext(ctx, `SELECT conversation_id, supervisor_id FROM conversation_supervisors`)
	if err != nil {
		return nil, fmt.Errorf("failed to list supervisors: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var conv, sup string
		if err := rows.Scan(&conv, &sup); err != nil {
			return nil, err
		}
		seed.Supervisors[conv] = append(seed.Supervisors[conv], sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for conv := range seed.Supervisors {
		sort.Strings(seed.Supervisors[conv])
	}
	return seed, nil
}

// Marshal encodes seed as YAML
func (seed *SeedData) Marshal() ([]byte, error) {
	return yaml.Marshal(seed)
}
