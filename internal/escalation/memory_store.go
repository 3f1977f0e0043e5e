// ABOUTME: In-memory escalation store for tests and database-less runs
// ABOUTME: Stores copies so callers never share memory with stored events
package escalation

import (
	"context"
	"sort"
	"sync"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// MemoryStore is an EventStore backed by a map
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]models.EscalationEvent
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]models.EscalationEvent)}
}

// SaveEscalation upserts a copy of ev
func (m *MemoryStore) SaveEscalation(ctx context.Context, ev *models.EscalationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev.Clone()
	return nil
}

// GetEscalation returns a copy of the stored event
func (m *MemoryStore) GetEscalation(ctx context.Context, id string) (*models.EscalationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, models.ErrEscalationNotFound
	}
	out := ev.Clone()
	return &out, nil
}

// ListEscalations returns events newest first, filtered by status when given
func (m *MemoryStore) ListEscalations(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.EscalationEvent, error) {
	m.mu.RLock()
	out := make([]*models.EscalationEvent, 0, len(m.events))
	for _, ev := range m.events {
		if status != "" && ev.Status != status {
			continue
		}
		c := ev.Clone()
		out = append(out, &c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
