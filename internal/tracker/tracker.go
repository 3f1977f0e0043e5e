// ABOUTME: Conversation state tracker, the single owner of per-conversation state
// ABOUTME: Explicit state table (arena plus id index) with one lock per conversation
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/sentiment"
)

// Change describes what applying one event did to a conversation
type Change struct {
	// Turn is the human turn appended to the window, if any
	Turn *models.Turn
	// Command is set for platform commands, which are recorded but never scored
	Command bool
	// Created is set when the conversation was unknown before this event
	Created bool
}

// Scored reports whether the event should drive a scoring cycle
func (c Change) Scored() bool {
	return !c.Command
}

type entry struct {
	mu      sync.Mutex
	state   *models.ConversationState
	created bool
	// removed is set under mu once the entry left the index
	removed bool
}

// Tracker holds every tracked conversation
type Tracker struct {
	windowSize int

	mu      sync.RWMutex
	index   map[string]int
	entries []*entry
}

// New creates a tracker whose turn windows hold at most windowSize turns
func New(windowSize int) (*Tracker, error) {
	if windowSize < 1 {
		return nil, models.ConfigError("window size must be at least 1, got %d", windowSize)
	}
	return &Tracker{
		windowSize: windowSize,
		index:      make(map[string]int),
	}, nil
}

// WindowSize returns N, the turn window bound
func (t *Tracker) WindowSize() int {
	return t.windowSize
}

// lookup returns the entry for id, creating fresh state for unknown conversations
func (t *Tracker) lookup(id string, kind models.ConversationKind, now time.Time) *entry {
	if e, ok := t.find(id); ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[id]; ok {
		return t.entries[i]
	}
	e := &entry{state: models.NewConversationState(id, kind, now), created: true}
	t.entries = append(t.entries, e)
	t.index[id] = len(t.entries) - 1
	return e
}

func (t *Tracker) find(id string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.entries[i], true
}

// Apply runs fn with exclusive access to the conversation's state.
// fn must not block on the network: every event for the conversation waits behind it.
func (t *Tracker) Apply(id string, kind models.ConversationKind, now time.Time, fn func(*models.ConversationState) error) error {
	for {
		e := t.lookup(id, kind, now)
		e.mu.Lock()
		if e.removed {
			// Evicted between lookup and lock; the next lookup starts fresh state
			e.mu.Unlock()
			continue
		}
		defer e.mu.Unlock()
		return fn(e.state)
	}
}

// Evict drops a conversation whose last activity is before cutoff and reports whether it did
func (t *Tracker) Evict(id string, cutoff time.Time) bool {
	e, ok := t.find(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	if e.removed || !e.state.LastActivity().Before(cutoff) {
		e.mu.Unlock()
		return false
	}
	e.removed = true
	e.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok || t.entries[i] != e {
		return true
	}
	last := len(t.entries) - 1
	if i != last {
		t.entries[i] = t.entries[last]
		t.index[t.entries[i].state.ConversationID] = i
	}
	t.entries[last] = nil
	t.entries = t.entries[:last]
	delete(t.index, id)
	return true
}

// Ingest applies ev and returns a copy of the updated state
func (t *Tracker) Ingest(ev models.Event) (models.ConversationState, Change, error) {
	var (
		out models.ConversationState
		ch  Change
	)
	err := t.Apply(ev.ConversationID, ev.Kind, ev.Timestamp, func(st *models.ConversationState) error {
		var err error
		ch, err = t.ApplyEvent(st, ev)
		if err != nil {
			return err
		}
		out = st.Clone()
		return nil
	})
	return out, ch, err
}

// ApplyEvent mutates st according to ev. Callers must hold the conversation through Apply.
func (t *Tracker) ApplyEvent(st *models.ConversationState, ev models.Event) (Change, error) {
	var ch Change
	if err := ev.Validate(); err != nil {
		return ch, fmt.Errorf("invalid event: %w", err)
	}
	if ev.Timestamp.IsZero() {
		return ch, errors.New("invalid event: timestamp is required")
	}
	if ev.ConversationID != st.ConversationID {
		return ch, fmt.Errorf("event for %s applied to %s", ev.ConversationID, st.ConversationID)
	}
	ch.Created = t.takeCreated(st.ConversationID)

	if len(ev.Topic) > 0 && ev.Type != models.EventActivityStart {
		st.Topic = append([]string(nil), ev.Topic...)
	}

	switch ev.Type {
	case models.EventTurn:
		t.join(st, ev.SpeakerID)
		if ev.IsCommand() {
			ch.Command = true
			return ch, nil
		}
		turn, err := models.NewTurn(ev.SpeakerID, ev.Text, ev.Timestamp)
		if err != nil {
			return ch, err
		}
		turn.Sentiment = sentiment.Estimate(turn.Text)
		t.appendTurn(st, *turn)
		st.ParticipationCounts[turn.SpeakerID]++
		ch.Turn = turn

	case models.EventJoin:
		t.join(st, ev.SpeakerID)

	case models.EventLeave:
		t.leave(st, ev.SpeakerID)

	case models.EventActivityStart:
		st.Activity = &models.Activity{
			Title:     ev.ActivityTitle,
			Topic:     append([]string(nil), ev.Topic...),
			StartedAt: ev.Timestamp,
		}
		// A new activity is a new session for participation fairness
		for id := range st.ParticipationCounts {
			st.ParticipationCounts[id] = 0
		}

	case models.EventActivityEnd:
		st.Activity = nil

	case models.EventTick:
	}
	return ch, nil
}

// takeCreated reports whether the conversation was created and not yet seen by an event
func (t *Tracker) takeCreated(id string) bool {
	e, ok := t.find(id)
	if !ok || !e.created {
		return false
	}
	e.created = false
	return true
}

func (t *Tracker) join(st *models.ConversationState, userID string) {
	st.Participants[userID] = struct{}{}
	delete(st.Departed, userID)
	if _, ok := st.ParticipationCounts[userID]; !ok && userID != models.AgentSpeakerID {
		st.ParticipationCounts[userID] = 0
	}
}

// leave removes the user, keeping them as departed while their turns remain in the window
func (t *Tracker) leave(st *models.ConversationState, userID string) {
	delete(st.ParticipationCounts, userID)
	if hasTurns(st.TurnWindow, userID) {
		st.Departed[userID] = struct{}{}
		return
	}
	delete(st.Participants, userID)
	delete(st.Departed, userID)
}

// appendTurn adds a turn with FIFO eviction beyond the window size
func (t *Tracker) appendTurn(st *models.ConversationState, turn models.Turn) {
	st.TurnWindow = append(st.TurnWindow, turn)
	if over := len(st.TurnWindow) - t.windowSize; over > 0 {
		kept := make([]models.Turn, t.windowSize)
		copy(kept, st.TurnWindow[over:])
		st.TurnWindow = kept
	}
	if turn.Timestamp.After(st.SilenceSince) {
		st.SilenceSince = turn.Timestamp
	}
	for id := range st.Departed {
		if !hasTurns(st.TurnWindow, id) {
			delete(st.Departed, id)
			delete(st.Participants, id)
		}
	}
}

func hasTurns(turns []models.Turn, userID string) bool {
	for _, tr := range turns {
		if tr.SpeakerID == userID {
			return true
		}
	}
	return false
}

// AppendAgentTurn records a message the agent sent into the conversation.
// kind only matters when the conversation is not tracked yet.
func (t *Tracker) AppendAgentTurn(id string, kind models.ConversationKind, text string, at time.Time) error {
	return t.Apply(id, kind, at, func(st *models.ConversationState) error {
		st.Participants[models.AgentSpeakerID] = struct{}{}
		t.appendTurn(st, *models.NewAgentTurn(text, at))
		return nil
	})
}

// RecordIntervention sets last_intervention_at when it moves forward
func (t *Tracker) RecordIntervention(id string, at time.Time) error {
	return t.Apply(id, "", at, func(st *models.ConversationState) error {
		if at.After(st.LastInterventionAt) {
			st.LastInterventionAt = at
		}
		return nil
	})
}

// Snapshot returns a copy of the conversation state
func (t *Tracker) Snapshot(id string) (models.ConversationState, bool) {
	e, ok := t.find(id)
	if !ok {
		return models.ConversationState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return models.ConversationState{}, false
	}
	return e.state.Clone(), true
}

// List returns the tracked conversation ids, sorted
func (t *Tracker) List() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.index))
	for id := range t.index {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked conversations
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
