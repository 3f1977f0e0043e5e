// ABOUTME: Short-lived profile and conversation settings caches in front of the directory
// ABOUTME: Lookups happen before the conversation lock is taken so scoring never waits on I/O
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// ProfileSource is the read-only profile store
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

type cachedProfile struct {
	profile   *models.UserProfile
	fetchedAt time.Time
}

type profileCache struct {
	source ProfileSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedProfile
}

func newProfileCache(source ProfileSource, ttl time.Duration, now func() time.Time) *profileCache {
	return &profileCache{source: source, ttl: ttl, now: now, entries: make(map[string]cachedProfile)}
}

// get returns the profile or nil when the user has none. Store failures are logged
// and treated as missing without being cached.
func (c *profileCache) get(ctx context.Context, userID string) *models.UserProfile {
	if userID == "" || userID == models.AgentSpeakerID || c.source == nil {
		return nil
	}
	c.mu.Lock()
	ent, ok := c.entries[userID]
	c.mu.Unlock()
	if ok && (c.ttl <= 0 || c.now().Sub(ent.fetchedAt) < c.ttl) {
		return ent.profile
	}

	p, err := c.source.GetProfile(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrProfileNotFound):
		p = nil
	default:
		log.Printf("[engine] profile lookup for %s failed: %v", userID, err)
		if ok {
			return ent.profile
		}
		return nil
	}

	c.mu.Lock()
	c.entries[userID] = cachedProfile{profile: p, fetchedAt: c.now()}
	c.mu.Unlock()
	return p
}

// collect resolves every id into a profile map, skipping users without profiles
func (c *profileCache) collect(ctx context.Context, ids []string) map[string]models.UserProfile {
	out := make(map[string]models.UserProfile, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if p := c.get(ctx, id); p != nil {
			out[id] = *p
		}
	}
	return out
}

// invalidate drops a cached profile so the next lookup reaches the store
func (c *profileCache) invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// SettingsSource reads the mediation switches of a conversation
type SettingsSource interface {
	GetConversationSettings(ctx context.Context, conversationID string) (*models.ConversationSettings, error)
}

type cachedSettings struct {
	settings  models.ConversationSettings
	fetchedAt time.Time
}

type settingsCache struct {
	source SettingsSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedSettings
}

func newSettingsCache(source SettingsSource, ttl time.Duration, now func() time.Time) *settingsCache {
	return &settingsCache{source: source, ttl: ttl, now: now, entries: make(map[string]cachedSettings)}
}

// get returns the switches of a conversation. Without a source, or when the store
// fails before anything was cached, the conversation is mediated.
func (c *settingsCache) get(ctx context.Context, conversationID string) models.ConversationSettings {
	if c.source == nil {
		return models.DefaultConversationSettings(conversationID)
	}
	c.mu.Lock()
	ent, ok := c.entries[conversationID]
	c.mu.Unlock()
	if ok && (c.ttl <= 0 || c.now().Sub(ent.fetchedAt) < c.ttl) {
		return ent.settings
	}

	s, err := c.source.GetConversationSettings(ctx, conversationID)
	if err != nil {
		log.Printf("[engine] settings lookup for %s failed: %v", conversationID, err)
		if ok {
			return ent.settings
		}
		return models.DefaultConversationSettings(conversationID)
	}

	c.mu.Lock()
	c.entries[conversationID] = cachedSettings{settings: *s, fetchedAt: c.now()}
	c.mu.Unlock()
	return *s
}

func (c *settingsCache) invalidate(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}
