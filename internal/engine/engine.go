// ABOUTME: Mediation engine wiring tracker, scorer, policy, composer, gateway and dispatcher
// ABOUTME: Events run on a keyed worker pool; only scoring and deciding happen under the conversation lock
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harper/auticonnect-mediator/internal/llm"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/policy"
	"github.com/harper/auticonnect-mediator/internal/prompt"
	"github.com/harper/auticonnect-mediator/internal/risk"
	"github.com/harper/auticonnect-mediator/internal/tracker"
	"github.com/harper/auticonnect-mediator/internal/workers"
)

// DirectPrefix prefixes the id of the private conversation with one user
const DirectPrefix = "dm:"

// Rationales the engine attaches on top of the policy's
const (
	// ReasonAlreadyEscalated marks a cycle whose triggering turn was already escalated
	ReasonAlreadyEscalated = "already_escalated"
	// ReasonMediationDisabled marks an action switched off for the conversation
	ReasonMediationDisabled = "mediation_disabled"
)

// Sender delivers mediator messages to the chat platform
type Sender interface {
	Send(ctx context.Context, target models.Target, text string) error
}

// Generator produces intervention text
type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt) llm.Generation
}

// Escalator accepts escalation events without blocking
type Escalator interface {
	Submit(ev *models.EscalationEvent)
}

// MessageLog records every turn seen or sent
type MessageLog interface {
	SaveMessage(ctx context.Context, conversationID string, turn models.Turn, mt models.MessageType) error
}

// Config controls the engine runtime
type Config struct {
	Workers   int
	QueueSize int
	// TickInterval is how often idle conversations are re-scored for silence; zero disables
	TickInterval time.Duration
	ProfileTTL   time.Duration
	SendTimeout  time.Duration
	// IdleTimeout drops conversations without activity for this long on sweeps; zero keeps them
	IdleTimeout time.Duration
}

// DefaultConfig returns the runtime defaults
func DefaultConfig() Config {
	return Config{
		Workers:      8,
		QueueSize:    workers.DefaultQueueSize,
		TickInterval: 30 * time.Second,
		ProfileTTL:   5 * time.Minute,
		SendTimeout:  5 * time.Second,
		IdleTimeout:  24 * time.Hour,
	}
}

// Deps are the collaborators of the engine. Messages and Settings are optional.
type Deps struct {
	Tracker   *tracker.Tracker
	Scorer    *risk.Scorer
	Policy    *policy.Policy
	Composer  *prompt.Composer
	Generator Generator
	Sender    Sender
	Escalator Escalator
	Profiles  ProfileSource
	Settings  SettingsSource
	Messages  MessageLog
}

// Outcome reports what one event caused
type Outcome struct {
	ConversationID string
	Change         tracker.Change
	Scored         bool
	Breakdown      risk.Breakdown
	Decision       models.InterventionDecision
	// Text is the message sent for a generated intervention
	Text     string
	Fallback bool
	Sent     bool
	// Escalation is a copy of the submitted event
	Escalation *models.EscalationEvent
}

// Stats are cumulative engine counters
type Stats struct {
	Events        int64 `json:"events"`
	Interventions int64 `json:"interventions"`
	Escalations   int64 `json:"escalations"`
	Fallbacks     int64 `json:"fallbacks"`
	Errors        int64 `json:"errors"`
	Conversations int   `json:"conversations"`
}

// Engine mediates conversations
type Engine struct {
	cfg       Config
	tracker   *tracker.Tracker
	scorer    *risk.Scorer
	policy    *policy.Policy
	composer  *prompt.Composer
	generator Generator
	sender    Sender
	escalator Escalator
	messages  MessageLog
	profiles  *profileCache
	settings  *settingsCache
	pool      *workers.Pool
	now       func() time.Time

	escMu       sync.Mutex
	escalatedAt map[string]time.Time

	// inflight counts interventions generating or sending off the workers
	inflight sync.WaitGroup

	events, interventions, escalations, fallbacks, errs atomic.Int64
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces time.Now for ticks and the profile cache
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine and starts its worker pool
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Tracker == nil, deps.Scorer == nil, deps.Policy == nil, deps.Composer == nil:
		return nil, models.ConfigError("engine needs a tracker, scorer, policy and composer")
	case deps.Generator == nil, deps.Sender == nil, deps.Escalator == nil:
		return nil, models.ConfigError("engine needs a generator, sender and escalator")
	}
	if cfg.Workers < 1 {
		return nil, models.ConfigError("engine needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}

	e := &Engine{
		cfg:         cfg,
		tracker:     deps.Tracker,
		scorer:      deps.Scorer,
		policy:      deps.Policy,
		composer:    deps.Composer,
		generator:   deps.Generator,
		sender:      deps.Sender,
		escalator:   deps.Escalator,
		messages:    deps.Messages,
		now:         time.Now,
		escalatedAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.profiles = newProfileCache(deps.Profiles, cfg.ProfileTTL, e.now)
	e.settings = newSettingsCache(deps.Settings, cfg.ProfileTTL, e.now)
	e.pool = workers.NewPool(cfg.Workers, cfg.QueueSize)
	return e, nil
}

// Submit queues ev on the worker that owns its conversation. The worker only ingests,
// scores and decides; intervention text is generated and sent on its own goroutine so a
// slow gateway never holds back the other conversations sharing that worker.
func (e *Engine) Submit(ctx context.Context, ev models.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	return e.pool.Dispatch(ctx, ev.ConversationID, func() {
		out, c, err := e.decide(context.Background(), ev)
		if err != nil {
			log.Printf("[engine] %s: %v", ev.ConversationID, err)
			return
		}
		if c == nil {
			return
		}
		if out.Decision.Action == models.ActionEscalate {
			e.escalate(c, &out)
			return
		}
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			if err := e.intervene(context.Background(), c, &out); err != nil {
				e.errs.Add(1)
				log.Printf("[engine] %s: %v", ev.ConversationID, err)
			}
		}()
	})
}

// Close drains queued events, waits for interventions in flight and stops the workers
func (e *Engine) Close() {
	e.pool.Stop()
	e.inflight.Wait()
}

// Run sweeps tracked conversations with tick events until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.TickInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep submits one tick per tracked conversation and drops conversations idle
// for longer than IdleTimeout
func (e *Engine) Sweep(ctx context.Context) {
	now := e.now().UTC()
	for _, id := range e.tracker.List() {
		var err error
		if e.idle(id, now) {
			err = e.pool.Dispatch(ctx, id, func() { e.evict(id, now.Add(-e.cfg.IdleTimeout)) })
		} else {
			err = e.Submit(ctx, models.Event{Type: models.EventTick, ConversationID: id, Timestamp: now})
		}
		if err != nil {
			log.Printf("[engine] sweep stopped at %s: %v", id, err)
			return
		}
	}
}

func (e *Engine) idle(id string, now time.Time) bool {
	if e.cfg.IdleTimeout <= 0 {
		return false
	}
	st, ok := e.tracker.Snapshot(id)
	return ok && now.Sub(st.LastActivity()) >= e.cfg.IdleTimeout
}

// evict runs on the conversation's worker so no event of it is being processed
func (e *Engine) evict(id string, cutoff time.Time) {
	if !e.tracker.Evict(id, cutoff) {
		return
	}
	e.forget(id)
	log.Printf("[engine] %s: dropped after %s idle", id, e.cfg.IdleTimeout)
}

// forget drops the per-conversation memory the engine keeps next to the tracker
func (e *Engine) forget(id string) {
	e.escMu.Lock()
	delete(e.escalatedAt, id)
	e.escMu.Unlock()
	e.settings.invalidate(id)
}

// State returns a copy of one conversation's state
func (e *Engine) State(conversationID string) (models.ConversationState, error) {
	st, ok := e.tracker.Snapshot(conversationID)
	if !ok {
		return st, fmt.Errorf("%w: %s", models.ErrConversationNotFound, conversationID)
	}
	return st, nil
}

// Conversations lists tracked conversation ids
func (e *Engine) Conversations() []string {
	return e.tracker.List()
}

// InvalidateProfile forces the next lookup of userID to reach the profile store
func (e *Engine) InvalidateProfile(userID string) {
	e.profiles.invalidate(userID)
}

// InvalidateSettings forces the next cycle of a conversation to reread its switches
func (e *Engine) InvalidateSettings(conversationID string) {
	e.settings.invalidate(conversationID)
}

// Stats returns the engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Events:        e.events.Load(),
		Interventions: e.interventions.Load(),
		Escalations:   e.escalations.Load(),
		Fallbacks:     e.fallbacks.Load(),
		Errors:        e.errs.Load(),
		Conversations: e.tracker.Len(),
	}
}

// Process runs one event through the pipeline synchronously, including generation and
// delivery. Callers must not run two events of the same conversation concurrently;
// Submit guarantees that.
func (e *Engine) Process(ctx context.Context, ev models.Event) (Outcome, error) {
	out, c, err := e.decide(ctx, ev)
	if err != nil || c == nil {
		return out, err
	}
	if out.Decision.Action == models.ActionEscalate {
		e.escalate(c, &out)
		return out, nil
	}
	if err := e.intervene(ctx, c, &out); err != nil {
		e.errs.Add(1)
		return out, err
	}
	return out, nil
}

// cycle carries what acting on a decision needs once the conversation lock is released
type cycle struct {
	state    models.ConversationState
	profiles map[string]models.UserProfile
	escEvent *models.EscalationEvent
}

// decide ingests ev, scores and decides under the conversation lock. It returns a nil
// cycle when there is nothing to act on.
func (e *Engine) decide(ctx context.Context, ev models.Event) (Outcome, *cycle, error) {
	e.events.Add(1)
	out := Outcome{ConversationID: ev.ConversationID}

	profiles := e.profiles.collect(ctx, e.candidates(ev))
	triggers := make(map[string][]string, len(profiles))
	for id, p := range profiles {
		triggers[id] = p.AnxietyTriggers
	}
	settings := e.settings.get(ctx, ev.ConversationID)

	c := &cycle{profiles: profiles}
	err := e.tracker.Apply(ev.ConversationID, ev.Kind, ev.Timestamp, func(st *models.ConversationState) error {
		ch, err := e.tracker.ApplyEvent(st, ev)
		if err != nil {
			return err
		}
		out.Change = ch
		if !ch.Scored() {
			return nil
		}

		now := ev.Timestamp
		b := e.scorer.Score(st, triggers, now)
		st.TensionScore = b.Score
		d := e.policy.Decide(st, b, now)
		if d.Action == models.ActionEscalate && !e.claimEscalation(st) {
			d = models.InterventionDecision{Action: models.ActionNone, Target: d.Target, Rationale: ReasonAlreadyEscalated}
		}
		if !settings.Allows(d.Action, st) {
			d = models.InterventionDecision{Action: models.ActionNone, Target: d.Target, Rationale: ReasonMediationDisabled}
		}
		if d.Action != models.ActionNone {
			st.LastInterventionAt = now
		}
		out.Scored = true
		out.Breakdown = b
		out.Decision = d

		c.state = st.Clone()
		if d.Action == models.ActionEscalate {
			c.escEvent = models.NewEscalationEvent(c.state, b.Score, d.Rationale, b.Signals(), now)
		}
		return nil
	})
	if err != nil {
		e.errs.Add(1)
		return out, nil, err
	}

	e.logTurn(ctx, ev, out.Change)
	if !out.Scored || out.Decision.Action == models.ActionNone {
		return out, nil, nil
	}
	log.Printf("[engine] %s: %s (%s) %s", ev.ConversationID, out.Decision.Action, out.Decision.Rationale, out.Breakdown)
	return out, c, nil
}

// candidates are the users whose profiles a cycle may need
func (e *Engine) candidates(ev models.Event) []string {
	var ids []string
	if st, ok := e.tracker.Snapshot(ev.ConversationID); ok {
		for id := range st.Participants {
			ids = append(ids, id)
		}
	}
	if ev.SpeakerID != "" {
		ids = append(ids, ev.SpeakerID)
	}
	return ids
}

// claimEscalation reports whether the latest human turn has not been escalated yet and
// records it. Ticks and replays of the same instant therefore escalate at most once.
func (e *Engine) claimEscalation(st *models.ConversationState) bool {
	instant := st.CreatedAt
	if humans := st.HumanTurns(); len(humans) > 0 {
		instant = humans[len(humans)-1].Timestamp
	}
	e.escMu.Lock()
	defer e.escMu.Unlock()
	if last, ok := e.escalatedAt[st.ConversationID]; ok && !instant.After(last) {
		return false
	}
	e.escalatedAt[st.ConversationID] = instant
	return true
}

func (e *Engine) escalate(c *cycle, out *Outcome) {
	ev := c.escEvent
	p, err := e.composer.Compose(prompt.Request{
		Scenario:  prompt.ScenarioAlertContext,
		State:     c.state,
		Profiles:  c.profiles,
		Rationale: ev.Rationale,
		Score:     ev.TriggerScore,
	})
	if err != nil {
		log.Printf("[engine] %s: alert summary unavailable: %v", c.state.ConversationID, err)
	} else {
		ev.Summary = p.System
	}

	snapshot := ev.Clone()
	out.Escalation = &snapshot
	e.escalations.Add(1)
	e.escalator.Submit(ev)
}

func (e *Engine) intervene(ctx context.Context, c *cycle, out *Outcome) error {
	state, profiles := c.state, c.profiles
	d := out.Decision
	req := prompt.Request{
		State:          state,
		Profiles:       profiles,
		Rationale:      d.Rationale,
		Score:          out.Breakdown.Score,
		OfferPrivateTo: d.OfferPrivateTo,
	}
	target := d.Target
	agentConversation, agentKind := state.ConversationID, state.Kind

	switch d.Action {
	case models.ActionFacilitate:
		req.Scenario = prompt.ScenarioFacilitation
		if state.Activity != nil {
			req.Scenario = prompt.ScenarioActivityGuidance
		}
	case models.ActionRedirectTopic:
		req.Scenario = prompt.ScenarioRedirection
	case models.ActionPrivateCheckin:
		req.Scenario = prompt.ScenarioSupport
		p, ok := profiles[target.ID]
		switch {
		case ok:
		case state.Kind == models.KindDirect:
			// A user without a profile can still be answered in their own chat
			p = models.UserProfile{UserID: target.ID}
		default:
			return fmt.Errorf("private check-in for %s without a profile", target.ID)
		}
		req.Target = &p
		// A check-in raised in a direct chat continues that chat
		if state.Kind != models.KindDirect {
			agentConversation, agentKind = DirectPrefix+target.ID, models.KindDirect
		}
	default:
		return fmt.Errorf("unhandled action %q", d.Action)
	}

	p, err := e.composer.Compose(req)
	if err != nil {
		if errors.Is(err, models.ErrDataIsolation) {
			log.Printf("[engine] %s: %s aborted: %v", state.ConversationID, d.Action, err)
		}
		return fmt.Errorf("compose %s: %w", req.Scenario, err)
	}

	gen := e.generator.Generate(ctx, p)
	out.Text, out.Fallback = gen.Text, gen.Fallback
	if gen.Fallback {
		e.fallbacks.Add(1)
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	if err := e.sender.Send(sendCtx, target, gen.Text); err != nil {
		return fmt.Errorf("send %s to %s/%s: %w", d.Action, target.Kind, target.ID, err)
	}
	out.Sent = true
	e.interventions.Add(1)

	now := state.LastInterventionAt
	if err := e.tracker.AppendAgentTurn(agentConversation, agentKind, gen.Text, now); err != nil {
		return fmt.Errorf("record agent turn: %w", err)
	}
	if e.messages != nil {
		if err := e.messages.SaveMessage(ctx, agentConversation, *models.NewAgentTurn(gen.Text, now), models.MessageText); err != nil {
			log.Printf("[engine] %s: failed to log agent message: %v", agentConversation, err)
		}
	}
	return nil
}

func (e *Engine) logTurn(ctx context.Context, ev models.Event, ch tracker.Change) {
	if e.messages == nil || ev.Type != models.EventTurn {
		return
	}
	var (
		turn models.Turn
		mt   = models.MessageText
	)
	switch {
	case ch.Turn != nil:
		turn = *ch.Turn
	case ch.Command:
		t, err := models.NewTurn(ev.SpeakerID, ev.Text, ev.Timestamp)
		if err != nil {
			return
		}
		turn, mt = *t, models.MessageCommand
	default:
		return
	}
	if err := e.messages.SaveMessage(ctx, ev.ConversationID, turn, mt); err != nil {
		log.Printf("[engine] %s: failed to log message: %v", ev.ConversationID, err)
	}
}
