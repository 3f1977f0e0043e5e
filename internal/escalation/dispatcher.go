// ABOUTME: Escalation dispatcher delivering safety alerts to human supervisors
// ABOUTME: Primary channel with bounded retries, fallback to emergency contacts, never drops silently
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/util"
)

// ErrInvalidTransition is returned when an escalation cannot move to the requested status
var ErrInvalidTransition = errors.New("invalid escalation transition")

// Directory resolves who should hear about an escalation
type Directory interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetSupervisors(ctx context.Context, conversationID string) ([]string, error)
}

// Notifier delivers an escalation to one recipient
type Notifier interface {
	Notify(ctx context.Context, recipient string, ev models.EscalationEvent) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, recipient string, ev models.EscalationEvent) error

func (f NotifierFunc) Notify(ctx context.Context, recipient string, ev models.EscalationEvent) error {
	return f(ctx, recipient, ev)
}

// EventStore persists escalation events
type EventStore interface {
	SaveEscalation(ctx context.Context, ev *models.EscalationEvent) error
	GetEscalation(ctx context.Context, id string) (*models.EscalationEvent, error)
	ListEscalations(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.EscalationEvent, error)
}

// Config bounds delivery
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// MaxElapsed bounds the retries of one recipient
	MaxElapsed time.Duration
	// AckTimeout moves a delivered event to timed_out when nobody acknowledges; zero disables
	AckTimeout time.Duration
	// OperatorFallback is always tried on the fallback channel
	OperatorFallback string
}

// DefaultConfig returns the default delivery bounds
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
		MaxElapsed:  30 * time.Second,
		AckTimeout:  15 * time.Minute,
	}
}

// Validate checks the delivery bounds
func (c Config) Validate() error {
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return models.ConfigError("ESCALATION_MAX_ATTEMPTS must be 1-10, got %d", c.MaxAttempts)
	}
	if c.RetryDelay < 0 || c.MaxElapsed <= 0 || c.AckTimeout < 0 {
		return models.ConfigError("escalation delays must be non-negative and max elapsed positive")
	}
	return nil
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithLostHook registers the operator hook called when every channel failed
func WithLostHook(fn func(models.EscalationEvent)) Option {
	return func(d *Dispatcher) { d.onLost = fn }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher delivers escalation events and tracks acknowledgment
type Dispatcher struct {
	cfg       Config
	directory Directory
	store     EventStore
	primary   Notifier
	fallback  Notifier
	onLost    func(models.EscalationEvent)
	now       func() time.Time

	// mu serializes status transitions
	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. fallback may be nil, in which case primary carries both channels.
func NewDispatcher(cfg Config, directory Directory, store EventStore, primary, fallback Notifier, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if directory == nil || store == nil || primary == nil {
		return nil, models.ConfigError("escalation dispatcher needs a directory, a store and a primary notifier")
	}
	if fallback == nil {
		fallback = primary
	}
	d := &Dispatcher{
		cfg:       cfg,
		directory: directory,
		store:     store,
		primary:   primary,
		fallback:  fallback,
		now:       time.Now,
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Submit delivers ev in the background; the caller never waits on delivery
func (d *Dispatcher) Submit(ev *models.EscalationEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Escalate(context.Background(), ev)
	}()
}

// Wait blocks until every submitted escalation finished delivery
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight deliveries and stops acknowledgment timers
func (d *Dispatcher) Close() {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}

// Escalate delivers ev to the conversation's supervisors, falling back to emergency contacts
func (d *Dispatcher) Escalate(ctx context.Context, ev *models.EscalationEvent) models.DeliveryResult {
	result := models.DeliveryResult{EventID: ev.ID}
	if ev.Status == "" {
		ev.Status = models.StatusCreated
	}
	d.save(ctx, ev)
	log.Printf("[escalation] %s created for %s: score=%.1f rationale=%s", ev.ID, ev.ConversationID, ev.TriggerScore, ev.Rationale)

	snapshot := ev.Clone()

	supervisors, err := d.directory.GetSupervisors(ctx, ev.ConversationID)
	if err != nil {
		log.Printf("[escalation] %s: failed to resolve supervisors: %v", ev.ID, err)
	}
	delivered, attempts, primaryErr := d.deliver(ctx, d.primary, dedup(supervisors), snapshot)
	result.Attempts += attempts
	channel := models.ChannelPrimary

	var fallbackErr error
	if len(delivered) == 0 {
		if primaryErr != nil {
			log.Printf("[escalation] %s: primary channel failed: %v", ev.ID, primaryErr)
		}
		recipients := d.fallbackRecipients(ctx, ev)
		delivered, attempts, fallbackErr = d.deliver(ctx, d.fallback, recipients, snapshot)
		result.Attempts += attempts
		channel = models.ChannelFallback
	}

	d.mu.Lock()
	if len(delivered) > 0 {
		ev.Status = models.StatusDelivered
		ev.Channel = channel
		ev.DeliveredTo = delivered
		ev.DeliveredAt = d.now().UTC()
	} else {
		ev.Status = models.StatusLost
	}
	d.mu.Unlock()
	d.save(ctx, ev)

	result.Status = ev.Status
	result.Channel = ev.Channel
	result.DeliveredTo = append([]string(nil), delivered...)

	if ev.Status == models.StatusLost {
		result.Err = errors.Join(primaryErr, fallbackErr)
		if result.Err == nil {
			result.Err = errors.New("no recipients on any channel")
		}
		log.Printf("[escalation] CRITICAL: %s for conversation %s was not delivered on any channel: %v",
			ev.ID, ev.ConversationID, result.Err)
		if d.onLost != nil {
			d.onLost(ev.Clone())
		}
		return result
	}

	log.Printf("[escalation] %s delivered via %s to %s", ev.ID, channel, strings.Join(delivered, ", "))
	d.armAckTimer(ev.ID)
	return result
}

// deliver notifies each recipient with bounded retries and returns who was reached
func (d *Dispatcher) deliver(ctx context.Context, n Notifier, recipients []string, ev models.EscalationEvent) ([]string, int, error) {
	if len(recipients) == 0 {
		return nil, 0, errors.New("no recipients")
	}
	policy := util.RetryPolicy{
		MaxAttempts: d.cfg.MaxAttempts,
		BaseDelay:   d.cfg.RetryDelay,
		MaxElapsed:  d.cfg.MaxElapsed,
	}
	var (
		reached []string
		total   int
		errs    []error
	)
	for _, r := range recipients {
		attempts, err := util.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
			return n.Notify(ctx, r, ev)
		})
		total += attempts
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r, err))
			continue
		}
		reached = append(reached, r)
	}
	return reached, total, errors.Join(errs...)
}

// fallbackRecipients are the emergency contacts of the participants plus the operator
func (d *Dispatcher) fallbackRecipients(ctx context.Context, ev *models.EscalationEvent) []string {
	var out []string
	for _, userID := range ev.Participants {
		prof, err := d.directory.GetProfile(ctx, userID)
		if err != nil {
			if !errors.Is(err, models.ErrProfileNotFound) {
				log.Printf("[escalation] %s: failed to load profile %s: %v", ev.ID, userID, err)
			}
			continue
		}
		if prof.EmergencyContact != "" {
			out = append(out, prof.EmergencyContact)
		}
	}
	if d.cfg.OperatorFallback != "" {
		out = append(out, d.cfg.OperatorFallback)
	}
	return dedup(out)
}

func (d *Dispatcher) armAckTimer(id string) {
	d.armAckTimerAfter(id, d.cfg.AckTimeout)
}

func (d *Dispatcher) armAckTimerAfter(id string, after time.Duration) {
	if d.cfg.AckTimeout <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.timers[id]; ok {
		old.Stop()
	}
	d.timers[id] = time.AfterFunc(max(after, 0), func() { d.expire(id) })
}

// Recover resumes the work a previous process left in the store. Events still created
// are delivered again in the background; delivered events get back an acknowledgment
// timer for whatever remains of AckTimeout since their delivery.
func (d *Dispatcher) Recover(ctx context.Context) (resubmitted, rearmed int, err error) {
	pending, err := d.store.ListEscalations(ctx, models.StatusCreated, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("list created escalations: %w", err)
	}
	for _, ev := range pending {
		log.Printf("[escalation] %s: resuming delivery for %s", ev.ID, ev.ConversationID)
		d.Submit(ev)
	}
	if d.cfg.AckTimeout <= 0 {
		return len(pending), 0, nil
	}

	delivered, err := d.store.ListEscalations(ctx, models.StatusDelivered, 0)
	if err != nil {
		return len(pending), 0, fmt.Errorf("list delivered escalations: %w", err)
	}
	now := d.now()
	for _, ev := range delivered {
		remaining := d.cfg.AckTimeout
		if !ev.DeliveredAt.IsZero() {
			remaining -= now.Sub(ev.DeliveredAt)
		}
		d.armAckTimerAfter(ev.ID, remaining)
	}
	return len(pending), len(delivered), nil
}

// expire moves a still-unacknowledged delivered event to timed_out
func (d *Dispatcher) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.timers, id)
	ev, err := d.store.GetEscalation(ctx, id)
	if err != nil {
		log.Printf("[escalation] %s: failed to load for ack timeout: %v", id, err)
		return
	}
	if ev.Status != models.StatusDelivered {
		return
	}
	ev.Status = models.StatusTimedOut
	if err := d.store.SaveEscalation(ctx, ev); err != nil {
		log.Printf("[escalation] %s: failed to save timeout: %v", id, err)
		return
	}
	log.Printf("[escalation] %s for %s was not acknowledged within %s", id, ev.ConversationID, d.cfg.AckTimeout)
}

// Acknowledge records that a supervisor took over. Late acknowledgments of timed out events are accepted.
func (d *Dispatcher) Acknowledge(ctx context.Context, id, by string) (*models.EscalationEvent, error) {
	if strings.TrimSpace(by) == "" {
		return nil, errors.New("acknowledging supervisor is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	ev, err := d.store.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status != models.StatusDelivered && ev.Status != models.StatusTimedOut {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, ev.Status)
	}
	ev.Status = models.StatusAcknowledged
	ev.AcknowledgedBy = by
	ev.AcknowledgedAt = d.now().UTC()
	if err := d.store.SaveEscalation(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to save acknowledgment: %w", err)
	}
	if t, ok := d.timers[id]; ok {
		t.Stop()
		delete(d.timers, id)
	}
	log.Printf("[escalation] %s acknowledged by %s", id, by)
	return ev, nil
}

// Get returns one escalation
func (d *Dispatcher) Get(ctx context.Context, id string) (*models.EscalationEvent, error) {
	return d.store.GetEscalation(ctx, id)
}

// List returns escalations, newest first; an empty status lists all
func (d *Dispatcher) List(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.EscalationEvent, error) {
	return d.store.ListEscalations(ctx, status, limit)
}

func (d *Dispatcher) save(ctx context.Context, ev *models.EscalationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.store.SaveEscalation(ctx, ev); err != nil {
		log.Printf("[escalation] %s: failed to persist (status %s): %v", ev.ID, ev.Status, err)
	}
}

func dedup(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
