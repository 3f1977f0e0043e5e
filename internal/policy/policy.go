// ABOUTME: Intervention policy deciding how the mediator acts after each scoring cycle
// ABOUTME: Explicit state machine with priority Escalate > PrivateCheckin > DirectSupport > Redirect > Facilitate > Idle
package policy

import (
	"strings"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/risk"
	"github.com/harper/auticonnect-mediator/internal/sentiment"
)

// Rationales attached to decisions
const (
	ReasonScoreAboveThreshold  = "score_above_threshold"
	ReasonCrisisKeyword        = "crisis_keyword"
	ReasonTriggerLatestTurn    = "trigger_hit_latest_turn"
	ReasonSupportRequest       = "support_request"
	ReasonSupportSession       = "support_session"
	ReasonRepeatedTriggerHits  = "repeated_trigger_hits"
	ReasonTopicDrift           = "topic_drift"
	ReasonTensionElevated      = "tension_elevated"
	ReasonProlongedSilence     = "prolonged_silence"
	ReasonParticipationDominan = "participation_dominance"
	ReasonIdle                 = "idle"
	ReasonCooldownPrefix       = "cooldown:"
)

// Config holds the thresholds of the state machine
type Config struct {
	AlertThreshold      float64
	LowWatermark        float64
	MinInterval         time.Duration
	SilenceThreshold    time.Duration
	DominanceShare      float64
	DominanceMinTurns   int
	RedirectTriggerHits int
	DriftWindow         int
}

// Validate checks the policy configuration
func (c Config) Validate() error {
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		return models.ConfigError("ALERT_THRESHOLD must be 0-100, got %v", c.AlertThreshold)
	}
	if c.LowWatermark < 0 || c.LowWatermark >= c.AlertThreshold {
		return models.ConfigError("low watermark must be in [0, alert threshold), got %v", c.LowWatermark)
	}
	if c.MinInterval < 0 {
		return models.ConfigError("intervention interval must not be negative")
	}
	if c.SilenceThreshold <= 0 {
		return models.ConfigError("silence threshold must be positive")
	}
	if c.DominanceShare <= 0 || c.DominanceShare > 1 {
		return models.ConfigError("dominance share must be in (0,1], got %v", c.DominanceShare)
	}
	if c.DominanceMinTurns < 1 || c.RedirectTriggerHits < 1 || c.DriftWindow < 1 {
		return models.ConfigError("dominance turns, redirect hits and drift window must be at least 1")
	}
	return nil
}

// Policy is stateless; the only memory it uses is the state's LastInterventionAt
type Policy struct {
	cfg Config
}

// New creates a Policy, rejecting invalid configuration
func New(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{cfg: cfg}, nil
}

// Config returns the policy configuration
func (p *Policy) Config() Config {
	return p.cfg
}

type rule func(p *Policy, st *models.ConversationState, b risk.Breakdown, now time.Time) (models.InterventionDecision, bool)

// rules are listed in priority order; the first match wins
var rules = []rule{
	(*Policy).escalate,
	(*Policy).privateCheckin,
	(*Policy).directSupport,
	(*Policy).redirect,
	(*Policy).facilitate,
}

// Decide selects the action for the current state and score
func (p *Policy) Decide(st *models.ConversationState, b risk.Breakdown, now time.Time) models.InterventionDecision {
	for _, r := range rules {
		d, ok := r(p, st, b, now)
		if !ok {
			continue
		}
		if d.Action != models.ActionEscalate && p.inCooldown(st, now) {
			return models.InterventionDecision{
				Action:    models.ActionNone,
				Target:    conversationTarget(st),
				Rationale: ReasonCooldownPrefix + string(d.Action),
			}
		}
		return d
	}
	return models.InterventionDecision{
		Action:    models.ActionNone,
		Target:    conversationTarget(st),
		Rationale: ReasonIdle,
	}
}

func (p *Policy) inCooldown(st *models.ConversationState, now time.Time) bool {
	if st.LastInterventionAt.IsZero() {
		return false
	}
	return now.Before(st.LastInterventionAt.Add(p.cfg.MinInterval))
}

func (p *Policy) escalate(st *models.ConversationState, b risk.Breakdown, _ time.Time) (models.InterventionDecision, bool) {
	d := models.InterventionDecision{Action: models.ActionEscalate, Target: conversationTarget(st)}
	switch {
	case b.Score >= p.cfg.AlertThreshold:
		d.Rationale = ReasonScoreAboveThreshold
	case len(b.Crisis) > 0:
		d.Rationale = ReasonCrisisKeyword
	default:
		return d, false
	}
	return d, true
}

func (p *Policy) privateCheckin(st *models.ConversationState, b risk.Breakdown, _ time.Time) (models.InterventionDecision, bool) {
	if len(b.LatestTriggered) == 0 || b.Score < p.cfg.LowWatermark {
		return models.InterventionDecision{}, false
	}
	return models.InterventionDecision{
		Action:    models.ActionPrivateCheckin,
		Target:    models.Target{Kind: models.TargetUser, ID: b.LatestTriggered[0]},
		Rationale: ReasonTriggerLatestTurn,
	}, true
}

// directSupport answers a user in their 1:1 chat when they ask for help, or when the
// mediator already opened a check-in there and the user replied
func (p *Policy) directSupport(st *models.ConversationState, _ risk.Breakdown, _ time.Time) (models.InterventionDecision, bool) {
	if st.Kind != models.KindDirect || len(st.TurnWindow) == 0 {
		return models.InterventionDecision{}, false
	}
	latest := st.TurnWindow[len(st.TurnWindow)-1]
	if latest.FromAgent {
		return models.InterventionDecision{}, false
	}
	d := models.InterventionDecision{
		Action: models.ActionPrivateCheckin,
		Target: models.Target{Kind: models.TargetUser, ID: latest.SpeakerID},
	}
	switch {
	case sentiment.Analyze(latest.Text).Negative > 0:
		d.Rationale = ReasonSupportRequest
	case sessionOpen(st):
		d.Rationale = ReasonSupportSession
	default:
		return d, false
	}
	return d, true
}

// sessionOpen reports whether the mediator spoke in the window
func sessionOpen(st *models.ConversationState) bool {
	for _, t := range st.TurnWindow {
		if t.FromAgent {
			return true
		}
	}
	return false
}

func (p *Policy) redirect(st *models.ConversationState, b risk.Breakdown, _ time.Time) (models.InterventionDecision, bool) {
	d := models.InterventionDecision{Action: models.ActionRedirectTopic, Target: conversationTarget(st)}
	switch {
	case b.TriggerHits >= p.cfg.RedirectTriggerHits:
		d.Rationale = ReasonRepeatedTriggerHits
		if len(b.TriggeredUsers) > 0 {
			d.OfferPrivateTo = b.TriggeredUsers[0]
		}
	case p.drifted(st):
		d.Rationale = ReasonTopicDrift
	case b.Score >= p.cfg.LowWatermark:
		d.Rationale = ReasonTensionElevated
	default:
		return d, false
	}
	return d, true
}

func (p *Policy) facilitate(st *models.ConversationState, _ risk.Breakdown, now time.Time) (models.InterventionDecision, bool) {
	if st.Kind != models.KindGroup || len(st.ActiveHumans()) == 0 {
		return models.InterventionDecision{}, false
	}
	d := models.InterventionDecision{Action: models.ActionFacilitate, Target: conversationTarget(st)}
	switch {
	case !st.SilenceSince.IsZero() && now.Sub(st.SilenceSince) >= p.cfg.SilenceThreshold:
		d.Rationale = ReasonProlongedSilence
	case p.dominated(st):
		d.Rationale = ReasonParticipationDominan
	default:
		return d, false
	}
	return d, true
}

// dominated reports whether one participant holds at least DominanceShare of the counted turns
func (p *Policy) dominated(st *models.ConversationState) bool {
	humans := st.ActiveHumans()
	if len(humans) < 2 {
		return false
	}
	total, top := 0, 0
	for _, id := range humans {
		n := st.ParticipationCounts[id]
		total += n
		if n > top {
			top = n
		}
	}
	if total < p.cfg.DominanceMinTurns {
		return false
	}
	return float64(top)/float64(total) >= p.cfg.DominanceShare
}

// drifted reports whether the last DriftWindow human turns share no keyword with the topic
func (p *Policy) drifted(st *models.ConversationState) bool {
	topic := st.TopicKeywords()
	if len(topic) == 0 {
		return false
	}
	turns := st.HumanTurns()
	if len(turns) < p.cfg.DriftWindow {
		return false
	}
	for _, t := range turns[len(turns)-p.cfg.DriftWindow:] {
		for _, kw := range topic {
			if strings.TrimSpace(kw) != "" && sentiment.ContainsTerm(t.Text, kw) {
				return false
			}
		}
	}
	return true
}

func conversationTarget(st *models.ConversationState) models.Target {
	return models.Target{Kind: models.TargetConversation, ID: st.ConversationID}
}
