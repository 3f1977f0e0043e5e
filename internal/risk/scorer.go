// ABOUTME: Risk scorer computing the tension score of a conversation in [0,100]
// ABOUTME: Pure function of state, trigger lists, time and explicit configuration
package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/sentiment"
)

// Weights are the relative weights of the four sub-signals.
// They are normalized by their total, so only their ratios matter.
type Weights struct {
	Sentiment     float64
	Silence       float64
	Participation float64
	Trigger       float64
}

// Total returns the sum of all weights
func (w Weights) Total() float64 {
	return w.Sentiment + w.Silence + w.Participation + w.Trigger
}

// Config holds every tunable of the scorer
type Config struct {
	Weights Weights
	// SentimentDecay is the weight multiplier per turn of age, in (0,1]
	SentimentDecay float64
	// TriggerSaturation is the number of trigger hits that maps to a full trigger signal
	TriggerSaturation int
	// Silence baselines per conversation kind; silence starts counting after the baseline
	SilenceBaselineGroup  time.Duration
	SilenceBaselineDirect time.Duration
	// Smoothing is the EMA factor applied against the previous tension; 1 disables smoothing
	Smoothing float64
}

// Validate checks the scorer configuration
func (c Config) Validate() error {
	w := c.Weights
	if w.Sentiment < 0 || w.Silence < 0 || w.Participation < 0 || w.Trigger < 0 {
		return models.ConfigError("risk weights must be non-negative, got %+v", w)
	}
	if w.Total() <= 0 {
		return models.ConfigError("risk weights must have a positive total")
	}
	if c.SentimentDecay <= 0 || c.SentimentDecay > 1 {
		return models.ConfigError("sentiment decay must be in (0,1], got %v", c.SentimentDecay)
	}
	if c.TriggerSaturation <= 0 {
		return models.ConfigError("trigger saturation must be positive, got %d", c.TriggerSaturation)
	}
	if c.SilenceBaselineGroup <= 0 || c.SilenceBaselineDirect <= 0 {
		return models.ConfigError("silence baselines must be positive")
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		return models.ConfigError("smoothing must be in (0,1], got %v", c.Smoothing)
	}
	return nil
}

// Breakdown is the result of one scoring cycle
type Breakdown struct {
	Sentiment     float64
	Silence       float64
	Participation float64
	Trigger       float64
	Raw           float64
	Score         float64

	TriggerHits int
	// TriggeredUsers have at least one trigger hit in the window, sorted
	TriggeredUsers []string
	// LatestTriggered have a trigger hit in the most recent human turn, sorted
	LatestTriggered []string
	// Crisis lists crisis words found in the most recent human turn
	Crisis []string
}

// Signals returns the sub-signals in the escalation record shape
func (b Breakdown) Signals() models.SignalBreakdown {
	return models.SignalBreakdown{
		Sentiment:     b.Sentiment,
		Silence:       b.Silence,
		Participation: b.Participation,
		Trigger:       b.Trigger,
	}
}

func (b Breakdown) String() string {
	return fmt.Sprintf("score=%.1f sentiment=%.1f silence=%.1f participation=%.1f trigger=%.1f hits=%d",
		b.Score, b.Sentiment, b.Silence, b.Participation, b.Trigger, b.TriggerHits)
}

// Scorer computes tension scores with a fixed configuration
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer, rejecting invalid configuration
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer configuration
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the breakdown for state at time now. triggers maps user id to that
// user's known anxiety triggers; only present participants are considered.
func (s *Scorer) Score(state *models.ConversationState, triggers map[string][]string, now time.Time) Breakdown {
	var b Breakdown
	humans := state.HumanTurns()

	b.Sentiment = sentimentSignal(humans, s.cfg.SentimentDecay)
	b.Silence = s.silenceSignal(state, now)
	b.Participation = participationSignal(state)
	s.triggerSignal(state, humans, triggers, &b)

	if len(humans) > 0 {
		b.Crisis = sentiment.CrisisTerms(humans[len(humans)-1].Text)
	}

	w := s.cfg.Weights
	b.Raw = clamp((w.Sentiment*b.Sentiment + w.Silence*b.Silence +
		w.Participation*b.Participation + w.Trigger*b.Trigger) / w.Total())
	b.Score = clamp(s.cfg.Smoothing*b.Raw + (1-s.cfg.Smoothing)*state.TensionScore)
	return b
}

// sentimentSignal weighs negativity toward recent turns with exponential decay
func sentimentSignal(turns []models.Turn, decay float64) float64 {
	if len(turns) == 0 {
		return 0
	}
	var num, den float64
	n := len(turns)
	for i, t := range turns {
		w := math.Pow(decay, float64(n-1-i))
		num += w * math.Max(0, -t.Sentiment)
		den += w
	}
	return clamp(100 * num / den)
}

// silenceSignal is zero until the baseline and reaches 100 at twice the baseline
func (s *Scorer) silenceSignal(state *models.ConversationState, now time.Time) float64 {
	if len(state.ActiveHumans()) == 0 || state.SilenceSince.IsZero() {
		return 0
	}
	baseline := s.cfg.SilenceBaselineGroup
	if state.Kind == models.KindDirect {
		baseline = s.cfg.SilenceBaselineDirect
	}
	elapsed := now.Sub(state.SilenceSince)
	if elapsed <= baseline {
		return 0
	}
	return clamp(100 * float64(elapsed-baseline) / float64(baseline))
}

// participationSignal is the Gini coefficient of turn counts, normalized to its maximum for n users
func participationSignal(state *models.ConversationState) float64 {
	ids := state.ActiveHumans()
	n := len(ids)
	if n < 2 {
		return 0
	}
	counts := make([]float64, n)
	var sum float64
	for i, id := range ids {
		counts[i] = float64(state.ParticipationCounts[id])
		sum += counts[i]
	}
	if sum == 0 {
		return 0
	}
	var diff float64
	for _, a := range counts {
		for _, b := range counts {
			diff += math.Abs(a - b)
		}
	}
	gini := diff / (2 * float64(n) * sum)
	maxGini := float64(n-1) / float64(n)
	return clamp(100 * gini / maxGini)
}

// triggerSignal counts (turn, user) pairs where a present user's trigger appears
func (s *Scorer) triggerSignal(state *models.ConversationState, turns []models.Turn, triggers map[string][]string, b *Breakdown) {
	present := state.ActiveHumans()
	triggered := make(map[string]struct{})
	latest := make(map[string]struct{})

	for i, t := range turns {
		for _, userID := range present {
			if !matchesAny(t.Text, triggers[userID]) {
				continue
			}
			b.TriggerHits++
			triggered[userID] = struct{}{}
			if i == len(turns)-1 {
				latest[userID] = struct{}{}
			}
		}
	}

	b.TriggeredUsers = sortedKeys(triggered)
	b.LatestTriggered = sortedKeys(latest)
	b.Trigger = clamp(100 * float64(b.TriggerHits) / float64(s.cfg.TriggerSaturation))
}

func matchesAny(text string, terms []string) bool {
	for _, term := range terms {
		if sentiment.ContainsTerm(text, term) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
