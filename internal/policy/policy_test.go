// ABOUTME: Tests for the intervention policy state machine
// ABOUTME: Covers action priority, cooldown, direct support and the facilitation and redirect conditions
package policy

import (
	"testing"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/risk"
)

var now = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		AlertThreshold:      70,
		LowWatermark:        40,
		MinInterval:         5 * time.Minute,
		SilenceThreshold:    3 * time.Minute,
		DominanceShare:      0.7,
		DominanceMinTurns:   6,
		RedirectTriggerHits: 2,
		DriftWindow:         3,
	}
}

func newPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

// groupState has two present users who spoke evenly and just now
func groupState() *models.ConversationState {
	st := models.NewConversationState("c1", models.KindGroup, now)
	for _, id := range []string{"u", "v"} {
		st.Participants[id] = struct{}{}
		st.ParticipationCounts[id] = 2
	}
	st.TurnWindow = []models.Turn{
		{TurnID: "1", SpeakerID: "u", Text: "oi", Timestamp: now},
		{TurnID: "2", SpeakerID: "v", Text: "oi", Timestamp: now},
	}
	return st
}

func TestDecidePriority(t *testing.T) {
	tests := []struct {
		name       string
		breakdown  risk.Breakdown
		wantAction models.Action
		wantReason string
		wantTarget models.Target
	}{
		{
			name:       "idle when calm",
			breakdown:  risk.Breakdown{Score: 10},
			wantAction: models.ActionNone,
			wantReason: ReasonIdle,
			wantTarget: models.Target{Kind: models.TargetConversation, ID: "c1"},
		},
		{
			name:       "escalate at threshold",
			breakdown:  risk.Breakdown{Score: 70, LatestTriggered: []string{"u"}},
			wantAction: models.ActionEscalate,
			wantReason: ReasonScoreAboveThreshold,
			wantTarget: models.Target{Kind: models.TargetConversation, ID: "c1"},
		},
		{
			name:       "crisis keyword escalates below threshold",
			breakdown:  risk.Breakdown{Score: 5, Crisis: []string{"socorro"}},
			wantAction: models.ActionEscalate,
			wantReason: ReasonCrisisKeyword,
			wantTarget: models.Target{Kind: models.TargetConversation, ID: "c1"},
		},
		{
			name:       "checkin for latest triggered user",
			breakdown:  risk.Breakdown{Score: 45, TriggerHits: 3, LatestTriggered: []string{"v"}, TriggeredUsers: []string{"u", "v"}},
			wantAction: models.ActionPrivateCheckin,
			wantReason: ReasonTriggerLatestTurn,
			wantTarget: models.Target{Kind: models.TargetUser, ID: "v"},
		},
		{
			name:       "trigger below watermark does not check in",
			breakdown:  risk.Breakdown{Score: 20, TriggerHits: 1, LatestTriggered: []string{"v"}, TriggeredUsers: []string{"v"}},
			wantAction: models.ActionNone,
			wantReason: ReasonIdle,
			wantTarget: models.Target{Kind: models.TargetConversation, ID: "c1"},
		},
		{
			name:       "repeated hits redirect",
			breakdown:  risk.Breakdown{Score: 20, TriggerHits: 2, TriggeredUsers: []string{"u"}},
			wantAction: models.ActionRedirectTopic,
			wantReason: ReasonRepeatedTriggerHits,
			wantTarget: models.Target{Kind: models.TargetConversation, ID: "c1"},
		},
		{
			name:       "elevated tension redirects",
			breakdown:  risk.Breakdown{Score: 55},
			wantAction: models.ActionRedirectTopic,
			wantReason: ReasonTensionElevated,
			wantTarget: models.Target{Kind: models.TargetConversation, ID: "c1"},
		},
	}

	p := newPolicy(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(groupState(), tt.breakdown, now)
			if d.Action != tt.wantAction {
				t.Errorf("Action = %s, want %s", d.Action, tt.wantAction)
			}
			if d.Rationale != tt.wantReason {
				t.Errorf("Rationale = %q, want %q", d.Rationale, tt.wantReason)
			}
			if d.Target != tt.wantTarget {
				t.Errorf("Target = %+v, want %+v", d.Target, tt.wantTarget)
			}
		})
	}
}

func TestRedirectOffersPrivateChannel(t *testing.T) {
	d := newPolicy(t).Decide(groupState(), risk.Breakdown{Score: 10, TriggerHits: 2, TriggeredUsers: []string{"u"}}, now)
	if d.OfferPrivateTo != "u" {
		t.Errorf("OfferPrivateTo = %q, want u", d.OfferPrivateTo)
	}
}

func TestCooldownSuppressesInterventions(t *testing.T) {
	p := newPolicy(t)
	st := groupState()
	st.LastInterventionAt = now.Add(-2 * time.Minute)

	d := p.Decide(st, risk.Breakdown{Score: 55}, now)
	if d.Action != models.ActionNone {
		t.Fatalf("Action = %s, want none during cooldown", d.Action)
	}
	if d.Rationale != ReasonCooldownPrefix+string(models.ActionRedirectTopic) {
		t.Errorf("Rationale = %q, want the suppressed action named", d.Rationale)
	}

	// Cooldown has expired
	d = p.Decide(st, risk.Breakdown{Score: 55}, now.Add(3*time.Minute))
	if d.Action != models.ActionRedirectTopic {
		t.Errorf("Action = %s, want redirect after the interval", d.Action)
	}
}

func TestEscalationBypassesCooldown(t *testing.T) {
	st := groupState()
	st.LastInterventionAt = now.Add(-time.Second)

	d := newPolicy(t).Decide(st, risk.Breakdown{Score: 90}, now)
	if d.Action != models.ActionEscalate {
		t.Errorf("Action = %s, want escalate regardless of cooldown", d.Action)
	}
}

func TestFacilitateOnSilence(t *testing.T) {
	st := groupState()
	st.SilenceSince = now.Add(-4 * time.Minute)

	d := newPolicy(t).Decide(st, risk.Breakdown{Score: 10}, now)
	if d.Action != models.ActionFacilitate || d.Rationale != ReasonProlongedSilence {
		t.Errorf("Decide() = %s/%s, want facilitate/%s", d.Action, d.Rationale, ReasonProlongedSilence)
	}
}

func TestFacilitateOnDominance(t *testing.T) {
	st := groupState()
	st.ParticipationCounts["u"] = 8
	st.ParticipationCounts["v"] = 1

	d := newPolicy(t).Decide(st, risk.Breakdown{Score: 10}, now)
	if d.Action != models.ActionFacilitate || d.Rationale != ReasonParticipationDominan {
		t.Errorf("Decide() = %s/%s, want facilitate/%s", d.Action, d.Rationale, ReasonParticipationDominan)
	}
}

func TestNoFacilitationInDirectChat(t *testing.T) {
	st := groupState()
	st.Kind = models.KindDirect
	st.SilenceSince = now.Add(-time.Hour)

	d := newPolicy(t).Decide(st, risk.Breakdown{Score: 10}, now)
	if d.Action != models.ActionNone {
		t.Errorf("Action = %s, want none for a quiet direct chat", d.Action)
	}
}

func directState(turns ...models.Turn) *models.ConversationState {
	st := models.NewConversationState("dm:u", models.KindDirect, now.Add(-time.Hour))
	st.Participants["u"] = struct{}{}
	st.TurnWindow = turns
	return st
}

func TestDirectSupport(t *testing.T) {
	agent := *models.NewAgentTurn("Oi, estou aqui. Quer conversar?", now.Add(-2*time.Minute))
	tests := []struct {
		name       string
		st         *models.ConversationState
		last       time.Time
		wantAction models.Action
		wantReason string
	}{
		{
			name:       "support words",
			st:         directState(models.Turn{SpeakerID: "u", Text: "Estou triste e com medo, preciso de ajuda", Timestamp: now}),
			wantAction: models.ActionPrivateCheckin,
			wantReason: ReasonSupportRequest,
		},
		{
			name:       "reply to an open check-in",
			st:         directState(agent, models.Turn{SpeakerID: "u", Text: "acho que sim", Timestamp: now}),
			wantAction: models.ActionPrivateCheckin,
			wantReason: ReasonSupportSession,
		},
		{
			name:       "calm chat without a session",
			st:         directState(models.Turn{SpeakerID: "u", Text: "gosto de trens", Timestamp: now}),
			wantAction: models.ActionNone,
			wantReason: ReasonIdle,
		},
		{
			name:       "mediator spoke last",
			st:         directState(models.Turn{SpeakerID: "u", Text: "estou triste", Timestamp: now.Add(-time.Hour)}, agent),
			wantAction: models.ActionNone,
			wantReason: ReasonIdle,
		},
		{
			name:       "cooldown holds a quick second request",
			st:         directState(agent, models.Turn{SpeakerID: "u", Text: "Não consigo, estou sozinho", Timestamp: now}),
			last:       now.Add(-time.Minute),
			wantAction: models.ActionNone,
			wantReason: ReasonCooldownPrefix + string(models.ActionPrivateCheckin),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.st.LastInterventionAt = tt.last
			d := newPolicy(t).Decide(tt.st, risk.Breakdown{Score: 25}, now)
			if d.Action != tt.wantAction || d.Rationale != tt.wantReason {
				t.Fatalf("Decide() = %s/%s, want %s/%s", d.Action, d.Rationale, tt.wantAction, tt.wantReason)
			}
			if d.Action == models.ActionPrivateCheckin && d.Target != (models.Target{Kind: models.TargetUser, ID: "u"}) {
				t.Errorf("Target = %+v, want the user of the chat", d.Target)
			}
		})
	}
}

func TestDirectSupportOnlyInDirectChats(t *testing.T) {
	st := groupState()
	st.TurnWindow = append(st.TurnWindow, models.Turn{TurnID: "3", SpeakerID: "u", Text: "estou triste", Timestamp: now})
	d := newPolicy(t).Decide(st, risk.Breakdown{Score: 10}, now)
	if d.Action != models.ActionNone {
		t.Errorf("Action = %s, want none for support words in a group", d.Action)
	}
}

func TestNoFacilitationWithoutHumans(t *testing.T) {
	st := models.NewConversationState("empty", models.KindGroup, now.Add(-time.Hour))
	d := newPolicy(t).Decide(st, risk.Breakdown{}, now)
	if d.Action != models.ActionNone {
		t.Errorf("Action = %s, want none for an empty conversation", d.Action)
	}
}

func TestTopicDrift(t *testing.T) {
	st := groupState()
	st.Activity = &models.Activity{Title: "trens", Topic: []string{"trem", "estação"}}
	st.TurnWindow = []models.Turn{
		{TurnID: "1", SpeakerID: "u", Text: "vi um trem novo", Timestamp: now},
		{TurnID: "2", SpeakerID: "v", Text: "gosto de futebol", Timestamp: now},
		{TurnID: "3", SpeakerID: "u", Text: "meu time ganhou", Timestamp: now},
		{TurnID: "4", SpeakerID: "v", Text: "o jogo foi bom", Timestamp: now},
	}

	p := newPolicy(t)
	d := p.Decide(st, risk.Breakdown{Score: 10}, now)
	if d.Action != models.ActionRedirectTopic || d.Rationale != ReasonTopicDrift {
		t.Errorf("Decide() = %s/%s, want redirect/%s", d.Action, d.Rationale, ReasonTopicDrift)
	}

	// Back on topic within the drift window
	st.TurnWindow[2].Text = "a estação estava cheia"
	d = p.Decide(st, risk.Breakdown{Score: 10}, now)
	if d.Action != models.ActionNone {
		t.Errorf("Action = %s, want none while on topic", d.Action)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	p := newPolicy(t)
	st := groupState()
	b := risk.Breakdown{Score: 45, LatestTriggered: []string{"u"}}
	first := p.Decide(st, b, now)
	for i := 0; i < 50; i++ {
		if got := p.Decide(st, b, now); got != first {
			t.Fatalf("Decide() changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above 100", func(c *Config) { c.AlertThreshold = 101 }},
		{"watermark above threshold", func(c *Config) { c.LowWatermark = 80 }},
		{"negative interval", func(c *Config) { c.MinInterval = -time.Second }},
		{"zero silence", func(c *Config) { c.SilenceThreshold = 0 }},
		{"dominance zero", func(c *Config) { c.DominanceShare = 0 }},
		{"drift zero", func(c *Config) { c.DriftWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() should reject invalid config")
			}
		})
	}
}
