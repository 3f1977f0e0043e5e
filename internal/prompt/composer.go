// ABOUTME: Prompt composer turning scenario, profiles and conversation state into a prompt
// ABOUTME: Private check-in prompts carry only the target's data and are scanned for leaks
package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/sentiment"
)

// DefaultRecentTurns is how many recent turns a prompt quotes
const DefaultRecentTurns = 10

// Request is everything Compose needs for one prompt
type Request struct {
	Scenario Scenario
	State    models.ConversationState
	// Target is the addressed user; required for the support scenario
	Target *models.UserProfile
	// Profiles maps participant ids to their profiles
	Profiles  map[string]models.UserProfile
	Rationale string
	Score     float64
	// OfferPrivateTo is a user a redirect should offer a private channel to
	OfferPrivateTo string
}

// Prompt is a composed instruction for the generation backend
type Prompt struct {
	Scenario       Scenario `json:"scenario"`
	ConversationID string   `json:"conversation_id"`
	TargetUserID   string   `json:"target_user_id,omitempty"`
	System         string   `json:"system"`
	User           string   `json:"user"`
}

// Text returns the full prompt as sent, for audit logs and leak scans
func (p Prompt) Text() string {
	return p.System + "\n\n" + p.User
}

// Composer builds prompts from a validated template set
type Composer struct {
	templates   *TemplateSet
	frequency   Frequency
	recentTurns int
}

// NewComposer creates a composer
func NewComposer(ts *TemplateSet, freq Frequency) (*Composer, error) {
	if ts == nil {
		return nil, models.ConfigError("composer needs a template set")
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	if _, ok := ts.Frequency[freq]; !ok {
		return nil, models.ConfigError("unknown intervention frequency %q", freq)
	}
	return &Composer{templates: ts, frequency: freq, recentTurns: DefaultRecentTurns}, nil
}

// Templates returns the template set in use
func (c *Composer) Templates() *TemplateSet {
	return c.templates
}

// Compose builds the prompt for req
func (c *Composer) Compose(req Request) (Prompt, error) {
	tmpl, err := c.templates.Lookup(req.Scenario)
	if err != nil {
		return Prompt{}, err
	}
	p := Prompt{
		Scenario:       req.Scenario,
		ConversationID: req.State.ConversationID,
		User:           c.templates.Request,
	}

	switch req.Scenario {
	case ScenarioSupport:
		if req.Target == nil {
			return Prompt{}, fmt.Errorf("support prompt needs a target profile")
		}
		p.TargetUserID = req.Target.UserID
		p.System = c.support(tmpl, req)
		static := append([]string{tmpl.System, c.templates.Request}, tmpl.Instructions...)
		if err := checkIsolation(p, req, static); err != nil {
			return Prompt{}, err
		}
	case ScenarioAlertContext:
		p.System = c.alert(tmpl, req)
		p.User = ""
	default:
		p.System = c.group(tmpl, req)
	}
	return p, nil
}

// group renders facilitation, redirection and activity prompts
func (c *Composer) group(tmpl Template, req Request) string {
	var b strings.Builder
	b.WriteString(tmpl.System)
	b.WriteString("\n\n")

	st := req.State
	if st.Activity != nil {
		fmt.Fprintf(&b, "Atividade: %s\n", st.Activity.Title)
	}
	if topic := st.TopicKeywords(); len(topic) > 0 {
		fmt.Fprintf(&b, "Tema: %s\n", strings.Join(topic, ", "))
	}

	b.WriteString("\nParticipantes:\n")
	var avoid []string
	for _, id := range st.ActiveHumans() {
		prof, ok := req.Profiles[id]
		if !ok {
			fmt.Fprintf(&b, "- %s\n", id)
			continue
		}
		fmt.Fprintf(&b, "- %s", prof.Name())
		if prof.AgeBand != "" {
			fmt.Fprintf(&b, " (%s)", prof.AgeBand)
		}
		if len(prof.Interests) > 0 {
			fmt.Fprintf(&b, ". Interesses: %s", strings.Join(prof.Interests, ", "))
		}
		fmt.Fprintf(&b, ". Prefere comunicação %s.\n", communicationLabel(prof.Communication))
		avoid = append(avoid, prof.AnxietyTriggers...)
	}
	// Triggers are pooled so the group prompt never ties one to a person
	if avoid = dedupSorted(avoid); len(avoid) > 0 {
		fmt.Fprintf(&b, "\nTemas a evitar no grupo: %s\n", strings.Join(avoid, ", "))
	}

	b.WriteString("\nConversa recente:\n")
	c.writeTurns(&b, recent(st.TurnWindow, c.recentTurns), req.Profiles)

	writeInstructions(&b, tmpl.Instructions)
	if req.OfferPrivateTo != "" {
		name := req.OfferPrivateTo
		if prof, ok := req.Profiles[name]; ok {
			name = prof.Name()
		}
		fmt.Fprintf(&b, "- Ofereça a %s, com delicadeza, a opção de conversar em particular.\n", name)
	}
	fmt.Fprintf(&b, "\n%s", c.templates.Frequency[c.frequency])
	return b.String()
}

// support renders a private check-in with only the target's profile and turns
func (c *Composer) support(tmpl Template, req Request) string {
	target := req.Target
	var b strings.Builder
	b.WriteString(tmpl.System)
	fmt.Fprintf(&b, "\n\nUsuário: %s\n", target.Name())
	if target.AgeBand != "" {
		fmt.Fprintf(&b, "Faixa etária: %s\n", target.AgeBand)
	}
	if len(target.Interests) > 0 {
		fmt.Fprintf(&b, "Interesses: %s\n", strings.Join(target.Interests, ", "))
	}
	if len(target.AnxietyTriggers) > 0 {
		fmt.Fprintf(&b, "Gatilhos de ansiedade: %s\n", strings.Join(target.AnxietyTriggers, ", "))
	}
	fmt.Fprintf(&b, "Preferência de comunicação: %s\n", communicationLabel(target.Communication))

	own := make([]models.Turn, 0, len(req.State.TurnWindow))
	for _, t := range req.State.TurnWindow {
		if t.SpeakerID == target.UserID {
			own = append(own, t)
		}
	}
	b.WriteString("\nMensagens recentes do usuário:\n")
	for _, t := range recent(own, c.recentTurns) {
		fmt.Fprintf(&b, "Usuário: %s\n", t.Text)
	}

	writeInstructions(&b, tmpl.Instructions)
	return b.String()
}

// alert renders the supervisor notification text
func (c *Composer) alert(tmpl Template, req Request) string {
	r := strings.NewReplacer(
		"{conversation}", req.State.ConversationID,
		"{score}", strconv.FormatFloat(req.Score, 'f', 1, 64),
		"{reason}", req.Rationale,
	)
	var b strings.Builder
	b.WriteString(r.Replace(tmpl.System))
	b.WriteString("\n\nConversa recente:\n")
	c.writeTurns(&b, recent(req.State.TurnWindow, c.recentTurns), req.Profiles)
	for _, line := range tmpl.Instructions {
		fmt.Fprintf(&b, "\n%s", r.Replace(line))
	}
	return b.String()
}

func (c *Composer) writeTurns(b *strings.Builder, turns []models.Turn, profiles map[string]models.UserProfile) {
	for _, t := range turns {
		name := t.SpeakerID
		switch {
		case t.FromAgent:
			name = "Mediador"
		default:
			if prof, ok := profiles[t.SpeakerID]; ok {
				name = prof.Name()
			}
		}
		fmt.Fprintf(b, "%s: %s\n", name, t.Text)
	}
}

// checkIsolation scans a support prompt for any distinctive attribute of another
// participant that did not come from the template, the target's own profile or words
func checkIsolation(p Prompt, req Request, static []string) error {
	allowed := append(static, req.Target.PrivateAttributes()...)
	for _, t := range req.State.TurnWindow {
		if t.SpeakerID == req.Target.UserID {
			allowed = append(allowed, t.Text)
		}
	}
	allowedText := sentiment.Normalize(strings.Join(allowed, " \n "))
	text := p.Text()

	for id, prof := range req.Profiles {
		if id == req.Target.UserID {
			continue
		}
		for _, attr := range prof.PrivateAttributes() {
			if !sentiment.ContainsTerm(text, attr) {
				continue
			}
			if sentiment.ContainsTerm(allowedText, attr) {
				continue
			}
			return fmt.Errorf("%w: prompt for %s contains profile data of %s", models.ErrDataIsolation, req.Target.UserID, id)
		}
	}
	return nil
}

func writeInstructions(b *strings.Builder, instructions []string) {
	if len(instructions) == 0 {
		return
	}
	b.WriteString("\nInstruções:\n")
	for i, line := range instructions {
		fmt.Fprintf(b, "%d. %s\n", i+1, line)
	}
}

func communicationLabel(c models.CommunicationPreference) string {
	if c == models.CommunicationDetailed {
		return "detalhada"
	}
	return "direta"
}

func recent(turns []models.Turn, n int) []models.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func dedupSorted(values []string) []string {
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
	sort.Strings(out)
	return out
}
