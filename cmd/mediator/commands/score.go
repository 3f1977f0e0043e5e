// ABOUTME: Score command replays a recorded event log through the engine offline
// ABOUTME: Prints the tension breakdown and the decision of every scored event without sending anything
package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/auticonnect-mediator/internal/config"
	"github.com/harper/auticonnect-mediator/internal/engine"
	"github.com/harper/auticonnect-mediator/internal/llm"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/policy"
	"github.com/harper/auticonnect-mediator/internal/prompt"
	"github.com/harper/auticonnect-mediator/internal/risk"
	"github.com/harper/auticonnect-mediator/internal/storage"
	"github.com/harper/auticonnect-mediator/internal/tracker"
)

var (
	scoreSeedPath string
	scoreAll      bool
)

// NewScoreCmd creates the score command
func NewScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <events.jsonl>",
		Short: "Replay an event log and show risk scores",
		Long: `Replay an event log and show risk scores.

Reads one JSON event per line (use "-" for stdin) and runs each through
the tracker, scorer and policy with the current configuration. Nothing is
generated, sent or escalated; the output shows what the engine would do.

Profiles (and their anxiety triggers) come from an optional seed file.`,
		Example: `  mediator score conversation.jsonl
  mediator score --seed profiles.yaml --all conversation.jsonl
  cat events.jsonl | mediator score --format json -`,
		Args: cobra.ExactArgs(1),
		RunE: runScore,
	}

	cmd.Flags().StringVar(&scoreSeedPath, "seed", "", "YAML/JSON profile seed file")
	cmd.Flags().BoolVar(&scoreAll, "all", false, "Show every scored event, not just interventions")

	return cmd
}

// scoreRow is one scored event in the replay
type scoreRow struct {
	Timestamp      time.Time               `json:"timestamp"`
	ConversationID string                  `json:"conversation_id"`
	Event          models.EventType        `json:"event"`
	SpeakerID      string                  `json:"speaker_id,omitempty"`
	Score          float64                 `json:"score"`
	Sentiment      float64                 `json:"sentiment"`
	Silence        float64                 `json:"silence"`
	Participation  float64                 `json:"participation"`
	Trigger        float64                 `json:"trigger"`
	Crisis         []string                `json:"crisis,omitempty"`
	Action         models.Action           `json:"action"`
	Rationale      string                  `json:"rationale"`
	Target         models.Target           `json:"target"`
	Scenario       prompt.Scenario         `json:"scenario,omitempty"`
	Escalation     *models.SignalBreakdown `json:"escalation_signals,omitempty"`
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var seed *storage.SeedData
	if scoreSeedPath != "" {
		seed, err = storage.LoadSeed(scoreSeedPath)
		if err != nil {
			return err
		}
	}

	in := cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening event log: %w", err)
		}
		defer f.Close()
		in = f
	}

	rows, err := replayEvents(cmd.Context(), cfg, in, seed)
	if err != nil {
		return err
	}
	if !scoreAll {
		rows = interventionsOnly(rows)
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), rows)
	}
	if len(rows) == 0 {
		if !quiet {
			fmt.Fprintln(cmd.OutOrStdout(), "No interventions")
		}
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIME\tCONVERSATION\tEVENT\tSCORE\tS/Si/P/T\tACTION\tRATIONALE\n")
	fmt.Fprintf(w, "----\t------------\t-----\t-----\t--------\t------\t---------\n")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.2f/%.2f/%.2f/%.2f\t%s\t%s\n",
			r.Timestamp.Format("15:04:05"), truncate(r.ConversationID, 20), r.Event, r.Score,
			r.Sentiment, r.Silence, r.Participation, r.Trigger, r.Action, r.Rationale)
	}
	return w.Flush()
}

func interventionsOnly(rows []scoreRow) []scoreRow {
	out := rows[:0]
	for _, r := range rows {
		if r.Action != models.ActionNone {
			out = append(out, r)
		}
	}
	return out
}

// dryRun stands in for every outbound collaborator during a replay
type dryRun struct {
	mu        sync.Mutex
	scenarios []prompt.Scenario
}

func (d *dryRun) Generate(ctx context.Context, p prompt.Prompt) llm.Generation {
	d.mu.Lock()
	d.scenarios = append(d.scenarios, p.Scenario)
	d.mu.Unlock()
	return llm.Generation{Text: "[" + string(p.Scenario) + "]"}
}

func (d *dryRun) Send(ctx context.Context, target models.Target, text string) error {
	return nil
}

func (d *dryRun) Submit(ev *models.EscalationEvent) {}

func (d *dryRun) last() prompt.Scenario {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.scenarios) == 0 {
		return ""
	}
	s := d.scenarios[len(d.scenarios)-1]
	d.scenarios = d.scenarios[:0]
	return s
}

// replayEvents runs the log through a private engine and returns one row per scored event
func replayEvents(ctx context.Context, cfg *config.Config, r io.Reader, seed *storage.SeedData) ([]scoreRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var profiles engine.ProfileSource
	if seed != nil {
		db, err := storage.OpenInMemory()
		if err != nil {
			return nil, err
		}
		defer db.Close()
		ps := storage.NewProfileStore(db)
		if _, _, err := ps.Import(ctx, seed); err != nil {
			return nil, err
		}
		profiles = ps
	}

	tr, err := tracker.New(cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	scorer, err := risk.NewScorer(cfg.RiskConfig())
	if err != nil {
		return nil, err
	}
	pol, err := policy.New(cfg.PolicyConfig())
	if err != nil {
		return nil, err
	}
	templates, err := prompt.LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		return nil, err
	}
	composer, err := prompt.NewComposer(templates, cfg.Frequency)
	if err != nil {
		return nil, err
	}

	dry := &dryRun{}
	eng, err := engine.New(engine.Config{Workers: 1, QueueSize: 1, ProfileTTL: 0, SendTimeout: time.Second}, engine.Deps{
		Tracker:   tr,
		Scorer:    scorer,
		Policy:    pol,
		Composer:  composer,
		Generator: dry,
		Sender:    dry,
		Escalator: dry,
		Profiles:  profiles,
	})
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	var rows []scoreRow
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", line, err)
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Timestamp.IsZero() {
			return nil, fmt.Errorf("line %d: timestamp is required for replay", line)
		}

		out, err := eng.Process(ctx, ev)
		if err != nil {
			if !out.Scored {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			log.Printf("[score] line %d: %v", line, err)
		}
		if !out.Scored {
			continue
		}
		row := scoreRow{
			Timestamp:      ev.Timestamp,
			ConversationID: ev.ConversationID,
			Event:          ev.Type,
			SpeakerID:      ev.SpeakerID,
			Score:          out.Breakdown.Score,
			Sentiment:      out.Breakdown.Sentiment,
			Silence:        out.Breakdown.Silence,
			Participation:  out.Breakdown.Participation,
			Trigger:        out.Breakdown.Trigger,
			Crisis:         out.Breakdown.Crisis,
			Action:         out.Decision.Action,
			Rationale:      out.Decision.Rationale,
			Target:         out.Decision.Target,
			Scenario:       dry.last(),
		}
		if out.Escalation != nil {
			signals := out.Escalation.Signals
			row.Escalation = &signals
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return rows, nil
}
