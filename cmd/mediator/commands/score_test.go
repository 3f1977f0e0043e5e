// ABOUTME: Tests for the offline replay behind the score command
// ABOUTME: Feeds JSONL logs through a private engine and checks the decisions per line
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/storage"
)

const replayLog = `# two children in the art group
{"type":"join","conversation_id":"grupo-arte","speaker_id":"u1","timestamp":"2026-05-04T14:00:00Z"}
{"type":"join","conversation_id":"grupo-arte","speaker_id":"u2","timestamp":"2026-05-04T14:00:00Z"}

{"type":"turn","conversation_id":"grupo-arte","speaker_id":"u1","text":"oi pessoal","timestamp":"2026-05-04T14:00:05Z"}
{"type":"turn","conversation_id":"grupo-arte","speaker_id":"u2","text":"socorro, estou em pânico","timestamp":"2026-05-04T14:00:10Z"}
`

func TestReplayEvents(t *testing.T) {
	cfg := setServeEnv(t, nil)

	rows, err := replayEvents(context.Background(), cfg, strings.NewReader(replayLog), nil)
	if err != nil {
		t.Fatalf("replayEvents() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want one per scored event", len(rows))
	}

	greeting := rows[2]
	if greeting.Event != models.EventTurn || greeting.Action != models.ActionNone {
		t.Errorf("greeting = %s %s (%s), want a turn with no action", greeting.Event, greeting.Action, greeting.Rationale)
	}

	crisis := rows[3]
	if crisis.Action != models.ActionEscalate {
		t.Fatalf("crisis action = %s (%s), want escalate", crisis.Action, crisis.Rationale)
	}
	if !strings.Contains(strings.Join(crisis.Crisis, ","), "socorro") {
		t.Errorf("crisis terms = %v", crisis.Crisis)
	}
	if crisis.Escalation == nil {
		t.Error("escalation signals missing from the crisis row")
	}
	if crisis.SpeakerID != "u2" || crisis.ConversationID != "grupo-arte" {
		t.Errorf("row = %+v", crisis)
	}

	for _, r := range interventionsOnly(rows) {
		if r.Action == models.ActionNone {
			t.Errorf("interventionsOnly() kept %+v", r)
		}
	}
}

func TestReplayEvents_Errors(t *testing.T) {
	cfg := setServeEnv(t, nil)

	tests := []struct {
		name string
		log  string
		want string
	}{
		{"invalid json", `{"type":`, "line 1: invalid JSON"},
		{"missing timestamp", `{"type":"turn","conversation_id":"c","speaker_id":"u","text":"oi"}`, "timestamp is required"},
		{"invalid event", "\n" + `{"type":"turn","conversation_id":"c","timestamp":"2026-05-04T14:00:00Z"}`, "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := replayEvents(context.Background(), cfg, strings.NewReader(tt.log), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("replayEvents() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestReplayEvents_SeedTriggers(t *testing.T) {
	cfg := setServeEnv(t, nil)
	seed := &storage.SeedData{Profiles: []models.UserProfile{
		{UserID: "u2", DisplayName: "Bia", AnxietyTriggers: []string{"barulho"}},
	}}
	events := `{"type":"join","conversation_id":"g","speaker_id":"u1","timestamp":"2026-05-04T14:00:00Z"}
{"type":"join","conversation_id":"g","speaker_id":"u2","timestamp":"2026-05-04T14:00:00Z"}
{"type":"turn","conversation_id":"g","speaker_id":"u1","text":"vamos fazer barulho","timestamp":"2026-05-04T14:00:05Z"}`

	rows, err := replayEvents(context.Background(), cfg, strings.NewReader(events), seed)
	if err != nil {
		t.Fatalf("replayEvents() error = %v", err)
	}
	if len(rows) != 3 || rows[2].Trigger <= 0 {
		t.Errorf("rows = %+v, want a trigger signal from the seeded profile", rows)
	}
}

func TestScoreCommand_JSON(t *testing.T) {
	setServeEnv(t, nil)
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(replayLog), 0o644); err != nil {
		t.Fatal(err)
	}

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--format", "json", "score", path})
	t.Cleanup(func() { outputFormat, scoreAll, scoreSeedPath = "auto", false, "" })

	if err := root.Execute(); err != nil {
		t.Fatalf("score error = %v", err)
	}
	var rows []scoreRow
	if err := json.Unmarshal(out.Bytes(), &rows); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if len(rows) == 0 || rows[len(rows)-1].Action != models.ActionEscalate {
		t.Fatalf("rows = %+v, want the escalation last", rows)
	}
	for _, r := range rows {
		if r.Action == models.ActionNone {
			t.Errorf("row without an intervention in default output: %+v", r)
		}
	}
}
