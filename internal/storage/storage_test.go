// ABOUTME: Tests for the SQL stores against in-memory SQLite
// ABOUTME: Covers schema, profiles, supervisors, escalations, messages, interactions and seeding
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harper/auticonnect-mediator/internal/escalation"
	"github.com/harper/auticonnect-mediator/internal/llm"
	"github.com/harper/auticonnect-mediator/internal/models"
)

var (
	_ escalation.Directory  = (*ProfileStore)(nil)
	_ escalation.EventStore = (*EscalationStore)(nil)
	_ llm.AuditLog          = (*InteractionStore)(nil)
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSchemaInitialization(t *testing.T) {
	db := openTestDB(t)
	if db.Path() != ":memory:" || db.Driver() != DriverSQLite {
		t.Errorf("Path() = %q, Driver() = %q", db.Path(), db.Driver())
	}
	for _, table := range Tables {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s does not exist: %v", table, err)
		}
	}
	// Running the schema twice must be harmless
	if err := db.initSchema(context.Background()); err != nil {
		t.Errorf("second initSchema() error = %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mediator.db")
	db, err := Open(Config{Driver: DriverSQLite, DSN: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Error("Open() should reject an unknown driver")
	}
	if _, err := Open(Config{Driver: DriverMySQL}); err == nil {
		t.Error("Open() should require a mysql DSN")
	}
	if _, err := Open(Config{Driver: DriverMySQL, DSN: "not a dsn"}); err == nil {
		t.Error("Open() should reject a malformed mysql DSN")
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"SQLite3", DriverSQLite, false},
		{"mysql", DriverMySQL, false},
		{"postgres", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDriver(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestUpsertClause(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	if got := sqlite.upsert("id", "a", "b"); got != "ON CONFLICT(id) DO UPDATE SET a=excluded.a, b=excluded.b" {
		t.Errorf("sqlite upsert = %q", got)
	}
	if got := sqlite.upsert("id"); got != "ON CONFLICT(id) DO NOTHING" {
		t.Errorf("sqlite upsert without columns = %q", got)
	}
	my := &DB{driver: DriverMySQL}
	if got := my.upsert("id", "a"); got != "ON DUPLICATE KEY UPDATE a=VALUES(a)" {
		t.Errorf("mysql upsert = %q", got)
	}
	if got := my.upsert("conversation_id, supervisor_id"); got != "ON DUPLICATE KEY UPDATE conversation_id=conversation_id" {
		t.Errorf("mysql upsert without columns = %q", got)
	}
}

func TestRenderSchemaPerDialect(t *testing.T) {
	stmt := `CREATE INDEX idx ON t(a)`
	if got := (&DB{driver: DriverSQLite}).renderSchema(stmt); !strings.Contains(got, "IF NOT EXISTS") {
		t.Errorf("sqlite index = %q, want IF NOT EXISTS", got)
	}
	if got := (&DB{driver: DriverMySQL}).renderSchema(stmt); strings.Contains(got, "IF NOT EXISTS") {
		t.Errorf("mysql index = %q, want plain CREATE INDEX", got)
	}
	if got := (&DB{driver: DriverMySQL}).renderSchema("x {ts}"); got != "x DATETIME(6)" {
		t.Errorf("mysql timestamp = %q", got)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStore(openTestDB(t))

	in := &models.UserProfile{
		UserID:           "u1",
		DisplayName:      "Ana",
		AgeBand:          "18-25",
		Interests:        []string{"trens", "mapas"},
		AnxietyTriggers:  []string{"mudança de rotina"},
		Communication:    models.CommunicationDetailed,
		EmergencyContact: "mae-ana",
	}
	if err := store.SaveProfile(ctx, in); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}
	got, err := store.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if got.DisplayName != "Ana" || got.Communication != models.CommunicationDetailed || got.EmergencyContact != "mae-ana" {
		t.Errorf("GetProfile() = %+v", got)
	}
	if len(got.Interests) != 2 || got.AnxietyTriggers[0] != "mudança de rotina" {
		t.Errorf("list attributes = %v / %v", got.Interests, got.AnxietyTriggers)
	}

	in.DisplayName = "Ana Paula"
	in.AnxietyTriggers = nil
	if err := store.SaveProfile(ctx, in); err != nil {
		t.Fatalf("SaveProfile() update error = %v", err)
	}
	got, _ = store.GetProfile(ctx, "u1")
	if got.DisplayName != "Ana Paula" || got.AnxietyTriggers != nil {
		t.Errorf("updated profile = %+v", got)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	store := NewProfileStore(openTestDB(t))
	_, err := store.GetProfile(context.Background(), "ghost")
	if !errors.Is(err, models.ErrProfileNotFound) {
		t.Errorf("GetProfile() error = %v, want ErrProfileNotFound", err)
	}
	if err := store.SaveProfile(context.Background(), &models.UserProfile{}); err == nil {
		t.Error("SaveProfile() should require a user id")
	}
}

func TestListAndDeleteProfiles(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStore(openTestDB(t))
	for _, id := range []string{"b", "a", "c"} {
		if err := store.SaveProfile(ctx, &models.UserProfile{UserID: id, DisplayName: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.DeleteProfile(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	list, err := store.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if len(list) != 2 || list[0].UserID != "a" || list[1].UserID != "b" {
		t.Errorf("ListProfiles() = %+v", list)
	}
	// Stored communication defaults to direct
	if list[0].Communication != models.CommunicationDirect {
		t.Errorf("Communication = %q, want direct", list[0].Communication)
	}
}

func TestSupervisors(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStore(openTestDB(t))

	for _, sup := range []string{"sup-b", "sup-a", "sup-a"} {
		if err := store.AddSupervisor(ctx, "grupo-1", sup); err != nil {
			t.Fatalf("AddSupervisor() error = %v", err)
		}
	}
	got, err := store.GetSupervisors(ctx, "grupo-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "sup-a" {
		t.Errorf("GetSupervisors() = %v, want [sup-a sup-b]", got)
	}
	if err := store.RemoveSupervisor(ctx, "grupo-1", "sup-a"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetSupervisors(ctx, "grupo-1")
	if len(got) != 1 || got[0] != "sup-b" {
		t.Errorf("after remove = %v", got)
	}
	if none, _ := store.GetSupervisors(ctx, "other"); len(none) != 0 {
		t.Errorf("unknown conversation supervisors = %v", none)
	}
	if err := store.AddSupervisor(ctx, "", "x"); err == nil {
		t.Error("AddSupervisor() should require a conversation id")
	}
}

func TestConversationSettings(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStore(openTestDB(t))

	got, err := store.GetConversationSettings(ctx, "grupo-1")
	if err != nil {
		t.Fatalf("GetConversationSettings() error = %v", err)
	}
	if !got.Mediation || !got.ActivityGuidance {
		t.Errorf("unconfigured settings = %+v, want everything on", got)
	}

	if err := store.SaveConversationSettings(ctx, &models.ConversationSettings{ConversationID: "grupo-1", ActivityGuidance: true}); err != nil {
		t.Fatalf("SaveConversationSettings() error = %v", err)
	}
	got, _ = store.GetConversationSettings(ctx, "grupo-1")
	if got.Mediation || !got.ActivityGuidance || got.UpdatedAt.IsZero() {
		t.Errorf("settings = %+v, want mediation off and guidance on", got)
	}

	got.Mediation, got.ActivityGuidance = true, false
	if err := store.SaveConversationSettings(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetConversationSettings(ctx, "grupo-1")
	if !got.Mediation || got.ActivityGuidance {
		t.Errorf("updated settings = %+v", got)
	}
	if err := store.SaveConversationSettings(ctx, &models.ConversationSettings{}); err == nil {
		t.Error("SaveConversationSettings() should require a conversation id")
	}
}

func sampleEscalation(id string, created time.Time) *models.EscalationEvent {
	return &models.EscalationEvent{
		ID:             id,
		ConversationID: "grupo-1",
		TriggerScore:   82.5,
		Rationale:      "score_above_threshold",
		Signals:        models.SignalBreakdown{Sentiment: 0.6, Trigger: 1},
		ContextSnapshot: []models.Turn{
			{TurnID: "t1", SpeakerID: "u1", Text: "mudança de rotina de novo", Timestamp: created, Sentiment: -0.4},
		},
		Participants: []string{"u1", "u2"},
		CreatedAt:    created,
		Status:       models.StatusCreated,
	}
}

func TestEscalationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewEscalationStore(openTestDB(t))
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ev := sampleEscalation("esc_1", created)
	if err := store.SaveEscalation(ctx, ev); err != nil {
		t.Fatalf("SaveEscalation() error = %v", err)
	}

	ev.Status = models.StatusDelivered
	ev.Channel = models.ChannelPrimary
	ev.DeliveredTo = []string{"sup-a"}
	ev.DeliveredAt = created.Add(time.Second)
	ev.Summary = "Alerta do grupo"
	if err := store.SaveEscalation(ctx, ev); err != nil {
		t.Fatalf("SaveEscalation() update error = %v", err)
	}

	got, err := store.GetEscalation(ctx, "esc_1")
	if err != nil {
		t.Fatalf("GetEscalation() error = %v", err)
	}
	if got.Status != models.StatusDelivered || got.Channel != models.ChannelPrimary || got.Summary != "Alerta do grupo" {
		t.Errorf("GetEscalation() = %+v", got)
	}
	if !got.DeliveredAt.Equal(ev.DeliveredAt) || !got.AcknowledgedAt.IsZero() {
		t.Errorf("DeliveredAt = %v, AcknowledgedAt = %v", got.DeliveredAt, got.AcknowledgedAt)
	}
	if len(got.ContextSnapshot) != 1 || got.ContextSnapshot[0].Text != "mudança de rotina de novo" {
		t.Errorf("ContextSnapshot = %+v", got.ContextSnapshot)
	}
	if got.Signals.Trigger != 1 || len(got.Participants) != 2 || got.DeliveredTo[0] != "sup-a" {
		t.Errorf("signals/participants/recipients = %+v %v %v", got.Signals, got.Participants, got.DeliveredTo)
	}

	if _, err := store.GetEscalation(ctx, "missing"); !errors.Is(err, models.ErrEscalationNotFound) {
		t.Errorf("GetEscalation(missing) error = %v", err)
	}
}

func TestListEscalations(t *testing.T) {
	ctx := context.Background()
	store := NewEscalationStore(openTestDB(t))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"esc_a", "esc_b", "esc_c"} {
		ev := sampleEscalation(id, base.Add(time.Duration(i)*time.Minute))
		if id == "esc_b" {
			ev.Status = models.StatusLost
		}
		if err := store.SaveEscalation(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListEscalations(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListEscalations() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "esc_c" || all[2].ID != "esc_a" {
		t.Errorf("ListEscalations() order = %v", ids(all))
	}
	lost, _ := store.ListEscalations(ctx, models.StatusLost, 0)
	if len(lost) != 1 || lost[0].ID != "esc_b" {
		t.Errorf("lost = %v", ids(lost))
	}
	limited, _ := store.ListEscalations(ctx, "", 1)
	if len(limited) != 1 || limited[0].ID != "esc_c" {
		t.Errorf("limited = %v", ids(limited))
	}
}

func ids(evs []*models.EscalationEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out
}

func TestDispatcherWithSQLStores(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	profiles := NewProfileStore(db)
	if err := profiles.AddSupervisor(ctx, "grupo-1", "sup-a"); err != nil {
		t.Fatal(err)
	}

	var delivered []string
	notifier := escalation.NotifierFunc(func(ctx context.Context, recipient string, ev models.EscalationEvent) error {
		delivered = append(delivered, recipient)
		return nil
	})
	cfg := escalation.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.AckTimeout = 0
	d, err := escalation.NewDispatcher(cfg, profiles, NewEscalationStore(db), notifier, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	res := d.Escalate(ctx, sampleEscalation("esc_sql", time.Now().UTC()))
	if res.Status != models.StatusDelivered || len(delivered) != 1 || delivered[0] != "sup-a" {
		t.Fatalf("Escalate() = %+v, delivered = %v", res, delivered)
	}
	if _, err := d.Acknowledge(ctx, "esc_sql", "sup-a"); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	got, err := NewEscalationStore(db).GetEscalation(ctx, "esc_sql")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusAcknowledged || got.AcknowledgedBy != "sup-a" {
		t.Errorf("stored event = %+v", got)
	}
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore(openTestDB(t))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		turn := models.Turn{
			TurnID:    "t" + string(rune('a'+i)),
			SpeakerID: "u1",
			Text:      "mensagem",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveMessage(ctx, "grupo-1", turn, models.MessageText); err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}
	agent := models.NewAgentTurn("Olá!", base.Add(time.Minute))
	if err := store.SaveMessage(ctx, "grupo-1", *agent, ""); err != nil {
		t.Fatal(err)
	}
	// Duplicate ids are ignored
	if err := store.SaveMessage(ctx, "grupo-1", *agent, ""); err != nil {
		t.Fatalf("duplicate SaveMessage() error = %v", err)
	}

	got, err := store.RecentMessages(ctx, "grupo-1", 3)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(got) != 3 || got[0].TurnID != "td" || got[2].TurnID != agent.TurnID || !got[2].FromAgent {
		t.Errorf("RecentMessages() = %+v", got)
	}
	all, _ := store.RecentMessages(ctx, "grupo-1", 0)
	if len(all) != 6 {
		t.Errorf("RecentMessages() default limit returned %d, want 6", len(all))
	}
}

func TestInteractions(t *testing.T) {
	ctx := context.Background()
	store := NewInteractionStore(openTestDB(t))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	records := []llm.Interaction{
		{ID: "i1", Scenario: "facilitation", ConversationID: "grupo-1", Prompt: "p1", Response: "r1", Attempts: 1, Latency: 120 * time.Millisecond, CreatedAt: base},
		{ID: "i2", Scenario: "support", ConversationID: "grupo-1", TargetUserID: "u1", Prompt: "p2", Response: "fallback", Attempts: 3, Fallback: true, Error: "timeout", CreatedAt: base.Add(time.Minute)},
		{ID: "i3", Scenario: "facilitation", ConversationID: "other", Prompt: "p3", Response: "r3", Attempts: 1},
	}
	for _, r := range records {
		if err := store.RecordInteraction(ctx, r); err != nil {
			t.Fatalf("RecordInteraction() error = %v", err)
		}
	}

	got, err := store.ListInteractions(ctx, "grupo-1", 0)
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "i2" {
		t.Fatalf("ListInteractions() = %+v", got)
	}
	if !got[0].Fallback || got[0].Error != "timeout" || got[0].TargetUserID != "u1" || got[0].Attempts != 3 {
		t.Errorf("fallback record = %+v", got[0])
	}
	if got[1].Latency != 120*time.Millisecond {
		t.Errorf("Latency = %v", got[1].Latency)
	}

	everything, err := store.ListInteractions(ctx, "", 10)
	if err != nil || len(everything) != 3 {
		t.Errorf("ListInteractions(all) = %d records, %v; want 3", len(everything), err)
	}
}

const seedYAML = `
version: "1.0"
profiles:
  - user_id: u1
    display_name: Ana
    interests: [trens]
    anxiety_triggers: [barulho alto]
    communication: direct
    emergency_contact: mae-ana
  - user_id: u2
    display_name: Bruno
    communication: detailed
supervisors:
  grupo-1: [sup-b, sup-a]
`

func TestSeedImportExport(t *testing.T) {
	ctx := context.Background()
	seed, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed() error = %v", err)
	}
	store := NewProfileStore(openTestDB(t))
	profiles, supervisors, err := store.Import(ctx, seed)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if profiles != 2 || supervisors != 2 {
		t.Errorf("Import() = %d profiles, %d supervisors", profiles, supervisors)
	}

	p, err := store.GetProfile(ctx, "u1")
	if err != nil || p.AnxietyTriggers[0] != "barulho alto" {
		t.Errorf("imported profile = %+v, %v", p, err)
	}

	out, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(out.Profiles) != 2 || len(out.Supervisors["grupo-1"]) != 2 || out.Supervisors["grupo-1"][0] != "sup-a" {
		t.Errorf("Export() = %+v", out)
	}
	data, err := out.Marshal()
	if err != nil || !strings.Contains(string(data), "display_name: Bruno") {
		t.Errorf("Marshal() = %s, %v", data, err)
	}
}

func TestSeedValidation(t *testing.T) {
	if _, err := ParseSeed([]byte("profiles:\n  - display_name: x\n")); err == nil {
		t.Error("ParseSeed() should require user_id")
	}
	if _, err := ParseSeed([]byte("profiles:\n  - user_id: x\n    communication: shouting\n")); err == nil {
		t.Error("ParseSeed() should reject unknown communication preferences")
	}
	if _, err := ParseSeed([]byte("profiles: [")); err == nil {
		t.Error("ParseSeed() should reject invalid yaml")
	}
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0600); err != nil {
		t.Fatal(err)
	}
	if seed, err := LoadSeed(path); err != nil || len(seed.Profiles) != 2 {
		t.Errorf("LoadSeed() = %+v, %v", seed, err)
	}
}
