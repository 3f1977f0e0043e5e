// ABOUTME: Tests for the serve command wiring
// ABOUTME: Builds a full service against SQLite, an httptest webhook and a fake completer

package commands

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harper/auticonnect-mediator/internal/config"
	"github.com/harper/auticonnect-mediator/internal/kafka"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/notify"
)

type fakeCompleter struct{}

func (fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Vamos continuar juntos?"}},
	}}, nil
}

func setServeEnv(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	for k, v := range map[string]string{
		"MEDIATOR_WINDOW_SIZE":      "20",
		"RISK_WEIGHT_SENTIMENT":     "0.4",
		"RISK_WEIGHT_SILENCE":       "0.2",
		"RISK_WEIGHT_PARTICIPATION": "0.1",
		"RISK_WEIGHT_TRIGGER":       "0.3",
		"DB_DSN":                    filepath.Join(t.TempDir(), "mediator.db"),
		"MEDIATOR_WORKERS":          "2",
		"MEDIATOR_TICK_INTERVAL":    "0s",
		"LLM_API_KEY":               "",
		"OPENAI_API_KEY":            "",
		"KAFKA_BROKERS":             "",
		"ESCALATION_WEBHOOK_URL":    "",
		"MESSAGE_WEBHOOK_URL":       "",
		"INBOUND_SECRET":            "",
	} {
		t.Setenv(k, v)
	}
	for k, v := range extra {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestNewServeCmd(t *testing.T) {
	cmd := NewServeCmd()
	if cmd.Use != "serve" {
		t.Errorf("Use = %q, want serve", cmd.Use)
	}
	if cmd.RunE == nil || cmd.Example == "" {
		t.Error("serve should have RunE and an example")
	}
}

func TestBuildService_RequiresEscalationChannel(t *testing.T) {
	cfg := setServeEnv(t, nil)
	_, err := buildService(cfg, fakeCompleter{})
	if err == nil || !strings.Contains(err.Error(), "escalation channel") {
		t.Errorf("buildService() error = %v, want escalation channel error", err)
	}
}

func TestBuildService_RequiresLLMKey(t *testing.T) {
	cfg := setServeEnv(t, map[string]string{"ESCALATION_WEBHOOK_URL": "http://127.0.0.1:1/hook"})
	_, err := buildService(cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "LLM_API_KEY") {
		t.Errorf("buildService() error = %v, want LLM key error", err)
	}
}

func TestEscalationChannels(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantPrimary  string
		wantFallback string
	}{
		{"webhook only", map[string]string{"ESCALATION_WEBHOOK_URL": "http://hook"}, "webhook", ""},
		{"kafka only", map[string]string{"KAFKA_BROKERS": "localhost:9092"}, "kafka", ""},
		{"both", map[string]string{"ESCALATION_WEBHOOK_URL": "http://hook", "KAFKA_BROKERS": "localhost:9092"}, "webhook", "kafka"},
	}
	kind := func(v interface{}) string {
		switch v.(type) {
		case *notify.Webhook:
			return "webhook"
		case *kafka.Producer:
			return "kafka"
		case nil:
			return ""
		}
		return "other"
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &service{cfg: setServeEnv(t, tt.env)}
			defer s.closeAll()
			primary, fallback, err := s.escalationChannels()
			if err != nil {
				t.Fatalf("escalationChannels() error = %v", err)
			}
			if got := kind(primary); got != tt.wantPrimary {
				t.Errorf("primary = %s, want %s", got, tt.wantPrimary)
			}
			if got := kind(fallback); got != tt.wantFallback {
				t.Errorf("fallback = %s, want %s", got, tt.wantFallback)
			}
		})
	}
}

func TestMessageSender(t *testing.T) {
	s := &service{cfg: setServeEnv(t, nil)}
	sender, err := s.messageSender()
	if err != nil {
		t.Fatalf("messageSender() error = %v", err)
	}
	if _, ok := sender.(notify.LogSender); !ok {
		t.Errorf("sender = %T, want LogSender without channels", sender)
	}

	s = &service{cfg: setServeEnv(t, map[string]string{"MESSAGE_WEBHOOK_URL": "http://msgs"})}
	sender, _ = s.messageSender()
	if _, ok := sender.(*notify.Webhook); !ok {
		t.Errorf("sender = %T, want webhook", sender)
	}
}

func TestBuildService_EndToEnd(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := setServeEnv(t, map[string]string{
		"ESCALATION_WEBHOOK_URL": hook.URL,
		"MESSAGE_WEBHOOK_URL":    hook.URL,
	})
	svc, err := buildService(cfg, fakeCompleter{})
	if err != nil {
		t.Fatalf("buildService() error = %v", err)
	}
	defer svc.closeAll()

	body := `{"type":"turn","conversation_id":"grupo-1","speaker_id":"u1","text":"oi pessoal","timestamp":"2026-05-04T14:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.http.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/events = %d, body = %s", rec.Code, rec.Body.String())
	}

	svc.engine.Close()
	svc.dispatcher.Close()

	msgs, err := svc.stores.messages.RecentMessages(context.Background(), "grupo-1", 10)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(msgs) == 0 || msgs[0].Text != "oi pessoal" {
		t.Errorf("messages = %+v, want the human turn logged", msgs)
	}

	rec = httptest.NewRecorder()
	svc.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d", rec.Code)
	}
}

func TestServiceRun_ResumesCreatedEscalations(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := setServeEnv(t, map[string]string{
		"ESCALATION_WEBHOOK_URL": hook.URL,
		"HTTP_ADDR":              "127.0.0.1:0",
	})
	svc, err := buildService(cfg, fakeCompleter{})
	if err != nil {
		t.Fatalf("buildService() error = %v", err)
	}

	// Left behind by a process that stopped between persisting and delivering
	st := models.NewConversationState("grupo-1", models.KindGroup, time.Now())
	ev := models.NewEscalationEvent(st.Clone(), 90, "crisis_keyword", models.SignalBreakdown{}, time.Now())
	if err := svc.stores.escalations.SaveEscalation(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := svc.stores.profiles.AddSupervisor(context.Background(), "grupo-1", "sup-a"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 || !strings.Contains(bodies[0], ev.ID) {
		t.Errorf("webhook received %d deliveries, want the resumed %s", len(bodies), ev.ID)
	}
}
