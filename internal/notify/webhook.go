// ABOUTME: HTTP webhook transport for escalation notifications and outbound mediator messages
// ABOUTME: Requests are signed with an HMAC of the timestamp and body when a secret is set
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// Header names carried by signed requests
const (
	HeaderSignature = "X-Mediator-Signature"
	HeaderTimestamp = "X-Mediator-Timestamp"
)

// Payload types
const (
	TypeEscalation = "escalation"
	TypeMessage    = "message"
)

// Webhook posts JSON payloads to a chat-platform endpoint
type Webhook struct {
	URL    string
	Secret string
	HTTP   *http.Client
	// Now is used for request timestamps; defaults to time.Now
	Now func() time.Time
}

// NewWebhook creates a webhook client with a bounded HTTP timeout
func NewWebhook(url, secret string, timeout time.Duration) (*Webhook, error) {
	if url == "" {
		return nil, models.ConfigError("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{URL: url, Secret: secret, HTTP: &http.Client{Timeout: timeout}}, nil
}

// EscalationPayload is the body of an escalation notification
type EscalationPayload struct {
	Type       string                 `json:"type"`
	Recipient  string                 `json:"recipient"`
	Text       string                 `json:"text"`
	Escalation models.EscalationEvent `json:"escalation"`
}

// MessagePayload is the body of an outbound mediator message
type MessagePayload struct {
	Type   string        `json:"type"`
	Target models.Target `json:"target"`
	Text   string        `json:"text"`
}

// Notify delivers an escalation to one supervisor or contact
func (w *Webhook) Notify(ctx context.Context, recipient string, ev models.EscalationEvent) error {
	if recipient == "" {
		return errors.New("missing recipient")
	}
	return w.post(ctx, EscalationPayload{
		Type:       TypeEscalation,
		Recipient:  recipient,
		Text:       AlertText(ev),
		Escalation: ev,
	})
}

// Send delivers a mediator message to a conversation or a user
func (w *Webhook) Send(ctx context.Context, target models.Target, text string) error {
	if target.ID == "" {
		return errors.New("missing target")
	}
	return w.post(ctx, MessagePayload{Type: TypeMessage, Target: target, Text: text})
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Secret != "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		ts := strconv.FormatInt(now().Unix(), 10)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, Sign(w.Secret, ts, body))
	}

	client := w.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return models.Transient("webhook post", err)
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return models.Transient("webhook post", fmt.Errorf("status %d", res.StatusCode))
	default:
		return fmt.Errorf("webhook rejected payload: status %d", res.StatusCode)
	}
}

// AlertText is the human-readable alert, falling back to a generic notice
func AlertText(ev models.EscalationEvent) string {
	if ev.Summary != "" {
		return ev.Summary
	}
	return fmt.Sprintf("Alerta na conversa %s (pontuação %.0f, motivo: %s). Por favor, verifique a conversa recente.",
		ev.ConversationID, ev.TriggerScore, ev.Rationale)
}
