// ABOUTME: Language generation gateway over an OpenAI-compatible chat completion API
// ABOUTME: Bounded retries on transient failures, hard timeout, canned fallback and audit logging
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/prompt"
	"github.com/harper/auticonnect-mediator/internal/util"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultChatModel is the default model for chat completions
	DefaultChatModel = "gpt-4o-mini"
	// DefaultFallbackText is sent when generation fails
	DefaultFallbackText = "Estou aqui. Vamos fazer uma pequena pausa e já retomamos a conversa."
)

// ChatCompleter is the part of the OpenAI client the gateway needs
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ClientConfig holds configuration for the generation gateway
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a whole Generate call, retries included
	Timeout time.Duration
	// AttemptTimeout bounds a single backend request
	AttemptTimeout time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
	FallbackText   string
	Temperature    float32
	MaxTokens      int
}

// DefaultConfig returns the default gateway configuration
func DefaultConfig(apiKey string) *ClientConfig {
	return &ClientConfig{
		APIKey:         apiKey,
		Model:          DefaultChatModel,
		Timeout:        10 * time.Second,
		AttemptTimeout: 3 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     250 * time.Millisecond,
		FallbackText:   DefaultFallbackText,
		Temperature:    0.7,
		MaxTokens:      500,
	}
}

// Validate checks the gateway limits
func (c *ClientConfig) Validate() error {
	if c.Model == "" {
		return models.ConfigError("generation model is required")
	}
	if c.Timeout <= 0 || c.AttemptTimeout <= 0 {
		return models.ConfigError("generation timeouts must be positive")
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return models.ConfigError("LLM_MAX_ATTEMPTS must be 1-10, got %d", c.MaxAttempts)
	}
	if strings.TrimSpace(c.FallbackText) == "" {
		return models.ConfigError("generation fallback text must not be empty")
	}
	return nil
}

// NewOpenAIClient creates the backend client for an OpenAI-compatible endpoint
func NewOpenAIClient(cfg *ClientConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, models.ConfigError("LLM_API_KEY is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(oc), nil
}

// Interaction is one audited gateway call
type Interaction struct {
	ID             string
	Scenario       string
	ConversationID string
	TargetUserID   string
	Prompt         string
	Response       string
	Attempts       int
	Fallback       bool
	Error          string
	Latency        time.Duration
	CreatedAt      time.Time
}

// AuditLog stores gateway calls for supervisor review
type AuditLog interface {
	RecordInteraction(ctx context.Context, in Interaction) error
}

// Generation is the outcome of one Generate call; Text is always safe to send
type Generation struct {
	Text     string
	Fallback bool
	Attempts int
	Err      error
	Latency  time.Duration
}

// Gateway is the only place a non-deterministic external service enters the engine
type Gateway struct {
	client ChatCompleter
	cfg    ClientConfig
	audit  AuditLog
}

// NewGateway creates a gateway. audit may be nil.
func NewGateway(client ChatCompleter, cfg *ClientConfig, audit AuditLog) (*Gateway, error) {
	if client == nil {
		return nil, models.ConfigError("generation gateway needs a client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gateway{client: client, cfg: *cfg, audit: audit}, nil
}

// FallbackText returns the canned message used on failure
func (g *Gateway) FallbackText() string {
	return g.cfg.FallbackText
}

// Generate produces text for p. It never returns an error: on failure the fallback text is returned.
func (g *Gateway) Generate(ctx context.Context, p prompt.Prompt) Generation {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var text string
	policy := util.RetryPolicy{
		MaxAttempts: g.cfg.MaxAttempts,
		BaseDelay:   g.cfg.RetryDelay,
		Retryable:   IsTransient,
	}
	attempts, err := util.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		var err error
		text, err = g.complete(ctx, p)
		if err != nil {
			log.Printf("[gateway] attempt %d/%d for %s failed: %v", attempt, g.cfg.MaxAttempts, p.ConversationID, err)
		}
		return err
	})

	gen := Generation{Text: text, Attempts: attempts, Err: err, Latency: time.Since(start)}
	if err != nil {
		gen.Text = g.cfg.FallbackText
		gen.Fallback = true
	}
	log.Printf("[gateway] conversation=%s scenario=%s attempts=%d fallback=%v latency=%s",
		p.ConversationID, p.Scenario, gen.Attempts, gen.Fallback, gen.Latency.Round(time.Millisecond))
	g.record(p, gen)
	return gen
}

func (g *Gateway) complete(ctx context.Context, p prompt.Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: p.System},
	}
	if p.User != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", models.Transient("chat completion", errors.New("no completion choices returned"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", models.Transient("chat completion", errors.New("empty completion"))
	}
	return text, nil
}

func (g *Gateway) record(p prompt.Prompt, gen Generation) {
	if g.audit == nil {
		return
	}
	in := Interaction{
		ID:             uuid.New().String(),
		Scenario:       string(p.Scenario),
		ConversationID: p.ConversationID,
		TargetUserID:   p.TargetUserID,
		Prompt:         p.Text(),
		Response:       gen.Text,
		Attempts:       gen.Attempts,
		Fallback:       gen.Fallback,
		Latency:        gen.Latency,
		CreatedAt:      time.Now().UTC(),
	}
	if gen.Err != nil {
		in.Error = gen.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.audit.RecordInteraction(ctx, in); err != nil {
		log.Printf("[gateway] failed to record interaction for %s: %v", p.ConversationID, err)
	}
}

// classify marks backend errors that are worth retrying
func classify(err error) error {
	if isTransientBackendError(err) {
		return models.Transient("chat completion", err)
	}
	return fmt.Errorf("chat completion: %w", err)
}

func isTransientBackendError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// IsTransient reports whether a gateway error should be retried
func IsTransient(err error) bool {
	return models.IsTransient(err)
}
