// ABOUTME: Centralized configuration for the mediation engine
// ABOUTME: Loads from environment variables; invalid values are errors, never silent defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/harper/auticonnect-mediator/internal/engine"
	"github.com/harper/auticonnect-mediator/internal/escalation"
	"github.com/harper/auticonnect-mediator/internal/llm"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/policy"
	"github.com/harper/auticonnect-mediator/internal/prompt"
	"github.com/harper/auticonnect-mediator/internal/risk"
	"github.com/harper/auticonnect-mediator/internal/storage"
)

// Config holds all configuration for the mediator
type Config struct {
	// Tracker and scorer
	WindowSize            int
	Weights               risk.Weights
	SentimentDecay        float64
	TriggerSaturation     int
	SilenceBaselineGroup  time.Duration
	SilenceBaselineDirect time.Duration
	Smoothing             float64

	// Policy
	AlertThreshold      float64
	LowWatermark        float64
	MinInterval         time.Duration
	SilenceThreshold    time.Duration
	DominanceShare      float64
	DominanceMinTurns   int
	RedirectTriggerHits int
	DriftWindow         int

	// Prompts
	Frequency     prompt.Frequency
	TemplatesPath string

	// Generation backend
	LLMKey            string
	LLMEndpoint       string
	LLMModel          string
	LLMTimeout        time.Duration
	LLMAttemptTimeout time.Duration
	LLMMaxAttempts    int
	LLMRetryDelay     time.Duration
	FallbackText      string

	// Escalation
	EscalationMaxAttempts int
	EscalationRetryDelay  time.Duration
	EscalationMaxElapsed  time.Duration
	AckTimeout            time.Duration
	OperatorFallback      string

	// Storage
	DBDriver storage.Driver
	DBDSN    string

	// Transports
	KafkaBrokers         []string
	KafkaInboundTopic    string
	KafkaGroupID         string
	KafkaOutboundTopic   string
	KafkaEscalationTopic string
	WebhookURL           string
	MessageWebhookURL    string
	WebhookSecret        string
	WebhookTimeout       time.Duration
	HTTPAddr             string
	InboundSecret        string

	// Runtime
	Workers      int
	QueueSize    int
	TickInterval time.Duration
	ProfileTTL   time.Duration
	SendTimeout  time.Duration
	IdleTimeout  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	e := &env{}
	cfg := &Config{
		WindowSize: e.requiredInt("MEDIATOR_WINDOW_SIZE"),
		Weights: risk.Weights{
			Sentiment:     e.requiredFloat("RISK_WEIGHT_SENTIMENT"),
			Silence:       e.requiredFloat("RISK_WEIGHT_SILENCE"),
			Participation: e.requiredFloat("RISK_WEIGHT_PARTICIPATION"),
			Trigger:       e.requiredFloat("RISK_WEIGHT_TRIGGER"),
		},
		SentimentDecay:        e.float("RISK_SENTIMENT_DECAY", 0.8),
		TriggerSaturation:     e.int("RISK_TRIGGER_SATURATION", 3),
		SilenceBaselineGroup:  e.duration("RISK_SILENCE_BASELINE_GROUP", 3*time.Minute),
		SilenceBaselineDirect: e.duration("RISK_SILENCE_BASELINE_DIRECT", 10*time.Minute),
		Smoothing:             e.float("RISK_SMOOTHING", 1),

		AlertThreshold:      e.float("ALERT_THRESHOLD", 70),
		LowWatermark:        e.float("LOW_WATERMARK", 40),
		MinInterval:         e.duration("INTERVENTION_INTERVAL", 5*time.Minute),
		SilenceThreshold:    e.duration("SILENCE_THRESHOLD", 3*time.Minute),
		DominanceShare:      e.float("DOMINANCE_SHARE", 0.6),
		DominanceMinTurns:   e.int("DOMINANCE_MIN_TURNS", 6),
		RedirectTriggerHits: e.int("REDIRECT_TRIGGER_HITS", 2),
		DriftWindow:         e.int("DRIFT_WINDOW", 4),

		TemplatesPath: e.str("TEMPLATES_PATH", ""),

		LLMKey:            e.str("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMEndpoint:       e.str("LLM_API_ENDPOINT", ""),
		LLMModel:          e.str("LLM_MODEL", llm.DefaultChatModel),
		LLMTimeout:        e.duration("LLM_TIMEOUT", 10*time.Second),
		LLMAttemptTimeout: e.duration("LLM_ATTEMPT_TIMEOUT", 3*time.Second),
		LLMMaxAttempts:    e.int("LLM_MAX_ATTEMPTS", 3),
		LLMRetryDelay:     e.duration("LLM_RETRY_DELAY", 250*time.Millisecond),
		FallbackText:      e.str("LLM_FALLBACK_TEXT", llm.DefaultFallbackText),

		EscalationMaxAttempts: e.int("ESCALATION_MAX_ATTEMPTS", 3),
		EscalationRetryDelay:  e.duration("ESCALATION_RETRY_DELAY", 500*time.Millisecond),
		EscalationMaxElapsed:  e.duration("ESCALATION_MAX_ELAPSED", 30*time.Second),
		AckTimeout:            e.duration("ESCALATION_ACK_TIMEOUT", 15*time.Minute),
		OperatorFallback:      e.str("ESCALATION_OPERATOR_FALLBACK", ""),

		DBDSN: e.str("DB_DSN", ""),

		KafkaBrokers:         e.list("KAFKA_BROKERS"),
		KafkaInboundTopic:    e.str("KAFKA_INBOUND_TOPIC", "mediator.events"),
		KafkaGroupID:         e.str("KAFKA_GROUP_ID", "auticonnect-mediator"),
		KafkaOutboundTopic:   e.str("KAFKA_OUTBOUND_TOPIC", "mediator.messages"),
		KafkaEscalationTopic: e.str("KAFKA_ESCALATION_TOPIC", "mediator.escalations"),
		WebhookURL:           e.str("ESCALATION_WEBHOOK_URL", ""),
		MessageWebhookURL:    e.str("MESSAGE_WEBHOOK_URL", ""),
		WebhookSecret:        e.str("WEBHOOK_SECRET", ""),
		WebhookTimeout:       e.duration("WEBHOOK_TIMEOUT", 10*time.Second),
		HTTPAddr:             e.str("HTTP_ADDR", ":8080"),
		InboundSecret:        e.str("INBOUND_SECRET", ""),

		Workers:      e.int("MEDIATOR_WORKERS", 8),
		QueueSize:    e.int("MEDIATOR_QUEUE_SIZE", 100),
		TickInterval: e.duration("MEDIATOR_TICK_INTERVAL", 30*time.Second),
		ProfileTTL:   e.duration("PROFILE_CACHE_TTL", 5*time.Minute),
		SendTimeout:  e.duration("SEND_TIMEOUT", 5*time.Second),
		IdleTimeout:  e.duration("MEDIATOR_IDLE_TIMEOUT", 24*time.Hour),
	}

	freq, err := prompt.ParseFrequency(os.Getenv("INTERVENTION_FREQUENCY"))
	e.add(err)
	cfg.Frequency = freq

	driver, err := storage.ParseDriver(os.Getenv("DB_DRIVER"))
	e.add(err)
	cfg.DBDriver = driver

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks every section
func (c *Config) Validate() error {
	if c.WindowSize < 1 {
		return models.ConfigError("MEDIATOR_WINDOW_SIZE must be at least 1, got %d", c.WindowSize)
	}
	if err := c.RiskConfig().Validate(); err != nil {
		return err
	}
	if err := c.PolicyConfig().Validate(); err != nil {
		return err
	}
	if err := c.LLMConfig().Validate(); err != nil {
		return err
	}
	if err := c.EscalationConfig().Validate(); err != nil {
		return err
	}
	if c.Workers < 1 || c.QueueSize < 1 {
		return models.ConfigError("MEDIATOR_WORKERS and MEDIATOR_QUEUE_SIZE must be at least 1")
	}
	if c.TickInterval < 0 || c.SendTimeout <= 0 {
		return models.ConfigError("MEDIATOR_TICK_INTERVAL must not be negative and SEND_TIMEOUT must be positive")
	}
	if c.IdleTimeout < 0 {
		return models.ConfigError("MEDIATOR_IDLE_TIMEOUT must not be negative")
	}
	return nil
}

// RequireLLM checks that a backend key is present
func (c *Config) RequireLLM() error {
	if c.LLMKey == "" {
		return models.ConfigError("LLM_API_KEY (or OPENAI_API_KEY) is required")
	}
	return nil
}

// HasEscalationChannel reports whether any real escalation transport is configured
func (c *Config) HasEscalationChannel() bool {
	return c.WebhookURL != "" || (len(c.KafkaBrokers) > 0 && c.KafkaEscalationTopic != "")
}

// RiskConfig returns the scorer section
func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		Weights:               c.Weights,
		SentimentDecay:        c.SentimentDecay,
		TriggerSaturation:     c.TriggerSaturation,
		SilenceBaselineGroup:  c.SilenceBaselineGroup,
		SilenceBaselineDirect: c.SilenceBaselineDirect,
		Smoothing:             c.Smoothing,
	}
}

// PolicyConfig returns the policy section
func (c *Config) PolicyConfig() policy.Config {
	return policy.Config{
		AlertThreshold:      c.AlertThreshold,
		LowWatermark:        c.LowWatermark,
		MinInterval:         c.MinInterval,
		SilenceThreshold:    c.SilenceThreshold,
		DominanceShare:      c.DominanceShare,
		DominanceMinTurns:   c.DominanceMinTurns,
		RedirectTriggerHits: c.RedirectTriggerHits,
		DriftWindow:         c.DriftWindow,
	}
}

// LLMConfig returns the generation gateway section
func (c *Config) LLMConfig() *llm.ClientConfig {
	cfg := llm.DefaultConfig(c.LLMKey)
	cfg.BaseURL = c.LLMEndpoint
	cfg.Model = c.LLMModel
	cfg.Timeout = c.LLMTimeout
	cfg.AttemptTimeout = c.LLMAttemptTimeout
	cfg.MaxAttempts = c.LLMMaxAttempts
	cfg.RetryDelay = c.LLMRetryDelay
	cfg.FallbackText = c.FallbackText
	return cfg
}

// EscalationConfig returns the dispatcher section
func (c *Config) EscalationConfig() escalation.Config {
	return escalation.Config{
		MaxAttempts:      c.EscalationMaxAttempts,
		RetryDelay:       c.EscalationRetryDelay,
		MaxElapsed:       c.EscalationMaxElapsed,
		AckTimeout:       c.AckTimeout,
		OperatorFallback: c.OperatorFallback,
	}
}

// EngineConfig returns the runtime section
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Workers:      c.Workers,
		QueueSize:    c.QueueSize,
		TickInterval: c.TickInterval,
		ProfileTTL:   c.ProfileTTL,
		SendTimeout:  c.SendTimeout,
		IdleTimeout:  c.IdleTimeout,
	}
}

// StorageConfig returns the database section
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{Driver: c.DBDriver, DSN: c.DBDSN}
}

// env collects parse errors so every bad variable is reported at once
type env struct {
	errs []error
}

func (e *env) add(err error) {
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

func (e *env) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", models.ErrConfiguration, errors.Join(e.errs...))
}

func (e *env) str(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func (e *env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *env) int(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.add(fmt.Errorf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return i
}

func (e *env) requiredInt(key string) int {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		e.add(fmt.Errorf("%s is required", key))
		return 0
	}
	return e.int(key, 0)
}

func (e *env) float(key string, defaultVal float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.add(fmt.Errorf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func (e *env) requiredFloat(key string) float64 {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		e.add(fmt.Errorf("%s is required", key))
		return 0
	}
	return e.float(key, 0)
}

func (e *env) duration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.add(fmt.Errorf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}
