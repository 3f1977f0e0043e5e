// ABOUTME: Serve command runs the mediation engine with its transports
// ABOUTME: Wires storage, generation gateway, escalation channels, Kafka and the HTTP API
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/auticonnect-mediator/internal/config"
	"github.com/harper/auticonnect-mediator/internal/engine"
	"github.com/harper/auticonnect-mediator/internal/escalation"
	"github.com/harper/auticonnect-mediator/internal/httpapi"
	"github.com/harper/auticonnect-mediator/internal/kafka"
	"github.com/harper/auticonnect-mediator/internal/llm"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/notify"
	"github.com/harper/auticonnect-mediator/internal/policy"
	"github.com/harper/auticonnect-mediator/internal/prompt"
	"github.com/harper/auticonnect-mediator/internal/risk"
	"github.com/harper/auticonnect-mediator/internal/tracker"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mediation engine",
		Long: `Run the mediation engine.

Consumes conversation events from Kafka (when KAFKA_BROKERS is set) and
from POST /api/events, sends interventions through the outbound channel
and escalates to supervisors over the webhook and/or Kafka.

At least one escalation channel (ESCALATION_WEBHOOK_URL or KAFKA_BROKERS)
and a generation key (LLM_API_KEY) are required.`,
		Example: `  # Run with a local SQLite database and a webhook
  MEDIATOR_WINDOW_SIZE=20 RISK_WEIGHT_SENTIMENT=0.4 RISK_WEIGHT_SILENCE=0.2 \
  RISK_WEIGHT_PARTICIPATION=0.1 RISK_WEIGHT_TRIGGER=0.3 \
  ESCALATION_WEBHOOK_URL=https://alerts.example/hook LLM_API_KEY=sk-... \
  mediator serve`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	svc, err := buildService(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.run(ctx)
}

// service is a fully wired mediator process
type service struct {
	cfg        *config.Config
	stores     *stores
	engine     *engine.Engine
	dispatcher *escalation.Dispatcher
	consumer   *kafka.Consumer
	http       *http.Server
	closers    []io.Closer
}

// buildService wires every component. completer replaces the OpenAI client when non-nil.
func buildService(cfg *config.Config, completer llm.ChatCompleter) (_ *service, err error) {
	if !cfg.HasEscalationChannel() {
		return nil, models.ConfigError("serve needs an escalation channel: set ESCALATION_WEBHOOK_URL or KAFKA_BROKERS")
	}

	svc := &service{cfg: cfg}
	defer func() {
		if err != nil {
			svc.closeAll()
		}
	}()

	svc.stores, err = openStores(cfg.StorageConfig())
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, svc.stores)

	templates, err := prompt.LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		return nil, err
	}
	composer, err := prompt.NewComposer(templates, cfg.Frequency)
	if err != nil {
		return nil, err
	}

	llmCfg := cfg.LLMConfig()
	if completer == nil {
		if err := cfg.RequireLLM(); err != nil {
			return nil, err
		}
		client, err := llm.NewOpenAIClient(llmCfg)
		if err != nil {
			return nil, err
		}
		completer = client
	}
	gateway, err := llm.NewGateway(completer, llmCfg, svc.stores.interactions)
	if err != nil {
		return nil, err
	}

	primary, fallback, err := svc.escalationChannels()
	if err != nil {
		return nil, err
	}
	svc.dispatcher, err = escalation.NewDispatcher(cfg.EscalationConfig(), svc.stores.profiles, svc.stores.escalations, primary, fallback)
	if err != nil {
		return nil, err
	}

	sender, err := svc.messageSender()
	if err != nil {
		return nil, err
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

	svc.engine, err = engine.New(cfg.EngineConfig(), engine.Deps{
		Tracker:   tr,
		Scorer:    scorer,
		Policy:    pol,
		Composer:  composer,
		Generator: gateway,
		Sender:    sender,
		Escalator: svc.dispatcher,
		Profiles:  svc.stores.profiles,
		Settings:  svc.stores.profiles,
		Messages:  svc.stores.messages,
	})
	if err != nil {
		return nil, err
	}

	if len(cfg.KafkaBrokers) > 0 {
		svc.consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaInboundTopic,
			GroupID: cfg.KafkaGroupID,
		}, svc.engine.Submit)
		if err != nil {
			return nil, err
		}
	}

	api := httpapi.NewServer(svc.engine, svc.dispatcher, svc.stores.db, httpapi.Options{Secret: cfg.InboundSecret})
	svc.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return svc, nil
}

// escalationChannels picks the webhook as primary and Kafka as fallback when both are configured
func (s *service) escalationChannels() (primary, fallback escalation.Notifier, err error) {
	var hook escalation.Notifier
	if s.cfg.WebhookURL != "" {
		wh, err := notify.NewWebhook(s.cfg.WebhookURL, s.cfg.WebhookSecret, s.cfg.WebhookTimeout)
		if err != nil {
			return nil, nil, err
		}
		hook = wh
	}
	var bus escalation.Notifier
	if len(s.cfg.KafkaBrokers) > 0 && s.cfg.KafkaEscalationTopic != "" {
		p, err := kafka.NewProducer(s.cfg.KafkaBrokers, s.cfg.KafkaEscalationTopic)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, p)
		bus = p
	}

	switch {
	case hook != nil && bus != nil:
		return hook, bus, nil
	case hook != nil:
		return hook, nil, nil
	case bus != nil:
		return bus, nil, nil
	}
	return nil, nil, models.ConfigError("no escalation channel configured")
}

// messageSender prefers Kafka, then the message webhook, then the log
func (s *service) messageSender() (engine.Sender, error) {
	if len(s.cfg.KafkaBrokers) > 0 && s.cfg.KafkaOutboundTopic != "" {
		p, err := kafka.NewProducer(s.cfg.KafkaBrokers, s.cfg.KafkaOutboundTopic)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, p)
		return p, nil
	}
	if s.cfg.MessageWebhookURL != "" {
		wh, err := notify.NewWebhook(s.cfg.MessageWebhookURL, s.cfg.WebhookSecret, s.cfg.WebhookTimeout)
		if err != nil {
			return nil, err
		}
		return wh, nil
	}
	log.Println("[serve] no outbound message channel configured; interventions are only logged")
	return notify.LogSender{}, nil
}

// run blocks until ctx is done, then drains in order: inbound, engine, deliveries, storage
func (s *service) run(ctx context.Context) error {
	errc := make(chan error, 2)

	resubmitted, rearmed, err := s.dispatcher.Recover(ctx)
	if err != nil {
		log.Printf("Warning: escalation recovery: %v", err)
	} else if resubmitted+rearmed > 0 && !quiet {
		log.Printf("[serve] resumed %d undelivered escalations, %d awaiting acknowledgment", resubmitted, rearmed)
	}

	go func() {
		if err := s.engine.Run(ctx); err != nil {
			log.Printf("[serve] sweep loop: %v", err)
		}
	}()
	if s.consumer != nil {
		go func() {
			if err := s.consumer.Start(ctx); err != nil {
				errc <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}
	go func() {
		if !quiet {
			log.Printf("[serve] HTTP API listening on %s", s.http.Addr)
		}
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		if !quiet {
			log.Println("Shutdown signal received, gracefully shutting down...")
		}
	case runErr = <-errc:
		log.Printf("[serve] %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}
	s.engine.Close()
	s.dispatcher.Close()
	s.closeAll()

	if !quiet {
		log.Println("Shutdown complete")
	}
	return runErr
}

func (s *service) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Printf("Warning: close: %v", err)
		}
	}
	s.closers = nil
}
