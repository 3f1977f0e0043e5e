// ABOUTME: Kafka consumer for inbound chat-platform events
// ABOUTME: Decodes JSON events, hands them to the engine and commits offsets after dispatch
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/segmentio/kafka-go"
)

// Handler receives each decoded event
type Handler func(ctx context.Context, ev models.Event) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig names the inbound topic
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads events from Kafka
type Consumer struct {
	reader  messageReader
	handler Handler
}

// NewConsumer creates a consumer group reader for cfg.Topic
func NewConsumer(cfg ConsumerConfig, handler Handler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, models.ConfigError("kafka consumer requires brokers, topic and group id")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	return &Consumer{reader: reader, handler: handler}, nil
}

// Start consumes until ctx is cancelled; a cancelled context is a clean stop
func (c *Consumer) Start(ctx context.Context) error {
	defer func() { _ = c.reader.Close() }()

	log.Println("[kafka] consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		ev, err := DecodeEvent(m)
		if err != nil {
			log.Printf("[kafka] dropping undecodable message at offset %d: %v", m.Offset, err)
		} else if err := c.handler(ctx, ev); err != nil {
			log.Printf("[kafka] handler failed for conversation %s: %v", ev.ConversationID, err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset: %w", err)
		}
	}
}

// DecodeEvent parses a message value. The message key is used as the conversation id
// when the payload omits it, and the message time stands in for a missing timestamp.
func DecodeEvent(m kafka.Message) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, fmt.Errorf("invalid event json: %w", err)
	}
	if ev.ConversationID == "" && len(m.Key) > 0 {
		ev.ConversationID = string(m.Key)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.Time
	}
	if ev.Timestamp.IsZero() {
		return ev, errors.New("event has no timestamp")
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}
