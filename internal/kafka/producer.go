// ABOUTME: Kafka producers for outbound mediator messages and escalation notifications
// ABOUTME: Messages are keyed by conversation id so one conversation stays on one partition
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/notify"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON payloads to one topic
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a hash-balanced writer for topic
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, models.ConfigError("kafka producer requires brokers and a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return &Producer{writer: w, topic: topic}, nil
}

// Topic returns the destination topic
func (p *Producer) Topic() string {
	return p.topic
}

func (p *Producer) publish(ctx context.Context, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return models.Transient("kafka publish", err)
	}
	return nil
}

// Send publishes a mediator message for the chat platform to deliver
func (p *Producer) Send(ctx context.Context, target models.Target, text string) error {
	if target.ID == "" {
		return errors.New("missing target")
	}
	return p.publish(ctx, target.ID, notify.MessagePayload{Type: notify.TypeMessage, Target: target, Text: text})
}

// Notify publishes an escalation notification addressed to recipient
func (p *Producer) Notify(ctx context.Context, recipient string, ev models.EscalationEvent) error {
	if recipient == "" {
		return errors.New("missing recipient")
	}
	return p.publish(ctx, ev.ConversationID, notify.EscalationPayload{
		Type:       notify.TypeEscalation,
		Recipient:  recipient,
		Text:       notify.AlertText(ev),
		Escalation: ev,
	})
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
