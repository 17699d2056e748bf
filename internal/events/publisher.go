// Package events publishes bill and run lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"gridsim/pkg/api"
)

// Event types carried in the envelope
const (
	TypeBillCreated = "bill.created"
	TypeRunFinished = "run.finished"
)

// Config holds Kafka publisher configuration
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// DefaultConfig returns default development configuration
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "gridsim.bills",
		WriteTimeout: 10 * time.Second,
	}
}

// Envelope wraps every published payload
type Envelope struct {
	Type       string          `json:"type"`
	RunID      string          `json:"simulation_run_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events keyed by run id, so one run's events stay ordered
// on a single partition
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewPublisher creates a Kafka-backed publisher
func NewPublisher(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}), nil
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// PublishBill publishes a stored house bill
func (p *Publisher) PublishBill(ctx context.Context, bill *api.HouseBill) error {
	return p.publish(ctx, TypeBillCreated, bill.RunID.String(), bill)
}

// PublishRunFinished publishes the outcome of a run
func (p *Publisher) PublishRunFinished(ctx context.Context, result *api.RunResult) error {
	// Bills already went out individually
	summary := *result
	summary.Bills = nil
	return p.publish(ctx, TypeRunFinished, result.RunID.String(), summary)
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) publish(ctx context.Context, eventType, runID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	now := p.now().UTC()
	value, err := json.Marshal(Envelope{
		Type:       eventType,
		RunID:      runID,
		OccurredAt: now,
		Payload:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(runID),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}
