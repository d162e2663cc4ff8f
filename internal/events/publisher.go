// Package events publishes search lifecycle events to Kafka. Downstream
// consumers (notification fan-out, analytics) subscribe to one topic keyed
// by search id so events for the same search stay ordered.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/evidencehq/litsearch/internal/config"
	"github.com/evidencehq/litsearch/internal/domain"
)

// messageWriter is the subset of kafka.Writer the publisher uses, split out
// so tests can substitute an in-memory writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the wire format for one lifecycle event.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher writes lifecycle events to a Kafka topic. A disabled publisher
// is valid and drops events silently, so callers never branch on config.
type Publisher struct {
	writer  messageWriter
	enabled bool
	logger  zerolog.Logger
}

// NewPublisher creates a Kafka-backed publisher from config. When events are
// disabled the returned publisher is a no-op.
func NewPublisher(cfg config.EventsConfig, logger zerolog.Logger) *Publisher {
	componentLogger := logger.With().Str("component", "events").Logger()
	if !cfg.Enabled {
		componentLogger.Debug().Msg("lifecycle events disabled")
		return &Publisher{enabled: false, logger: componentLogger}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &Publisher{
		writer:  writer,
		enabled: true,
		logger:  componentLogger,
	}
}

// PublishSearchCompleted emits a search.completed event.
func (p *Publisher) PublishSearchCompleted(ctx context.Context, payload domain.SearchCompletedPayload) error {
	return p.publish(ctx, payload.SearchID, domain.EventTypeSearchCompleted, payload)
}

// PublishSearchFailed emits a search.failed event.
func (p *Publisher) PublishSearchFailed(ctx context.Context, payload domain.SearchFailedPayload) error {
	return p.publish(ctx, payload.SearchID, domain.EventTypeSearchFailed, payload)
}

func (p *Publisher) publish(ctx context.Context, searchID uuid.UUID, eventType string, payload any) error {
	if p == nil || !p.enabled {
		return nil
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	envelope := Envelope{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payloadJSON,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(searchID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}

	p.logger.Debug().
		Str("event_type", eventType).
		Str("search_id", searchID.String()).
		Msg("lifecycle event published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || !p.enabled {
		return nil
	}
	return p.writer.Close()
}
