// Package events publishes conflict ticket lifecycle events to the reviewer
// queue.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stwalsh4118/parcelguard/internal/config"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/models"
)

// Event types
const (
	TypeTicketOpened   = "ticket.opened"
	TypeTicketResolved = "ticket.resolved"
)

// publishTimeout bounds a single Publish, retries included.
const publishTimeout = 3 * time.Second

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// TicketEvent is the JSON payload of a ticket lifecycle event.
type TicketEvent struct {
	Type               string             `json:"type"`
	TicketID           uuid.UUID          `json:"ticket_id"`
	SubjectParcelID    uuid.UUID          `json:"subject_parcel_id"`
	CollidingParcelIDs []uuid.UUID        `json:"colliding_parcel_ids"`
	Resolution         *models.Resolution `json:"resolution,omitempty"`
	Actor              string             `json:"actor,omitempty"`
	OccurredAt         time.Time          `json:"occurred_at"`
}

// TicketOpened builds the event for a newly opened ticket.
func TicketOpened(t *models.ConflictTicket, actor string) TicketEvent {
	return TicketEvent{
		Type:               TypeTicketOpened,
		TicketID:           t.ID,
		SubjectParcelID:    t.SubjectParcelID,
		CollidingParcelIDs: t.CollidingParcelIDs,
		Actor:              actor,
		OccurredAt:         t.CreatedAt,
	}
}

// TicketResolved builds the event for a resolved ticket.
func TicketResolved(t *models.ConflictTicket) TicketEvent {
	e := TicketEvent{
		Type:               TypeTicketResolved,
		TicketID:           t.ID,
		SubjectParcelID:    t.SubjectParcelID,
		CollidingParcelIDs: t.CollidingParcelIDs,
		Resolution:         t.Resolution,
	}
	if t.ResolvedBy != nil {
		e.Actor = *t.ResolvedBy
	}
	if t.ResolvedAt != nil {
		e.OccurredAt = *t.ResolvedAt
	}
	return e
}

// Publisher delivers ticket events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event TicketEvent) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured, otherwise a
// publisher that discards events.
func New(cfg config.KafkaConfig, log *logger.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		log.Info("Ticket event publishing disabled", map[string]interface{}{
			"reason": "no kafka brokers configured",
		})
		return Nop{}
	}
	log.Info("Ticket events publishing to kafka", map[string]interface{}{
		"brokers": cfg.Brokers,
		"topic":   cfg.TicketTopic,
	})
	return NewKafkaPublisher(cfg, log)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, TicketEvent) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by subject parcel id, so all
// events for one parcel land on the same partition in order.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
}

// NewKafkaPublisher creates a publisher writing to cfg.TicketTopic.
func NewKafkaPublisher(cfg config.KafkaConfig, log *logger.Logger) *KafkaPublisher {
	zl := log.With(map[string]interface{}{
		"component": "kafka_writer",
		"topic":     cfg.TicketTopic,
	}).GetZerolog()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TicketTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: publishTimeout,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			zl.Debug().Msgf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			zl.Error().Msgf(msg, args...)
		}),
	}
	return newKafkaPublisher(writer)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: publishTimeout}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event TicketEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SubjectParcelID.String()),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event for ticket %s: %w", event.Type, event.TicketID, err)
	}
	return nil
}

// Close flushes and closes the writer. It is safe to call more than once.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
