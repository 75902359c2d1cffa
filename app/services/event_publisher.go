package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// DispatchEvent describes the outcome of one dispatch attempt.
type DispatchEvent struct {
	EventID    string    `json:"event_id"`
	PositionID uint      `json:"position_id"`
	LeadID     uint      `json:"lead_id"`
	ColumnID   uint      `json:"column_id"`
	Phone      string    `json:"phone"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingKey is dispatch.<status> in lower case.
func (e DispatchEvent) RoutingKey() string {
	return "dispatch." + strings.ToLower(e.Status)
}

// EventPublisher delivers dispatch events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev DispatchEvent) error
	Close() error
}

// NoopPublisher drops every event. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, DispatchEvent) error { return nil }
func (NoopPublisher) Close() error                                 { return nil }

// AMQPPublisher publishes events to a durable topic exchange.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AMQPPublisher{url: url, exchange: exchange, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open broker channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// Publish sends ev with a persistent delivery mode. A closed connection is re-established once.
func (p *AMQPPublisher) Publish(ctx context.Context, ev DispatchEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	err = p.ch.Publish(p.exchange, ev.RoutingKey(), false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn("broker channel closed, reconnecting", zap.String("exchange", p.exchange))
		p.closeLocked()
		if err := p.connect(); err != nil {
			return err
		}
		err = p.ch.Publish(p.exchange, ev.RoutingKey(), false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish dispatch event: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
