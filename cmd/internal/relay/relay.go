// Package relay publishes accepted message events to a RabbitMQ exchange so
// out-of-process consumers (moderation, search indexing) can follow rooms
// without holding a database subscription.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultExchange = "campfire.messages"
	publishTimeout  = 5 * time.Second
)

// Event is the published message-event envelope.
type Event struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	RoomKey string          `json:"room_key"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher relays message events to an AMQP topic exchange.
// Publishing is best-effort: failures are logged by the caller and never
// block the send path.
type Publisher struct {
	log      *slog.Logger
	exchange string

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithExchange overrides the exchange name.
func WithExchange(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.exchange = name
		}
	}
}

// NewPublisher dials RabbitMQ and declares the topic exchange.
func NewPublisher(log *slog.Logger, url string, opts ...Option) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if url == "" {
		return nil, errors.New("relay: empty AMQP URL")
	}

	p := &Publisher{log: log, exchange: defaultExchange}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("relay channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("relay exchange declare: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.log.Info("relay.connected", "exchange", p.exchange)
	return p, nil
}

// Publish sends one event with routing key "message.<kind>.<roomKey>".
func (p *Publisher) Publish(ctx context.Context, kind, roomKey string, payload any) error {
	if p == nil {
		return errors.New("relay: nil publisher")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay marshal: %w", err)
	}
	ev := Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		RoomKey: roomKey,
		Time:    time.Now().UTC(),
		Payload: body,
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ch == nil {
		return errors.New("relay: closed")
	}

	return p.ch.PublishWithContext(ctx, p.exchange, "message."+kind+"."+roomKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         raw,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Kind,
		Timestamp:    ev.Time,
	})
}

// Close tears down the channel and connection. Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
