package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const exchange = "custody.events"

// AmqpPublisher publishes events to a topic exchange. Routing key is the
// event type, so consumers bind to e.g. "withdrawal.*".
type AmqpPublisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAmqpPublisher(uri string) (*AmqpPublisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer channel.Close()
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	zap.L().Info("connected to amqp broker", zap.String("exchange", exchange))
	return &AmqpPublisher{conn: conn}, nil
}

func (p *AmqpPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The channel is opened lazily and dropped on publish failure so the
	// next call redials it.
	if p.ch == nil {
		if p.ch, err = p.conn.Channel(); err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
	}

	msg := amqp.Publishing{
		Headers:     amqp.Table{"x-event-type": ev.Type},
		Body:        body,
		ContentType: "application/json",
		Timestamp:   ev.OccurredAt,
	}
	if err := p.ch.Publish(exchange, ev.Type, false, false, msg); err != nil {
		p.ch = nil
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *AmqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			zap.L().Warn("closing amqp channel", zap.Error(err))
		}
		p.ch = nil
	}
	return p.conn.Close()
}
