package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Handle when the outgoing buffer is full.
var ErrQueueFull = errors.New("amqp publisher queue full")

// Channel is the part of an AMQP channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DialFunc opens a channel to the broker.
type DialFunc func(url string) (Channel, error)

type connChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c *connChannel) Close() error {
	return errors.Join(c.Channel.Close(), c.conn.Close())
}

// DialAMQP connects to a RabbitMQ broker.
func DialAMQP(url string) (Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &connChannel{Channel: ch, conn: conn}, nil
}

// AMQPPublisher forwards bus events to a durable RabbitMQ queue. Handle only
// enqueues; Run does the network work so bookings never wait on the broker.
type AMQPPublisher struct {
	url     string
	queue   string
	dial    DialFunc
	pending chan Event
	logger  *zerolog.Logger

	ch       Channel
	attempts int
	backoff  time.Duration
}

func NewAMQPPublisher(url, queue string, dial DialFunc, logger *zerolog.Logger) *AMQPPublisher {
	if dial == nil {
		dial = DialAMQP
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AMQPPublisher{
		url:      url,
		queue:    queue,
		dial:     dial,
		pending:  make(chan Event, 256),
		logger:   logger,
		attempts: 3,
		backoff:  time.Second,
	}
}

// Handle is an EventHandler. It never blocks.
func (p *AMQPPublisher) Handle(ev Event) error {
	select {
	case p.pending <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run publishes queued events until ctx is done.
func (p *AMQPPublisher) Run(ctx context.Context) {
	defer p.closeChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.pending:
			p.deliver(ctx, ev)
		}
	}
}

func (p *AMQPPublisher) deliver(ctx context.Context, ev Event) {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.publish(ctx, ev); err == nil {
			return
		}
		p.closeChannel()
		p.logger.Warn().Err(err).Str("event_id", ev.ID).Int("attempt", attempt).Msg("rabbitmq: publish failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.backoff * time.Duration(attempt)):
		}
	}
	p.logger.Error().Err(err).Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("rabbitmq: event dropped")
}

func (p *AMQPPublisher) publish(ctx context.Context, ev Event) error {
	if p.ch == nil {
		ch, err := p.dial(p.url)
		if err != nil {
			return err
		}
		// Durable so messages survive broker restarts.
		if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return err
		}
		p.ch = ch
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    ev.CreatedAt.UTC(),
		Body:         body,
	})
}

func (p *AMQPPublisher) closeChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}
