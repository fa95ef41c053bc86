// Package amqp publishes session lifecycle events to a RabbitMQ queue.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"sats-arena/internal/domain"
)

const publishTimeout = 5 * time.Second

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher implements app.EventSink. Events are queued in memory and
// published from a background goroutine; a full buffer drops events.
type Publisher struct {
	queue  string
	ch     channel
	logger *slog.Logger
	closer func() error

	events  chan domain.SessionEvent
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
}

// Dial connects to url and declares a durable queue.
func Dial(url, queue string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	p := newPublisher(ch, q.Name, 256, logger)
	p.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return p, nil
}

func newPublisher(ch channel, queue string, buffer int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		queue:  queue,
		ch:     ch,
		logger: logger,
		events: make(chan domain.SessionEvent, buffer),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop()
	}()
	return p
}

func (p *Publisher) Record(ev domain.SessionEvent) {
	if p.closed.Load() {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Close publishes what is queued and closes the connection.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.events)
		p.wg.Wait()
		if p.closer != nil {
			err = p.closer()
		}
	})
	return err
}

func (p *Publisher) loop() {
	for ev := range p.events {
		msg, err := message(ev)
		if err != nil {
			p.logger.Error("encode session event", "session", ev.SessionID, "err", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
		cancel()
		if err != nil {
			p.logger.Warn("publish session event", "session", ev.SessionID, "type", ev.Type, "err", err)
		}
	}
}

func message(ev domain.SessionEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         string(ev.Type),
		MessageId:    ev.SessionID + ":" + string(ev.Type) + ":" + fmt.Sprint(ev.QuestionIndex),
		Timestamp:    ev.At,
		Body:         body,
	}, nil
}
