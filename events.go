package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muhammadolammi/careerpivot/internal/accounts"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const (
	accountEventsExchange = "account_events"

	amqpDialTimeout = 5 * time.Second
	amqpRedialAfter = 10 * time.Second
	amqpQueueSize   = 256
)

var (
	errEventQueueFull  = errors.New("account event queue full")
	errPublisherClosed = errors.New("account event publisher closed")
	errBrokerBackoff   = errors.New("rabbitmq unavailable, waiting to redial")
)

// amqpPublisher fans account events out to the account_events topic
// exchange, routed by event type. Publish only enqueues; a single goroutine
// owns the connection and does the network work.
type amqpPublisher struct {
	url         string
	dialTimeout time.Duration
	events      chan accounts.Event
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	// owned by run
	conn     *amqp.Connection
	nextDial time.Time
}

func newAMQPPublisher(rabbitmqUrl string) (*amqpPublisher, error) {
	p := newQueuedPublisher(rabbitmqUrl, amqpDialTimeout, amqpQueueSize)
	conn, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.conn = conn
	p.start()
	return p, nil
}

func newQueuedPublisher(rabbitmqUrl string, dialTimeout time.Duration, queueSize int) *amqpPublisher {
	return &amqpPublisher{
		url:         rabbitmqUrl,
		dialTimeout: dialTimeout,
		events:      make(chan accounts.Event, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (p *amqpPublisher) start() {
	go p.run()
}

// Publish queues ev without waiting on the broker.
func (p *amqpPublisher) Publish(_ context.Context, ev accounts.Event) error {
	select {
	case <-p.stop:
		return errPublisherClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return errEventQueueFull
	}
}

func (p *amqpPublisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			if n := len(p.events); n > 0 {
				log.Warn().Int("events", n).Msg("dropping unsent account events on shutdown")
			}
			return
		case ev := <-p.events:
			if err := p.send(ev); err != nil {
				log.Warn().Err(err).Str("event", string(ev.Type)).Str("identifier", ev.Identifier).Msg("failed to send account event to rabbitmq")
			}
		}
	}
}

func (p *amqpPublisher) send(ev accounts.Event) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return ch.Publish(
		accountEventsExchange,
		string(ev.Type),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// connection redials when the broker dropped the previous connection, at
// most once per amqpRedialAfter.
func (p *amqpPublisher) connection() (*amqp.Connection, error) {
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	if time.Now().Before(p.nextDial) {
		return nil, errBrokerBackoff
	}
	conn, err := p.dial()
	if err != nil {
		p.nextDial = time.Now().Add(amqpRedialAfter)
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// dial connects and declares the exchange. The handshake is bounded by
// dialTimeout.
func (p *amqpPublisher) dial() (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:      amqp.DefaultDial(p.dialTimeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error opening rabbitmq channel: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		accountEventsExchange, // name
		"topic",               // kind
		true,                  // durable
		false,                 // auto-delete
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return conn, nil
}

// Close stops the send loop and drops the connection. It waits for an
// in-flight send, which is bounded by the dial timeout.
func (p *amqpPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
