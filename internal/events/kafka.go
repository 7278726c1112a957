// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

// Package events publishes account events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/segmentio/kafka-go"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/pkg/errutil"
)

// Header names set on every message.
const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
)

// EventTypeUserRegistered labels UserRegistered messages.
const EventTypeUserRegistered = "user.registered"

// Publisher defaults.
const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 5 * time.Second
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes account events to a single topic, keyed by user id so
// events for one user stay ordered.
//
// PublishUserRegistered only enqueues. A single goroutine drains the queue
// into the writer, so callers never wait on a broker. When the queue is full
// the event is dropped and an error returned.
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	logger       *slog.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}
}

// NewKafkaPublisher creates a publisher for brokers and topic and starts its
// delivery goroutine. Close must be called to flush and stop it.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, oops.Code("EVENTS_CONFIG_INVALID").Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, oops.Code("EVENTS_CONFIG_INVALID").Errorf("topic is required")
	}
	writer := newKafkaWriter(brokers, topic)
	p := newPublisher(writer, topic, logger, DefaultQueueSize, DefaultWriteTimeout)
	writer.Completion = p.logDelivery
	return p, nil
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		MaxAttempts:            3,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           DefaultWriteTimeout,
		ReadTimeout:            DefaultWriteTimeout,
		AllowAutoTopicCreation: true,
	}
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger, queueSize int, writeTimeout time.Duration) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &KafkaPublisher{
		writer:       w,
		topic:        topic,
		logger:       logger,
		writeTimeout: writeTimeout,
		queue:        make(chan kafka.Message, queueSize),
		done:         make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishUserRegistered implements auth.EventPublisher. It returns as soon as
// the event is queued; delivery failures are logged, not returned.
func (p *KafkaPublisher) PublishUserRegistered(ctx context.Context, event auth.UserRegistered) error {
	value, err := json.Marshal(event)
	if err != nil {
		return oops.Code("EVENT_ENCODE_FAILED").With("event_type", EventTypeUserRegistered).Wrap(err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.ID, 10)),
		Value: value,
		Time:  event.RegisteredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(EventTypeUserRegistered)},
			{Key: HeaderEventID, Value: []byte(ulid.Make().String())},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return oops.Code("EVENT_PUBLISHER_CLOSED").With("topic", p.topic).Errorf("publisher is closed")
	}
	select {
	case p.queue <- msg:
	default:
		return oops.Code("EVENT_QUEUE_FULL").
			With("topic", p.topic).
			With("event_type", EventTypeUserRegistered).
			With("user_id", event.ID).
			Errorf("event queue is full")
	}

	p.logger.DebugContext(ctx, "event queued",
		"topic", p.topic,
		"event_type", EventTypeUserRegistered,
		"user_id", event.ID,
	)
	return nil
}

// run delivers queued messages until the queue is closed.
func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			errutil.LogError(p.logger, "failed to publish event", oops.Code("EVENT_PUBLISH_FAILED").
				With("topic", p.topic).
				With("key", string(msg.Key)).
				Wrap(err))
		}
	}
}

// logDelivery reports the outcome of an asynchronous batch write.
func (p *KafkaPublisher) logDelivery(msgs []kafka.Message, err error) {
	if err == nil {
		p.logger.Debug("events delivered", "topic", p.topic, "count", len(msgs))
		return
	}
	errutil.LogError(p.logger, "event delivery failed", oops.Code("EVENT_DELIVERY_FAILED").
		With("topic", p.topic).
		With("count", len(msgs)).
		Wrap(err))
}

// Close stops accepting events, waits for the queue to drain and closes the
// writer, which flushes pending batches. It is safe to call more than once.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	if err := p.writer.Close(); err != nil {
		return oops.Code("EVENT_WRITER_CLOSE_FAILED").With("topic", p.topic).Wrap(err)
	}
	return nil
}

var _ auth.EventPublisher = (*KafkaPublisher)(nil)
