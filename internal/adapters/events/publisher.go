package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
)

const (
	HeaderEventID          = "event_id"
	HeaderEventType        = "event_type"
	HeaderDeadLetterReason = "dead_letter_reason"
	HeaderOriginalTopic    = "original_topic"
	HeaderAttempts         = "attempts"
)

// Publisher writes domain events keyed by aggregate id, so that events of one
// subject keep their order on a partitioned broker.
type Publisher struct {
	broker          ports.MessageBroker
	primaryTopic    string
	deadLetterTopic string
	maxAttempts     int
	retryWait       time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewPublisher(broker ports.MessageBroker, cfg config.BrokerConfig, logger *slog.Logger) *Publisher {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Publisher{
		broker:          broker,
		primaryTopic:    cfg.PrimaryTopic,
		deadLetterTopic: cfg.DeadLetterTopic,
		maxAttempts:     attempts,
		retryWait:       cfg.RetryWait,
		logger:          logger,
		now:             time.Now,
	}
}

// Publish makes one attempt to write event to topic.
func (p *Publisher) Publish(ctx context.Context, topic, key string, event domain.DomainEvent) (domain.Ack, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return p.publish(ctx, newMessage(topic, key, value, event))
}

// PublishWithFallback tries the primary topic up to maxAttempts times, then
// writes the same key and payload once to the dead-letter topic. It only
// fails when the dead-letter write fails too.
func (p *Publisher) PublishWithFallback(ctx context.Context, event domain.DomainEvent) (domain.Ack, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	key := event.AggregateID

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		ack, err := p.publish(ctx, newMessage(p.primaryTopic, key, value, event))
		if err == nil {
			ack.Attempts = attempt
			return ack, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return domain.Ack{}, lastErr
		}

		p.logger.Warn("event publish attempt failed",
			"event_id", event.ID,
			"event_type", event.EventType,
			"topic", p.primaryTopic,
			"attempt", attempt,
			"error", err)

		if attempt < p.maxAttempts {
			if err := wait(ctx, p.retryWait); err != nil {
				return domain.Ack{}, lastErr
			}
		}
	}

	msg := newMessage(p.deadLetterTopic, key, value, event)
	msg.Headers[HeaderDeadLetterReason] = lastErr.Error()
	msg.Headers[HeaderOriginalTopic] = p.primaryTopic
	msg.Headers[HeaderAttempts] = strconv.Itoa(p.maxAttempts)

	ack, err := p.publish(ctx, msg)
	if err != nil {
		p.logger.Error("event lost: dead-letter publish failed",
			"event_id", event.ID,
			"event_type", event.EventType,
			"topic", p.deadLetterTopic,
			"error", err)
		return domain.Ack{}, err
	}

	p.logger.Warn("event dead-lettered",
		"event_id", event.ID,
		"event_type", event.EventType,
		"topic", p.deadLetterTopic,
		"reason", lastErr)

	ack.DeadLettered = true
	ack.Attempts = p.maxAttempts + 1
	return ack, nil
}

func (p *Publisher) publish(ctx context.Context, msg ports.Message) (domain.Ack, error) {
	if err := p.broker.Publish(ctx, msg); err != nil {
		return domain.Ack{}, &domain.PublishError{Topic: msg.Topic, Key: msg.Key, Err: err}
	}
	return domain.Ack{Topic: msg.Topic, Key: msg.Key, Attempts: 1, PublishedAt: p.now().UTC()}, nil
}

func newMessage(topic, key string, value []byte, event domain.DomainEvent) ports.Message {
	return ports.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: map[string]string{
			HeaderEventID:   event.ID.String(),
			HeaderEventType: event.EventType,
		},
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
