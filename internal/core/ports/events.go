package ports

import (
	"context"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// Message is one topic-addressed record handed to a broker.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// MessageBroker delivers messages and returns once the broker acknowledged them.
type MessageBroker interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// EventPublisher publishes domain events with dead-letter fallback.
type EventPublisher interface {
	PublishWithFallback(ctx context.Context, event domain.DomainEvent) (domain.Ack, error)
}
