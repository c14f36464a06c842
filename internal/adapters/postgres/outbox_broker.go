package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
)

// OutboxBroker stores events in event_outbox. A committed insert is the
// acknowledgement; forwarding rows to a bus is a separate relay.
type OutboxBroker struct {
	q Executor
}

func NewOutboxBroker(db *DB) *OutboxBroker {
	return &OutboxBroker{q: db.Pool}
}

func (b *OutboxBroker) Publish(ctx context.Context, msg ports.Message) error {
	headers := msg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	query := `INSERT INTO event_outbox (topic, message_key, payload, headers) VALUES ($1, $2, $3, $4)`
	if _, err := b.q.Exec(ctx, query, msg.Topic, msg.Key, msg.Value, headersJSON); err != nil {
		return fmt.Errorf("insert outbox message for %s: %w", msg.Topic, err)
	}
	return nil
}

// Close is a no-op; the pool belongs to DB.
func (b *OutboxBroker) Close() error {
	return nil
}
