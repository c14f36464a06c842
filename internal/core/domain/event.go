package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventSubjectSynced       = "subject.synced"
	EventSubjectSyncFailed   = "subject.sync_failed"
	EventCircuitStateChanged = "circuit.state_changed"
)

// DomainEvent is immutable once constructed.
type DomainEvent struct {
	ID          uuid.UUID       `json:"id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func NewDomainEvent(eventType, aggregateID string, payload any, occurredAt time.Time) (DomainEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return DomainEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     raw,
		OccurredAt:  occurredAt.UTC(),
	}, nil
}

// SyncFailedPayload is the payload of EventSubjectSyncFailed.
type SyncFailedPayload struct {
	WorkItemID    string `json:"work_item_id"`
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
	RetryCount    int    `json:"retry_count"`
	Error         string `json:"error"`
	Category      string `json:"category"`
}

// CircuitChangedPayload is the payload of EventCircuitStateChanged.
type CircuitChangedPayload struct {
	Participant string  `json:"participant"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	FailureRate float64 `json:"failure_rate"`
}

// Ack is the broker acknowledgement returned to publishers.
type Ack struct {
	Topic        string
	Key          string
	DeadLettered bool
	Attempts     int
	PublishedAt  time.Time
}
