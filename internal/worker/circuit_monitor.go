package worker

import (
	"context"
	"log/slog"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/resilience"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
)

// CircuitMonitor reports circuit transitions to the log and, best effort,
// as circuit.state_changed events.
type CircuitMonitor struct {
	changes   <-chan resilience.StateChange
	publisher ports.EventPublisher
	logger    *slog.Logger
}

func NewCircuitMonitor(changes <-chan resilience.StateChange, publisher ports.EventPublisher, logger *slog.Logger) *CircuitMonitor {
	return &CircuitMonitor{
		changes:   changes,
		publisher: publisher,
		logger:    logger,
	}
}

// Start blocks until ctx is done or the channel is closed.
func (m *CircuitMonitor) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-m.changes:
			if !ok {
				return
			}
			m.handle(ctx, change)
		}
	}
}

func (m *CircuitMonitor) handle(ctx context.Context, change resilience.StateChange) {
	attrs := []any{
		"participant_id", change.Name,
		"from", change.From,
		"to", change.To,
		"failure_rate", change.FailureRate,
	}
	if change.To == resilience.StateOpen {
		m.logger.Warn("circuit opened", attrs...)
	} else {
		m.logger.Info("circuit state changed", attrs...)
	}

	if m.publisher == nil {
		return
	}
	event, err := domain.NewDomainEvent(domain.EventCircuitStateChanged, change.Name, domain.CircuitChangedPayload{
		Participant: change.Name,
		From:        string(change.From),
		To:          string(change.To),
		FailureRate: change.FailureRate,
	}, change.At)
	if err != nil {
		m.logger.Error("failed to build circuit event", "error", err)
		return
	}
	if _, err := m.publisher.PublishWithFallback(ctx, event); err != nil {
		m.logger.Error("failed to publish circuit event", "participant_id", change.Name, "error", err)
	}
}
