package participant

import (
	"context"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/resilience"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// ResilientClient wraps HTTPClient with token handling, a circuit per
// participant and the per-request retry policy.
type ResilientClient struct {
	client   *HTTPClient
	executor *resilience.Executor
}

func NewResilientClient(client *HTTPClient, executor *resilience.Executor) *ResilientClient {
	return &ResilientClient{
		client:   client,
		executor: executor,
	}
}

func (c *ResilientClient) FetchSubject(ctx context.Context, participantID string, kind domain.SubjectKind, subjectID string) (*domain.SubjectSnapshot, error) {
	return resilience.Execute(ctx, c.executor, participantID, func(ctx context.Context, token domain.Token) (*domain.SubjectSnapshot, error) {
		return c.client.FetchSubject(ctx, token, participantID, kind, subjectID)
	})
}
