package ports

import (
	"context"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// SubjectFetcher fetches the current external state of a subject from its participant.
type SubjectFetcher interface {
	FetchSubject(ctx context.Context, participantID string, kind domain.SubjectKind, subjectID string) (*domain.SubjectSnapshot, error)
}

// TokenProvider hands out access tokens per credential registration.
type TokenProvider interface {
	GetToken(ctx context.Context, registrationID string) (domain.Token, error)
	Invalidate(registrationID string)
}
