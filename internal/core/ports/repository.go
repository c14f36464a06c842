package ports

import (
	"context"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/google/uuid"
)

// WorkItemRepository persists the synchronization queue.
type WorkItemRepository interface {
	Create(ctx context.Context, item *domain.WorkItem) error
	Save(ctx context.Context, item *domain.WorkItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error)
	// FindActiveBySubject returns the non-terminal item for a subject, or nil.
	FindActiveBySubject(ctx context.Context, subjectID string, kind domain.SubjectKind) (*domain.WorkItem, error)
	// FetchDueBatch returns up to limit PENDING items and RETRYING items whose
	// next_retry_at has passed, oldest first.
	FetchDueBatch(ctx context.Context, now time.Time, limit int) ([]*domain.WorkItem, error)
	FindFailed(ctx context.Context, limit int) ([]*domain.WorkItem, error)
	// ReleaseStuck moves PROCESSING items started before cutoff back to RETRYING.
	ReleaseStuck(ctx context.Context, cutoff, now time.Time) (int, error)
}

// SubjectStore is the domain entity store fed by synchronization.
type SubjectStore interface {
	// Apply writes fetched state, last write wins.
	Apply(ctx context.Context, snapshot *domain.SubjectSnapshot) error
	FindStale(ctx context.Context, before time.Time, limit int) ([]domain.SyncTarget, error)
	MarkSynced(ctx context.Context, subjectID string, kind domain.SubjectKind, at time.Time) error
}
