package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SyncService is the entry point for event-triggered synchronization and for
// operators inspecting or requeueing work items.
type SyncService struct {
	repo   ports.WorkItemRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewSyncService(repo ports.WorkItemRepository, logger *slog.Logger) *SyncService {
	return &SyncService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue creates a PENDING work item for the subject. When the subject
// already has an active item, that item is returned and nothing is created.
func (s *SyncService) Enqueue(ctx context.Context, cmd EnqueueCommand) (*domain.WorkItem, bool, error) {
	if err := s.validate(cmd); err != nil {
		return nil, false, err
	}
	kind := domain.SubjectKind(strings.ToLower(cmd.Kind))

	existing, err := s.repo.FindActiveBySubject(ctx, cmd.SubjectID, kind)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	item := domain.NewWorkItem(cmd.SubjectID, kind, cmd.ParticipantID, s.now().UTC())
	if err := s.repo.Create(ctx, item); err != nil {
		if errors.Is(err, domain.ErrActiveItemExists) {
			existing, findErr := s.repo.FindActiveBySubject(ctx, cmd.SubjectID, kind)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	s.logger.Info("work item enqueued",
		"work_item_id", item.ID,
		"subject_id", item.SubjectID,
		"kind", item.Kind,
		"participant_id", item.UpstreamParticipantID)

	return item, true, nil
}

func (s *SyncService) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	itemID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.NewValidationError("invalid work item id")
	}
	return s.repo.FindByID(ctx, itemID)
}

func (s *SyncService) ListFailed(ctx context.Context, limit int) ([]*domain.WorkItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.FindFailed(ctx, limit)
}

// Requeue gives a FAILED item a fresh retry budget.
func (s *SyncService) Requeue(ctx context.Context, id string) (*domain.WorkItem, error) {
	item, err := s.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := item.Requeue(s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("work item requeued", "work_item_id", item.ID, "subject_id", item.SubjectID)
	return item, nil
}

func (s *SyncService) validate(cmd EnqueueCommand) error {
	if strings.TrimSpace(cmd.SubjectID) == "" {
		return domain.NewValidationError("subject_id is required")
	}
	if strings.TrimSpace(cmd.ParticipantID) == "" {
		return domain.NewValidationError("participant_id is required")
	}
	if !domain.SubjectKind(strings.ToLower(cmd.Kind)).Valid() {
		return domain.NewValidationError("kind must be one of consent, account, balance, transaction")
	}
	return nil
}
