package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Released  int
	Fetched   int
	Completed int
	Retrying  int
	Failed    int
	Skipped   int
}

// QueueProcessor drains due work items through a bounded worker pool. A
// cycle returns only after every item of its batch has finished, and cycles
// never overlap, so at most WorkerPoolSize upstream calls are in flight.
type QueueProcessor struct {
	repo      ports.WorkItemRepository
	store     ports.SubjectStore
	fetcher   ports.SubjectFetcher
	publisher ports.EventPublisher
	cfg       config.QueueConfig
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewQueueProcessor(
	repo ports.WorkItemRepository,
	store ports.SubjectStore,
	fetcher ports.SubjectFetcher,
	publisher ports.EventPublisher,
	cfg config.QueueConfig,
	logger *slog.Logger,
) *QueueProcessor {
	return &QueueProcessor{
		repo:      repo,
		store:     store,
		fetcher:   fetcher,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *QueueProcessor) Start(ctx context.Context) {
	p.logger.Info("queue processor started",
		"interval", p.cfg.DrainInterval,
		"batch_size", p.cfg.BatchSize,
		"worker_pool_size", p.cfg.WorkerPoolSize)

	p.mu.Lock()
	p.releaseStuck(ctx)
	p.mu.Unlock()

	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("queue processor stopping")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("drain cycle failed", "error", err)
			}
		}
	}
}

// RunOnce executes a single drain cycle. Items left PROCESSING longer than
// StuckAfter (a crash, or a status write that failed) are released first;
// drains never overlap, so none of them belongs to a running cycle.
func (p *QueueProcessor) RunOnce(ctx context.Context) (DrainResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	released := p.releaseStuck(ctx)

	items, err := p.repo.FetchDueBatch(ctx, p.now().UTC(), p.cfg.BatchSize)
	if err != nil {
		return DrainResult{Released: released}, err
	}
	if len(items) == 0 {
		return DrainResult{Released: released}, nil
	}

	var completed, retrying, failed, skipped atomic.Int32

	var g errgroup.Group
	g.SetLimit(p.cfg.WorkerPoolSize)
	for _, item := range items {
		g.Go(func() error {
			switch p.process(ctx, item) {
			case domain.StatusCompleted:
				completed.Add(1)
			case domain.StatusRetrying:
				retrying.Add(1)
			case domain.StatusFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := DrainResult{
		Released:  released,
		Fetched:   len(items),
		Completed: int(completed.Load()),
		Retrying:  int(retrying.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	p.logger.Info("drain cycle finished",
		"released", result.Released,
		"fetched", result.Fetched,
		"completed", result.Completed,
		"retrying", result.Retrying,
		"failed", result.Failed,
		"skipped", result.Skipped)

	return result, nil
}

// process returns the status the item was left in, or "" when it was not
// processed.
func (p *QueueProcessor) process(ctx context.Context, item *domain.WorkItem) domain.WorkItemStatus {
	logger := p.logger.With(
		"work_item_id", item.ID,
		"subject_id", item.SubjectID,
		"participant_id", item.UpstreamParticipantID)

	if err := item.MarkProcessing(p.now().UTC()); err != nil {
		logger.Warn("work item skipped", "status", item.Status, "error", err)
		return ""
	}
	if err := p.repo.Save(ctx, item); err != nil {
		logger.Error("failed to mark work item processing", "error", err)
		return ""
	}

	err := p.sync(ctx, item)
	if err != nil && ctx.Err() != nil {
		// Shutdown: hand the item back without consuming its budget.
		if relErr := item.Release(p.now().UTC()); relErr == nil {
			if saveErr := p.repo.Save(context.WithoutCancel(ctx), item); saveErr != nil {
				logger.Error("failed to release work item", "error", saveErr)
			}
		}
		return ""
	}

	if err == nil {
		if err := item.MarkCompleted(p.now().UTC()); err != nil {
			logger.Error("failed to complete work item", "error", err)
			return ""
		}
		if err := p.repo.Save(ctx, item); err != nil {
			logger.Error("failed to persist completed work item", "error", err)
			return ""
		}
		logger.Debug("work item completed")
		return domain.StatusCompleted
	}

	if recErr := item.RecordFailure(err, p.now().UTC(), p.cfg.MaxRetries, p.cfg.MaxBackoff); recErr != nil {
		logger.Error("failed to record work item failure", "error", recErr)
		return ""
	}
	if saveErr := p.repo.Save(ctx, item); saveErr != nil {
		logger.Error("failed to persist work item failure", "error", saveErr)
		return ""
	}

	if item.Status == domain.StatusFailed {
		logger.Error("work item failed permanently, manual intervention required",
			"retry_count", item.RetryCount,
			"category", domain.CategorizeError(err),
			"error", err)
		p.publishFailure(ctx, item, err)
		return domain.StatusFailed
	}

	logger.Warn("work item sync failed, retry scheduled",
		"retry_count", item.RetryCount,
		"next_retry_at", item.NextRetryAt,
		"category", domain.CategorizeError(err),
		"error", err)
	return domain.StatusRetrying
}

func (p *QueueProcessor) sync(ctx context.Context, item *domain.WorkItem) error {
	snapshot, err := p.fetcher.FetchSubject(ctx, item.UpstreamParticipantID, item.Kind, item.SubjectID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return errors.New("participant returned no state")
	}

	if err := p.store.Apply(ctx, snapshot); err != nil {
		return err
	}

	event, err := domain.NewDomainEvent(domain.EventSubjectSynced, item.SubjectID, snapshot, p.now())
	if err != nil {
		return err
	}
	_, err = p.publisher.PublishWithFallback(ctx, event)
	return err
}

func (p *QueueProcessor) publishFailure(ctx context.Context, item *domain.WorkItem, cause error) {
	event, err := domain.NewDomainEvent(domain.EventSubjectSyncFailed, item.SubjectID, domain.SyncFailedPayload{
		WorkItemID:    item.ID.String(),
		ParticipantID: item.UpstreamParticipantID,
		Kind:          string(item.Kind),
		RetryCount:    item.RetryCount,
		Error:         cause.Error(),
		Category:      string(domain.CategorizeError(cause)),
	}, p.now())
	if err != nil {
		p.logger.Error("failed to build sync failure event", "work_item_id", item.ID, "error", err)
		return
	}
	if _, err := p.publisher.PublishWithFallback(ctx, event); err != nil {
		p.logger.Error("failed to publish sync failure event", "work_item_id", item.ID, "error", err)
	}
}

// releaseStuck must be called with mu held.
func (p *QueueProcessor) releaseStuck(ctx context.Context) int {
	now := p.now().UTC()
	released, err := p.repo.ReleaseStuck(ctx, now.Add(-p.cfg.StuckAfter), now)
	if err != nil {
		p.logger.Error("failed to release stuck work items", "error", err)
		return 0
	}
	if released > 0 {
		p.logger.Warn("released stuck work items", "count", released)
	}
	return released
}
