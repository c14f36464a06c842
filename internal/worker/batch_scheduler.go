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

type SweepResult struct {
	Selected int
	Synced   int
	Failed   int
}

// BatchScheduler periodically refreshes subjects whose last sync is older
// than StaleAfter. Failures are only logged: the subject keeps its old
// timestamp and is picked again by a later sweep.
type BatchScheduler struct {
	store   ports.SubjectStore
	fetcher ports.SubjectFetcher
	cfg     config.SchedulerConfig
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

func NewBatchScheduler(store ports.SubjectStore, fetcher ports.SubjectFetcher, cfg config.SchedulerConfig, logger *slog.Logger) *BatchScheduler {
	return &BatchScheduler{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *BatchScheduler) Start(ctx context.Context) {
	s.logger.Info("batch scheduler started", "interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("batch scheduler stopping")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sync sweep failed", "error", err)
			}
		}
	}
}

// RunOnce executes a single sweep.
func (s *BatchScheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, err := s.store.FindStale(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	if len(targets) == 0 {
		return SweepResult{}, nil
	}

	var synced, failed atomic.Int32

	var g errgroup.Group
	g.SetLimit(s.cfg.WorkerPoolSize)
	for _, target := range targets {
		g.Go(func() error {
			if err := s.sync(ctx, target); err != nil {
				failed.Add(1)
				s.logger.Warn("subject resync failed",
					"subject_id", target.SubjectID,
					"participant_id", target.ParticipantID,
					"kind", target.Kind,
					"category", domain.CategorizeError(err),
					"error", err)
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{
		Selected: len(targets),
		Synced:   int(synced.Load()),
		Failed:   int(failed.Load()),
	}
	s.logger.Info("sync sweep finished", "selected", result.Selected, "synced", result.Synced, "failed", result.Failed)
	return result, nil
}

func (s *BatchScheduler) sync(ctx context.Context, target domain.SyncTarget) error {
	snapshot, err := s.fetcher.FetchSubject(ctx, target.ParticipantID, target.Kind, target.SubjectID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return errors.New("participant returned no state")
	}
	if err := s.store.Apply(ctx, snapshot); err != nil {
		return err
	}
	return s.store.MarkSynced(ctx, target.SubjectID, target.Kind, s.now().UTC())
}
