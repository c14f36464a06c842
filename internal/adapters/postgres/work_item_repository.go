package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const workItemColumns = `id, subject_id, kind, upstream_participant_id, status, retry_count,
	error_message, last_error_category, next_retry_at, processing_started_at, processed_at,
	created_at, updated_at`

type WorkItemRepository struct {
	db *DB
	q  Executor
}

func NewWorkItemRepository(db *DB) *WorkItemRepository {
	return &WorkItemRepository{
		db: db,
		q:  db.Pool,
	}
}

// WithTx runs fn against a repository bound to one transaction.
func (r *WorkItemRepository) WithTx(ctx context.Context, fn func(*WorkItemRepository) error) error {
	return r.db.WithTx(ctx, func(q Executor) error {
		return fn(&WorkItemRepository{db: r.db, q: q})
	})
}

// Create inserts a new work item. It fails with domain.ErrActiveItemExists
// when the subject already has a PENDING, PROCESSING or RETRYING item.
func (r *WorkItemRepository) Create(ctx context.Context, item *domain.WorkItem) error {
	query := `INSERT INTO work_items (` + workItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.q.Exec(ctx, query,
		item.ID,
		item.SubjectID,
		item.Kind,
		item.UpstreamParticipantID,
		item.Status,
		item.RetryCount,
		item.ErrorMessage,
		item.LastErrorCategory,
		item.NextRetryAt,
		item.ProcessingStartedAt,
		item.ProcessedAt,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("create work item for %s/%s: %w", item.Kind, item.SubjectID, domain.ErrActiveItemExists)
		}
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

// Save persists the mutable state of an item.
func (r *WorkItemRepository) Save(ctx context.Context, item *domain.WorkItem) error {
	query := `
		UPDATE work_items SET
			status = $2,
			retry_count = $3,
			error_message = $4,
			last_error_category = $5,
			next_retry_at = $6,
			processing_started_at = $7,
			processed_at = $8,
			updated_at = $9
		WHERE id = $1`

	tag, err := r.q.Exec(ctx, query,
		item.ID,
		item.Status,
		item.RetryCount,
		item.ErrorMessage,
		item.LastErrorCategory,
		item.NextRetryAt,
		item.ProcessingStartedAt,
		item.ProcessedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save work item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewWorkItemNotFoundError(item.ID.String())
	}
	return nil
}

func (r *WorkItemRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = $1`

	item, err := scanWorkItem(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewWorkItemNotFoundError(id.String())
	}
	return item, err
}

// FindActiveBySubject returns nil, nil when the subject has no active item.
func (r *WorkItemRepository) FindActiveBySubject(ctx context.Context, subjectID string, kind domain.SubjectKind) (*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + `
		FROM work_items
		WHERE subject_id = $1 AND kind = $2
			AND status IN ('PENDING', 'PROCESSING', 'RETRYING')
		LIMIT 1`

	item, err := scanWorkItem(r.q.QueryRow(ctx, query, subjectID, kind))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// FetchDueBatch returns PENDING items and RETRYING items whose backoff has
// elapsed, oldest first.
func (r *WorkItemRepository) FetchDueBatch(ctx context.Context, now time.Time, limit int) ([]*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + `
		FROM work_items
		WHERE status = 'PENDING'
			OR (status = 'RETRYING' AND (next_retry_at IS NULL OR next_retry_at <= $1))
		ORDER BY created_at ASC
		LIMIT $2`

	return r.queryItems(ctx, "fetch due work items", query, now, limit)
}

func (r *WorkItemRepository) FindFailed(ctx context.Context, limit int) ([]*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + `
		FROM work_items
		WHERE status = 'FAILED'
		ORDER BY updated_at DESC
		LIMIT $1`

	return r.queryItems(ctx, "query failed work items", query, limit)
}

// ReleaseStuck returns items left in PROCESSING since before cutoff to
// RETRYING, due at now. Retry budget is not consumed.
func (r *WorkItemRepository) ReleaseStuck(ctx context.Context, cutoff, now time.Time) (int, error) {
	query := `
		UPDATE work_items SET
			status = 'RETRYING',
			next_retry_at = $2,
			processing_started_at = NULL,
			updated_at = $2
		WHERE status = 'PROCESSING' AND processing_started_at < $1`

	tag, err := r.q.Exec(ctx, query, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("release stuck work items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *WorkItemRepository) queryItems(ctx context.Context, op, query string, args ...any) ([]*domain.WorkItem, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.WorkItem, error) {
		return scanWorkItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan work items: %w", err)
	}
	return items, nil
}

func scanWorkItem(row pgx.Row) (*domain.WorkItem, error) {
	var w domain.WorkItem
	err := row.Scan(
		&w.ID,
		&w.SubjectID,
		&w.Kind,
		&w.UpstreamParticipantID,
		&w.Status,
		&w.RetryCount,
		&w.ErrorMessage,
		&w.LastErrorCategory,
		&w.NextRetryAt,
		&w.ProcessingStartedAt,
		&w.ProcessedAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
