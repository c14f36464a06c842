package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

// SubjectRepository is the local copy of upstream subject state.
type SubjectRepository struct {
	q Executor
}

func NewSubjectRepository(db *DB) *SubjectRepository {
	return &SubjectRepository{q: db.Pool}
}

// Apply upserts a snapshot. Repeating it with the same snapshot is harmless;
// concurrent writers resolve by last write wins.
func (r *SubjectRepository) Apply(ctx context.Context, s *domain.SubjectSnapshot) error {
	balances := s.Balances
	if balances == nil {
		balances = []domain.Balance{}
	}
	balancesJSON, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}

	var raw []byte
	if len(s.Raw) > 0 {
		raw = s.Raw
	}

	query := `
		INSERT INTO synced_subjects (
			subject_id, kind, participant_id, status, balances, raw, fetched_at, last_synced_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, NOW())
		ON CONFLICT (subject_id, kind) DO UPDATE SET
			participant_id = EXCLUDED.participant_id,
			status = EXCLUDED.status,
			balances = EXCLUDED.balances,
			raw = EXCLUDED.raw,
			fetched_at = EXCLUDED.fetched_at,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()`

	_, err = r.q.Exec(ctx, query,
		s.SubjectID,
		s.Kind,
		s.ParticipantID,
		s.Status,
		balancesJSON,
		raw,
		s.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("apply snapshot %s/%s: %w", s.Kind, s.SubjectID, err)
	}
	return nil
}

// FindStale returns subjects never synced or last synced before before,
// least recently synced first.
func (r *SubjectRepository) FindStale(ctx context.Context, before time.Time, limit int) ([]domain.SyncTarget, error) {
	query := `
		SELECT subject_id, participant_id, kind, last_synced_at
		FROM synced_subjects
		WHERE last_synced_at IS NULL OR last_synced_at < $1
		ORDER BY last_synced_at ASC NULLS FIRST
		LIMIT $2`

	rows, err := r.q.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale subjects: %w", err)
	}

	targets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SyncTarget, error) {
		var t domain.SyncTarget
		err := row.Scan(&t.SubjectID, &t.ParticipantID, &t.Kind, &t.LastSyncedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale subjects: %w", err)
	}
	return targets, nil
}

func (r *SubjectRepository) MarkSynced(ctx context.Context, subjectID string, kind domain.SubjectKind, at time.Time) error {
	query := `
		UPDATE synced_subjects
		SET last_synced_at = $3, updated_at = NOW()
		WHERE subject_id = $1 AND kind = $2`

	tag, err := r.q.Exec(ctx, query, subjectID, kind, at)
	if err != nil {
		return fmt.Errorf("mark %s/%s synced: %w", kind, subjectID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark %s/%s synced: %w", kind, subjectID, domain.ErrSubjectNotFound)
	}
	return nil
}
