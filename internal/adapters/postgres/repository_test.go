package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/postgres"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/postgres/testhelpers"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStores(t *testing.T) {
	td := testhelpers.SetupTestDatabase(t)
	defer td.Cleanup(t)

	t.Run("work item lifecycle", func(t *testing.T) {
		td.CleanTables(t)
		ctx := context.Background()
		repo := postgres.NewWorkItemRepository(td.DB)
		now := time.Now().UTC().Truncate(time.Microsecond)

		item := domain.NewWorkItem("consent-1", domain.KindConsent, "bank-a", now)
		require.NoError(t, repo.Create(ctx, item))

		due, err := repo.FetchDueBatch(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, item.ID, due[0].ID)

		require.NoError(t, item.MarkProcessing(now))
		require.NoError(t, repo.Save(ctx, item))
		require.NoError(t, item.RecordFailure(errors.New("503"), now, 3, time.Hour))
		require.NoError(t, repo.Save(ctx, item))

		due, err = repo.FetchDueBatch(ctx, now.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, due, "backoff not elapsed")

		due, err = repo.FetchDueBatch(ctx, now.Add(2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		found, err := repo.FindByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRetrying, found.Status)
		assert.Equal(t, 1, found.RetryCount)
		assert.Equal(t, "503", *found.ErrorMessage)
		assert.Equal(t, now.Add(2*time.Minute), found.NextRetryAt.UTC())
	})

	t.Run("one active item per subject", func(t *testing.T) {
		td.CleanTables(t)
		ctx := context.Background()
		repo := postgres.NewWorkItemRepository(td.DB)
		now := time.Now().UTC()

		first := domain.NewWorkItem("acc-1", domain.KindAccount, "bank-a", now)
		require.NoError(t, repo.Create(ctx, first))

		err := repo.Create(ctx, domain.NewWorkItem("acc-1", domain.KindAccount, "bank-a", now))
		assert.ErrorIs(t, err, domain.ErrActiveItemExists)

		active, err := repo.FindActiveBySubject(ctx, "acc-1", domain.KindAccount)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, first.ID, active.ID)

		none, err := repo.FindActiveBySubject(ctx, "acc-2", domain.KindAccount)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("not found", func(t *testing.T) {
		repo := postgres.NewWorkItemRepository(td.DB)
		_, err := repo.FindByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, domain.ErrWorkItemNotFound)
	})

	t.Run("release stuck processing items", func(t *testing.T) {
		td.CleanTables(t)
		ctx := context.Background()
		repo := postgres.NewWorkItemRepository(td.DB)
		started := time.Now().UTC().Add(-time.Hour)

		item := domain.NewWorkItem("bal-1", domain.KindBalance, "bank-a", started)
		require.NoError(t, repo.Create(ctx, item))
		require.NoError(t, item.MarkProcessing(started))
		require.NoError(t, repo.Save(ctx, item))

		now := time.Now().UTC()
		released, err := repo.ReleaseStuck(ctx, now.Add(-10*time.Minute), now)
		require.NoError(t, err)
		assert.Equal(t, 1, released)

		found, err := repo.FindByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRetrying, found.Status)
		assert.Equal(t, 0, found.RetryCount)
	})

	t.Run("failed items and transactional save", func(t *testing.T) {
		td.CleanTables(t)
		ctx := context.Background()
		repo := postgres.NewWorkItemRepository(td.DB)
		now := time.Now().UTC()

		item := domain.NewWorkItem("tx-1", domain.KindTransaction, "bank-a", now)
		require.NoError(t, repo.Create(ctx, item))

		err := repo.WithTx(ctx, func(tx *postgres.WorkItemRepository) error {
			require.NoError(t, item.MarkProcessing(now))
			require.NoError(t, item.RecordFailure(errors.New("gone"), now, 1, time.Hour))
			return tx.Save(ctx, item)
		})
		require.NoError(t, err)

		failed, err := repo.FindFailed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, item.ID, failed[0].ID)
	})

	t.Run("subject apply is last write wins and stale selection", func(t *testing.T) {
		td.CleanTables(t)
		ctx := context.Background()
		store := postgres.NewSubjectRepository(td.DB)
		old := time.Now().UTC().Add(-time.Hour)

		snapshot := &domain.SubjectSnapshot{
			SubjectID:     "acc-9",
			ParticipantID: "bank-a",
			Kind:          domain.KindAccount,
			Status:        "ENABLED",
			Balances:      []domain.Balance{{Type: "AVAILABLE", Amount: 100, Currency: "BRL"}},
			Raw:           json.RawMessage(`{"id":"acc-9"}`),
			FetchedAt:     old,
		}
		require.NoError(t, store.Apply(ctx, snapshot))
		require.NoError(t, store.Apply(ctx, snapshot))

		stale, err := store.FindStale(ctx, time.Now().Add(-15*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "bank-a", stale[0].ParticipantID)

		require.NoError(t, store.MarkSynced(ctx, "acc-9", domain.KindAccount, time.Now()))
		stale, err = store.FindStale(ctx, time.Now().Add(-15*time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)

		err = store.MarkSynced(ctx, "missing", domain.KindAccount, time.Now())
		assert.ErrorIs(t, err, domain.ErrSubjectNotFound)
	})

	t.Run("outbox broker stores messages", func(t *testing.T) {
		td.CleanTables(t)
		ctx := context.Background()
		var broker ports.MessageBroker = postgres.NewOutboxBroker(td.DB)

		err := broker.Publish(ctx, ports.Message{
			Topic:   "sync.events",
			Key:     "consent-1",
			Value:   []byte(`{"event_type":"subject.synced"}`),
			Headers: map[string]string{"event_type": "subject.synced"},
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, td.DB.Pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM event_outbox WHERE topic = 'sync.events' AND message_key = 'consent-1'").Scan(&count))
		assert.Equal(t, 1, count)
	})
}
