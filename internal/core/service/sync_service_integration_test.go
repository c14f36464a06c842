package service_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/postgres"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/postgres/testhelpers"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/service"
	"github.com/stretchr/testify/suite"
)

type SyncServiceTestSuite struct {
	suite.Suite
	testDB *testhelpers.TestDatabase
	repo   *postgres.WorkItemRepository
	svc    *service.SyncService
}

func TestSyncServiceSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (suite *SyncServiceTestSuite) SetupSuite() {
	suite.testDB = testhelpers.SetupTestDatabase(suite.T())
	suite.repo = postgres.NewWorkItemRepository(suite.testDB.DB)
	suite.svc = service.NewSyncService(suite.repo, slog.New(slog.DiscardHandler))
}

func (suite *SyncServiceTestSuite) TearDownSuite() {
	if suite.testDB != nil {
		suite.testDB.Cleanup(suite.T())
	}
}

func (suite *SyncServiceTestSuite) TearDownTest() {
	suite.testDB.CleanTables(suite.T())
}

func (suite *SyncServiceTestSuite) TestEnqueue_PersistsItem() {
	ctx := context.Background()

	item, created, err := suite.svc.Enqueue(ctx, service.EnqueueCommand{
		SubjectID:     "consent-7",
		Kind:          "consent",
		ParticipantID: "bank-a",
	})
	suite.Require().NoError(err)
	suite.True(created)

	found, err := suite.svc.GetWorkItem(ctx, item.ID.String())
	suite.Require().NoError(err)
	suite.Equal(domain.StatusPending, found.Status)
	suite.Equal("bank-a", found.UpstreamParticipantID)
}

func (suite *SyncServiceTestSuite) TestEnqueue_ConcurrentRequestsShareOneItem() {
	ctx := context.Background()
	cmd := service.EnqueueCommand{SubjectID: "acc-3", Kind: "account", ParticipantID: "bank-a"}

	const callers = 10
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, _, err := suite.svc.Enqueue(ctx, cmd)
			if suite.NoError(err) {
				ids <- item.ID.String()
			}
		}()
	}
	wg.Wait()
	close(ids)

	unique := map[string]struct{}{}
	for id := range ids {
		unique[id] = struct{}{}
	}
	suite.Len(unique, 1)
}
