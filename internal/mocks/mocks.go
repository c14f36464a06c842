// Package mocks holds in-memory fakes of the ports, shared by package tests.
package mocks

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
	"github.com/google/uuid"
)

// MockTokenProvider
type MockTokenProvider struct {
	GetTokenFn   func(ctx context.Context, registrationID string) (domain.Token, error)
	Invalidated  []string
	mu           sync.Mutex
	GetTokenHits atomic.Int32
}

func (m *MockTokenProvider) GetToken(ctx context.Context, registrationID string) (domain.Token, error) {
	m.GetTokenHits.Add(1)
	if m.GetTokenFn != nil {
		return m.GetTokenFn(ctx, registrationID)
	}
	return domain.Token{RegistrationID: registrationID, Value: "token-" + registrationID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *MockTokenProvider) Invalidate(registrationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invalidated = append(m.Invalidated, registrationID)
}

// MockSubjectFetcher
type MockSubjectFetcher struct {
	FetchSubjectFn func(ctx context.Context, participantID string, kind domain.SubjectKind, subjectID string) (*domain.SubjectSnapshot, error)
	Calls          atomic.Int32
}

func (m *MockSubjectFetcher) FetchSubject(ctx context.Context, participantID string, kind domain.SubjectKind, subjectID string) (*domain.SubjectSnapshot, error) {
	m.Calls.Add(1)
	if m.FetchSubjectFn != nil {
		return m.FetchSubjectFn(ctx, participantID, kind, subjectID)
	}
	return &domain.SubjectSnapshot{
		SubjectID:     subjectID,
		ParticipantID: participantID,
		Kind:          kind,
		Status:        "ACTIVE",
		FetchedAt:     time.Now(),
	}, nil
}

// MockWorkItemRepository is an in-memory queue. Stored items are copied so
// callers never share memory with the store.
type MockWorkItemRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]domain.WorkItem

	SaveFn          func(ctx context.Context, item *domain.WorkItem) error
	FetchDueBatchFn func(ctx context.Context, now time.Time, limit int) ([]*domain.WorkItem, error)

	// History records every saved status per item, in order.
	History map[uuid.UUID][]domain.WorkItemStatus
}

func NewMockWorkItemRepository() *MockWorkItemRepository {
	return &MockWorkItemRepository{
		items:   make(map[uuid.UUID]domain.WorkItem),
		History: make(map[uuid.UUID][]domain.WorkItemStatus),
	}
}

func (m *MockWorkItemRepository) Create(ctx context.Context, item *domain.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = *item
	m.History[item.ID] = append(m.History[item.ID], item.Status)
	return nil
}

func (m *MockWorkItemRepository) Save(ctx context.Context, item *domain.WorkItem) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(ctx, item); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return domain.NewWorkItemNotFoundError(item.ID.String())
	}
	m.items[item.ID] = *item
	m.History[item.ID] = append(m.History[item.ID], item.Status)
	return nil
}

func (m *MockWorkItemRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, domain.NewWorkItemNotFoundError(id.String())
	}
	return &item, nil
}

func (m *MockWorkItemRepository) FindActiveBySubject(ctx context.Context, subjectID string, kind domain.SubjectKind) (*domain.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items {
		if item.SubjectID == subjectID && item.Kind == kind && !item.IsTerminal() {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MockWorkItemRepository) FetchDueBatch(ctx context.Context, now time.Time, limit int) ([]*domain.WorkItem, error) {
	if m.FetchDueBatchFn != nil {
		return m.FetchDueBatchFn(ctx, now, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*domain.WorkItem, 0)
	for _, item := range m.items {
		if item.IsDue(now) {
			found := item
			due = append(due, &found)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MockWorkItemRepository) FindFailed(ctx context.Context, limit int) ([]*domain.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	failed := make([]*domain.WorkItem, 0)
	for _, item := range m.items {
		if item.Status == domain.StatusFailed && len(failed) < limit {
			found := item
			failed = append(failed, &found)
		}
	}
	return failed, nil
}

func (m *MockWorkItemRepository) ReleaseStuck(ctx context.Context, cutoff, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := 0
	for id, item := range m.items {
		if item.Status == domain.StatusProcessing && item.ProcessingStartedAt != nil && item.ProcessingStartedAt.Before(cutoff) {
			if err := item.Release(now); err != nil {
				return released, err
			}
			m.items[id] = item
			m.History[id] = append(m.History[id], item.Status)
			released++
		}
	}
	return released, nil
}

// Get returns a copy of the stored item, for assertions.
func (m *MockWorkItemRepository) Get(id uuid.UUID) domain.WorkItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[id]
}

func (m *MockWorkItemRepository) StatusHistory(id uuid.UUID) []domain.WorkItemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.WorkItemStatus(nil), m.History[id]...)
}

// MockSubjectStore
type MockSubjectStore struct {
	mu        sync.Mutex
	Snapshots map[string]domain.SubjectSnapshot
	Synced    map[string]time.Time
	Targets   []domain.SyncTarget

	ApplyFn func(ctx context.Context, snapshot *domain.SubjectSnapshot) error
}

func NewMockSubjectStore() *MockSubjectStore {
	return &MockSubjectStore{
		Snapshots: make(map[string]domain.SubjectSnapshot),
		Synced:    make(map[string]time.Time),
	}
}

func (m *MockSubjectStore) Apply(ctx context.Context, snapshot *domain.SubjectSnapshot) error {
	if m.ApplyFn != nil {
		if err := m.ApplyFn(ctx, snapshot); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots[snapshot.SubjectID] = *snapshot
	return nil
}

func (m *MockSubjectStore) FindStale(ctx context.Context, before time.Time, limit int) ([]domain.SyncTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SyncTarget, 0)
	for _, t := range m.Targets {
		last, synced := m.Synced[t.SubjectID]
		if t.LastSyncedAt != nil && !synced {
			last, synced = *t.LastSyncedAt, true
		}
		if (!synced || last.Before(before)) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockSubjectStore) MarkSynced(ctx context.Context, subjectID string, kind domain.SubjectKind, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Synced[subjectID] = at
	return nil
}

func (m *MockSubjectStore) SyncedAt(subjectID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.Synced[subjectID]
	return at, ok
}

// MockBroker records every published message.
type MockBroker struct {
	mu        sync.Mutex
	Messages  []ports.Message
	PublishFn func(ctx context.Context, msg ports.Message) error
}

func (m *MockBroker) Publish(ctx context.Context, msg ports.Message) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockBroker) Close() error { return nil }

func (m *MockBroker) Published(topic string) []ports.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.Message, 0)
	for _, msg := range m.Messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// MockEventPublisher
type MockEventPublisher struct {
	mu     sync.Mutex
	Events []domain.DomainEvent

	PublishWithFallbackFn func(ctx context.Context, event domain.DomainEvent) (domain.Ack, error)
}

func (m *MockEventPublisher) PublishWithFallback(ctx context.Context, event domain.DomainEvent) (domain.Ack, error) {
	if m.PublishWithFallbackFn != nil {
		if ack, err := m.PublishWithFallbackFn(ctx, event); err != nil {
			return ack, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return domain.Ack{Key: event.AggregateID, PublishedAt: time.Now()}, nil
}

func (m *MockEventPublisher) EventsOfType(eventType string) []domain.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DomainEvent, 0)
	for _, e := range m.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
