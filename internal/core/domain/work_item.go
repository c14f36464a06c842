package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// WorkItemStatus represents the current state of a work item in its lifecycle
type WorkItemStatus string

const (
	StatusPending    WorkItemStatus = "PENDING"
	StatusProcessing WorkItemStatus = "PROCESSING"
	StatusRetrying   WorkItemStatus = "RETRYING"
	StatusCompleted  WorkItemStatus = "COMPLETED"
	StatusFailed     WorkItemStatus = "FAILED"
)

// SubjectKind names the resource a work item synchronizes.
type SubjectKind string

const (
	KindConsent     SubjectKind = "consent"
	KindAccount     SubjectKind = "account"
	KindBalance     SubjectKind = "balance"
	KindTransaction SubjectKind = "transaction"
)

func (k SubjectKind) Valid() bool {
	switch k {
	case KindConsent, KindAccount, KindBalance, KindTransaction:
		return true
	}
	return false
}

// WorkItem is one discrete unit of pending synchronization.
type WorkItem struct {
	ID                    uuid.UUID
	SubjectID             string
	Kind                  SubjectKind
	UpstreamParticipantID string

	Status            WorkItemStatus
	RetryCount        int
	ErrorMessage      *string
	LastErrorCategory *string
	NextRetryAt       *time.Time

	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func NewWorkItem(subjectID string, kind SubjectKind, participantID string, now time.Time) *WorkItem {
	return &WorkItem{
		ID:                    uuid.New(),
		SubjectID:             subjectID,
		Kind:                  kind,
		UpstreamParticipantID: participantID,
		Status:                StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// CanTransitionTo validates a status change.
//
// Valid transitions are:
//   - Pending → Processing
//   - Processing → Completed, Retrying, Failed
//   - Retrying → Processing
//   - Failed → Pending (manual requeue only)
//
// Completed is terminal.
func (w *WorkItem) CanTransitionTo(target WorkItemStatus) error {
	switch w.Status {
	case StatusPending, StatusRetrying:
		if target == StatusProcessing {
			return nil
		}
	case StatusProcessing:
		if target == StatusCompleted || target == StatusRetrying || target == StatusFailed {
			return nil
		}
	case StatusFailed:
		if target == StatusPending {
			return nil
		}
	}
	return NewInvalidTransitionError(w.Status, target)
}

func (w *WorkItem) IsTerminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusFailed
}

// IsDue reports whether the item may be picked by a drain cycle at now.
func (w *WorkItem) IsDue(now time.Time) bool {
	switch w.Status {
	case StatusPending:
		return true
	case StatusRetrying:
		return w.NextRetryAt == nil || !w.NextRetryAt.After(now)
	}
	return false
}

func (w *WorkItem) MarkProcessing(now time.Time) error {
	if err := w.CanTransitionTo(StatusProcessing); err != nil {
		return err
	}
	w.Status = StatusProcessing
	w.ProcessingStartedAt = &now
	w.UpdatedAt = now
	return nil
}

func (w *WorkItem) MarkCompleted(now time.Time) error {
	if err := w.CanTransitionTo(StatusCompleted); err != nil {
		return err
	}
	w.Status = StatusCompleted
	w.ProcessedAt = &now
	w.NextRetryAt = nil
	w.UpdatedAt = now
	return nil
}

// RecordFailure consumes one unit of retry budget. The item becomes FAILED
// once retryCount reaches maxRetries, otherwise RETRYING with an
// exponential backoff of 2^retryCount minutes capped at maxBackoff.
func (w *WorkItem) RecordFailure(cause error, now time.Time, maxRetries int, maxBackoff time.Duration) error {
	w.RetryCount++
	msg := cause.Error()
	category := string(CategorizeError(cause))
	w.ErrorMessage = &msg
	w.LastErrorCategory = &category
	w.UpdatedAt = now

	if w.RetryCount >= maxRetries {
		if err := w.CanTransitionTo(StatusFailed); err != nil {
			return err
		}
		w.Status = StatusFailed
		w.NextRetryAt = nil
		return nil
	}

	if err := w.CanTransitionTo(StatusRetrying); err != nil {
		return err
	}
	next := now.Add(RetryBackoff(w.RetryCount, maxBackoff))
	w.Status = StatusRetrying
	w.NextRetryAt = &next
	return nil
}

// Release returns an abandoned PROCESSING item to RETRYING, due immediately.
// Retry budget is not consumed.
func (w *WorkItem) Release(now time.Time) error {
	if w.Status != StatusProcessing {
		return NewInvalidTransitionError(w.Status, StatusRetrying)
	}
	w.Status = StatusRetrying
	w.NextRetryAt = &now
	w.ProcessingStartedAt = nil
	w.UpdatedAt = now
	return nil
}

// Requeue resets a FAILED item for another full retry budget.
func (w *WorkItem) Requeue(now time.Time) error {
	if err := w.CanTransitionTo(StatusPending); err != nil {
		return err
	}
	w.Status = StatusPending
	w.RetryCount = 0
	w.NextRetryAt = nil
	w.ErrorMessage = nil
	w.LastErrorCategory = nil
	w.UpdatedAt = now
	return nil
}

// RetryBackoff returns 2^retryCount minutes, capped at maxBackoff when positive.
func RetryBackoff(retryCount int, maxBackoff time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	minutes := math.Pow(2, float64(retryCount))
	if maxBackoff > 0 && minutes >= maxBackoff.Minutes() {
		return maxBackoff
	}
	if minutes >= math.MaxInt64/float64(time.Minute) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(minutes) * time.Minute
}
