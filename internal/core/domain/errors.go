package domain

import (
	"errors"
	"fmt"
	"time"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

const (
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeWorkItemNotFound  = "WORK_ITEM_NOT_FOUND"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

var (
	ErrWorkItemNotFound  = errors.New("work item not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrActiveItemExists  = errors.New("subject already has an active work item")
)

func NewInvalidTransitionError(from, to WorkItemStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Err:     ErrInvalidTransition,
	}
}

func NewWorkItemNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeWorkItemNotFound,
		Message: fmt.Sprintf("work item %s not found", id),
		Err:     ErrWorkItemNotFound,
	}
}

func NewValidationError(msg string) *DomainError {
	return &DomainError{
		Code:    ErrCodeValidation,
		Message: msg,
	}
}

// AdmissionRejectedError is returned when a client exceeded its request budget.
type AdmissionRejectedError struct {
	ClientID   string
	RetryAfter time.Duration
}

func (e *AdmissionRejectedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %s, retry after %s", e.ClientID, e.RetryAfter)
}

// AuthError means no access token could be obtained for a registration.
type AuthError struct {
	RegistrationID string
	Err            error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token acquisition failed for registration %s: %v", e.RegistrationID, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// CircuitOpenError is a fast failure: the upstream was not called.
type CircuitOpenError struct {
	Participant string
	RetryAfter  time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for participant %s, upstream unavailable (retry after %s)", e.Participant, e.RetryAfter)
}

// TransientUpstreamError covers timeouts, network failures, 5xx and 429 responses.
type TransientUpstreamError struct {
	StatusCode int
	Err        error
}

func (e *TransientUpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient upstream failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream failure: %v", e.Err)
}

func (e *TransientUpstreamError) Unwrap() error {
	return e.Err
}

// PermanentUpstreamError covers 4xx responses other than 429. Never retried.
type PermanentUpstreamError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *PermanentUpstreamError) Error() string {
	return fmt.Sprintf("permanent upstream failure [%s] (status %d): %v", e.Code, e.StatusCode, e.Err)
}

func (e *PermanentUpstreamError) Unwrap() error {
	return e.Err
}

// RetriesExhaustedError is returned once the inner retry policy gave up.
// The queue processor applies its own outer backoff on top of it.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("maximum retries exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// PublishError means the broker did not acknowledge an event.
type PublishError struct {
	Topic string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s (key %s) failed: %v", e.Topic, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
