package domain

import (
	"context"
	"errors"
)

// ErrorCategory represents the nature of an error for retry logic
type ErrorCategory string

const (
	CategoryTransient   ErrorCategory = "TRANSIENT"
	CategoryPermanent   ErrorCategory = "PERMANENT"
	CategoryUnavailable ErrorCategory = "UNAVAILABLE"
	CategoryExhausted   ErrorCategory = "RETRIES_EXHAUSTED"
	CategoryAuth        ErrorCategory = "AUTH"
	CategoryRateLimited ErrorCategory = "RATE_LIMITED"
	CategoryPublish     ErrorCategory = "PUBLISH"
)

// CategorizeError determines error category for retry and logging purposes
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var (
		admission *AdmissionRejectedError
		auth      *AuthError
		open      *CircuitOpenError
		exhausted *RetriesExhaustedError
		permanent *PermanentUpstreamError
		transient *TransientUpstreamError
		publish   *PublishError
	)

	switch {
	case errors.As(err, &admission):
		return CategoryRateLimited
	case errors.As(err, &open):
		return CategoryUnavailable
	case errors.As(err, &exhausted):
		return CategoryExhausted
	case errors.As(err, &permanent):
		return CategoryPermanent
	case errors.As(err, &transient):
		return CategoryTransient
	case errors.As(err, &auth):
		return CategoryAuth
	case errors.As(err, &publish):
		return CategoryPublish
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	}

	// Default: Transient (safe fallback)
	return CategoryTransient
}

// IsRetryable reports whether a single upstream call may be attempted again.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return CategorizeError(err) == CategoryTransient
}
