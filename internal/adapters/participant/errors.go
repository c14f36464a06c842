package participant

import (
	"fmt"
	"net/http"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// UpstreamError is a non-2xx answer from a participant.
type UpstreamError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("participant error: %s (status: %d)", e.Message, e.StatusCode)
}

type errorResponse struct {
	Err     string `json:"error"`
	Message string `json:"message"`
}

// Classify maps an upstream answer into the domain taxonomy: 5xx and 429 are
// transient, every other 4xx is permanent.
func Classify(e *UpstreamError) error {
	if e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests {
		return &domain.TransientUpstreamError{StatusCode: e.StatusCode, Err: e}
	}
	return &domain.PermanentUpstreamError{StatusCode: e.StatusCode, Code: e.Code, Err: e}
}
