package participant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

const maxBodyBytes = 4 << 20

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewHTTPClient(cfg config.ParticipantConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

// FetchSubject reads the current state of one subject from its participant.
// GET requests are idempotent, so callers may retry freely.
func (c *HTTPClient) FetchSubject(ctx context.Context, token domain.Token, participantID string, kind domain.SubjectKind, subjectID string) (*domain.SubjectSnapshot, error) {
	path := fmt.Sprintf("/participants/%s/%ss/%s",
		url.PathEscape(participantID), kind, url.PathEscape(subjectID))

	body, err := c.get(ctx, path, token)
	if err != nil {
		return nil, err
	}

	var resp subjectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.PermanentUpstreamError{
			StatusCode: http.StatusOK,
			Code:       "malformed_response",
			Err:        fmt.Errorf("error decoding json response: %w", err),
		}
	}

	return resp.toSnapshot(participantID, kind, subjectID, body, c.now().UTC()), nil
}

func (c *HTTPClient) get(ctx context.Context, path string, token domain.Token) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token.Value)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.TransientUpstreamError{Err: fmt.Errorf("error making request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.TransientUpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("error reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstreamErr := &UpstreamError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Err != "" {
			upstreamErr.Code = errResp.Err
			upstreamErr.Message = errResp.Message
		}
		return nil, Classify(upstreamErr)
	}

	return body, nil
}
