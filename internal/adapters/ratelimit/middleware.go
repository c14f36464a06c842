package ratelimit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

const ClientIDHeader = "X-Client-ID"

// KeyFunc extracts the client identity a request is charged to.
type KeyFunc func(r *http.Request) string

// ClientKey uses the X-Client-ID header, falling back to the remote IP.
func ClientKey(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the client's budget with 429 and a
// Retry-After header. Rejected requests never reach next.
func Middleware(gate *Gate, logger *slog.Logger, keyFunc KeyFunc) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ClientKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := keyFunc(r)
			err := gate.Admit(clientID)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var rejected *domain.AdmissionRejectedError
			retryAfter := 1
			if errors.As(err, &rejected) {
				retryAfter = int(math.Max(1, math.Ceil(rejected.RetryAfter.Seconds())))
			}

			logger.Warn("request rejected by admission gate",
				"client_id", clientID,
				"method", r.Method,
				"path", r.URL.Path,
				"retry_after_seconds", retryAfter)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error": map[string]string{
					"code":    domain.ErrCodeRateLimited,
					"message": err.Error(),
				},
			})
		})
	}
}
