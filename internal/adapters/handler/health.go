package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/resilience"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type CircuitReporter interface {
	Snapshots() []resilience.CircuitState
}

type HealthHandler struct {
	db       Pinger
	circuits CircuitReporter
}

func NewHealthHandler(db Pinger, circuits CircuitReporter) *HealthHandler {
	return &HealthHandler{db: db, circuits: circuits}
}

type HealthResponse struct {
	Database string                    `json:"database"`
	Circuits []resilience.CircuitState `json:"circuits"`
}

// HandleHealth reports database reachability and the state of every circuit.
// Open circuits do not make the service unhealthy.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Database: "up", Circuits: []resilience.CircuitState{}}
	if h.circuits != nil {
		resp.Circuits = h.circuits.Snapshots()
	}

	if err := h.db.Ping(ctx); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, &APIError{
			Code:    "UNHEALTHY",
			Message: "database unreachable",
		})
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}
