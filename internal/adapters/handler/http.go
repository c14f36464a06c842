package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/service"
	"github.com/go-playground/validator"
)

type SyncService interface {
	Enqueue(ctx context.Context, cmd service.EnqueueCommand) (*domain.WorkItem, bool, error)
	GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error)
	ListFailed(ctx context.Context, limit int) ([]*domain.WorkItem, error)
	Requeue(ctx context.Context, id string) (*domain.WorkItem, error)
}

type SyncHandler struct {
	syncService SyncService
	health      *HealthHandler
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewSyncHandler(syncService SyncService, health *HealthHandler, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		health:      health,
		validate:    validator.New(),
		logger:      logger,
	}
}

func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sync-requests", h.HandleEnqueue)
	mux.HandleFunc("GET /v1/work-items/failed", h.HandleListFailed)
	mux.HandleFunc("GET /v1/work-items/{id}", h.HandleGetWorkItem)
	mux.HandleFunc("POST /v1/work-items/{id}/requeue", h.HandleRequeue)
	if h.health != nil {
		mux.HandleFunc("GET /healthz", h.health.HandleHealth)
	}
}
