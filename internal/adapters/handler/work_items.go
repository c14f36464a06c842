package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/service"
)

const maxRequestBody = 1 << 20

type SyncRequest struct {
	SubjectID     string `json:"subject_id" validate:"required,max=128" example:"urn:consent:7f3a"`
	Kind          string `json:"kind" validate:"required,oneof=consent account balance transaction" example:"consent"`
	ParticipantID string `json:"participant_id" validate:"required,max=128" example:"bank-a"`
}

type WorkItemResponse struct {
	ID                string     `json:"id"`
	SubjectID         string     `json:"subject_id"`
	Kind              string     `json:"kind"`
	ParticipantID     string     `json:"participant_id"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	LastErrorCategory *string    `json:"last_error_category,omitempty"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toWorkItemResponse(w *domain.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		ID:                w.ID.String(),
		SubjectID:         w.SubjectID,
		Kind:              string(w.Kind),
		ParticipantID:     w.UpstreamParticipantID,
		Status:            string(w.Status),
		RetryCount:        w.RetryCount,
		ErrorMessage:      w.ErrorMessage,
		LastErrorCategory: w.LastErrorCategory,
		NextRetryAt:       w.NextRetryAt,
		ProcessedAt:       w.ProcessedAt,
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
	}
}

// HandleEnqueue accepts a sync request for one subject
// @Summary      Request synchronization of a subject
// @Description  Queues a work item. A subject with an active item returns that item instead of a new one.
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        X-Client-ID  header    string       false  "Client identity used for admission control"
// @Param        request      body      SyncRequest  true   "Subject to synchronize"
// @Success      202          {object}  APIResponse  "Work item queued"
// @Failure      400          {object}  APIResponse  "Invalid request"
// @Failure      429          {object}  APIResponse  "Rate limit exceeded"
// @Router       /v1/sync-requests [post]
func (h *SyncHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		respondWithError(w, domain.NewValidationError("could not read request body"))
		return
	}

	var req SyncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondWithError(w, domain.NewValidationError("request body must be valid JSON"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, domain.NewValidationError(err.Error()))
		return
	}

	item, created, err := h.syncService.Enqueue(r.Context(), service.EnqueueCommand{
		SubjectID:     req.SubjectID,
		Kind:          req.Kind,
		ParticipantID: req.ParticipantID,
	})
	if err != nil {
		h.logError(r, err)
		respondWithError(w, err)
		return
	}

	if !created {
		h.logger.Debug("sync request joined active work item", "work_item_id", item.ID)
	}
	w.Header().Set("Location", "/v1/work-items/"+item.ID.String())
	respondWithJSON(w, http.StatusAccepted, toWorkItemResponse(item))
}

// HandleGetWorkItem returns one work item
// @Summary      Get a work item
// @Tags         sync
// @Produce      json
// @Param        id   path      string       true  "Work item ID"
// @Success      200  {object}  APIResponse
// @Failure      404  {object}  APIResponse  "Work item not found"
// @Router       /v1/work-items/{id} [get]
func (h *SyncHandler) HandleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.syncService.GetWorkItem(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logError(r, err)
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWorkItemResponse(item))
}

// HandleListFailed lists items that exhausted their retry budget
// @Summary      List failed work items
// @Tags         sync
// @Produce      json
// @Param        limit  query     int          false  "Maximum number of items"
// @Success      200    {object}  APIResponse
// @Router       /v1/work-items/failed [get]
func (h *SyncHandler) HandleListFailed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 0 {
			respondWithError(w, domain.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = l
	}

	items, err := h.syncService.ListFailed(r.Context(), limit)
	if err != nil {
		h.logError(r, err)
		respondWithError(w, err)
		return
	}

	resp := make([]WorkItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toWorkItemResponse(item))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// HandleRequeue gives a failed work item a fresh retry budget
// @Summary      Requeue a failed work item
// @Tags         sync
// @Produce      json
// @Param        id   path      string       true  "Work item ID"
// @Success      200  {object}  APIResponse
// @Failure      404  {object}  APIResponse  "Work item not found"
// @Failure      409  {object}  APIResponse  "Work item is not FAILED"
// @Router       /v1/work-items/{id}/requeue [post]
func (h *SyncHandler) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	item, err := h.syncService.Requeue(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logError(r, err)
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWorkItemResponse(item))
}

func (h *SyncHandler) logError(r *http.Request, err error) {
	h.logger.Warn("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err)
}
