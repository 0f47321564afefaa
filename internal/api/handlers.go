// Package api provides the admin REST API for export schedules.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/schedules"
)

// defaultPreviewCount is the number of instants a preview returns when the
// count parameter is omitted.
const defaultPreviewCount = 5

// Handler handles API requests.
type Handler struct {
	svc    *schedules.Service
	logger zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *schedules.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Response is the envelope of every API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// ListSchedulesResponse is the response for listing schedules.
type ListSchedulesResponse struct {
	Schedules []*models.Schedule `json:"schedules"`
	Total     int                `json:"total"`
}

// PreviewResponse lists upcoming due instants of a schedule.
type PreviewResponse struct {
	ScheduleID string      `json:"schedule_id"`
	Runs       []time.Time `json:"runs"`
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		},
	})
}

// ListSchedules handles GET /api/v1/schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if h.HandleError(w, err, "list schedules") {
		return
	}
	if list == nil {
		list = []*models.Schedule{}
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    ListSchedulesResponse{Schedules: list, Total: len(list)},
	})
}

// CreateSchedule handles POST /api/v1/schedules.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var in schedules.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}

	sched, err := h.svc.Create(r.Context(), in)
	if h.HandleError(w, err, "create schedule") {
		return
	}

	w.Header().Set("Location", "/api/v1/schedules/"+sched.ID)
	h.writeJSON(w, http.StatusCreated, Response{Success: true, Data: sched})
}

// GetSchedule handles GET /api/v1/schedules/{id}.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if h.HandleError(w, err, "get schedule") {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: sched})
}

// UpdateSchedule handles PUT /api/v1/schedules/{id}.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var in schedules.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}

	sched, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if h.HandleError(w, err, "update schedule") {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: sched})
}

// DeleteSchedule handles DELETE /api/v1/schedules/{id}.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if h.HandleError(w, h.svc.Delete(r.Context(), chi.URLParam(r, "id")), "delete schedule") {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseSchedule handles POST /api/v1/schedules/{id}/pause.
func (h *Handler) PauseSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.svc.Pause(r.Context(), chi.URLParam(r, "id"))
	if h.HandleError(w, err, "pause schedule") {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: sched})
}

// ResumeSchedule handles POST /api/v1/schedules/{id}/resume.
func (h *Handler) ResumeSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.svc.Resume(r.Context(), chi.URLParam(r, "id"))
	if h.HandleError(w, err, "resume schedule") {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: sched})
}

// CompleteSchedule handles POST /api/v1/schedules/{id}/complete.
func (h *Handler) CompleteSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.svc.Complete(r.Context(), chi.URLParam(r, "id"))
	if h.HandleError(w, err, "complete schedule") {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: sched})
}

// PreviewSchedule handles GET /api/v1/schedules/{id}/preview?count=n.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	count := defaultPreviewCount
	if c := r.URL.Query().Get("count"); c != "" {
		parsed, err := strconv.Atoi(c)
		if err != nil || parsed < 1 {
			h.WriteAPIError(w, NewInvalidParameterError("count must be a positive integer"))
			return
		}
		count = parsed
	}

	id := chi.URLParam(r, "id")
	runs, err := h.svc.Preview(r.Context(), id, count)
	if h.HandleError(w, err, "preview schedule") {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    PreviewResponse{ScheduleID: id, Runs: runs},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
