package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/order-extractor/internal/database"
	"github.com/maltedev/order-extractor/internal/jobs"
)

// OutboxStats reports outbox backlog for the health check. Nil when no database is configured.
type OutboxStats interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	ctx      context.Context
	jobs     *jobs.Manager
	outbox   OutboxStats
	defaults jobs.Spec
	logger   *slog.Logger
}

// NewHandlers builds the API handlers. Runs started over HTTP live as long as ctx, not the request.
func NewHandlers(ctx context.Context, manager *jobs.Manager, outbox OutboxStats, defaults jobs.Spec, logger *slog.Logger) *Handlers {
	return &Handlers{
		ctx:      ctx,
		jobs:     manager,
		outbox:   outbox,
		defaults: defaults,
		logger:   logger.With("component", "api"),
	}
}

// CreateRunRequest overrides the configured run defaults; zero fields keep the default.
type CreateRunRequest struct {
	Label         string `json:"label"`
	StartPage     int    `json:"start_page"`
	Pages         int    `json:"pages"`
	TargetRecords int    `json:"target_records"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"runs":   h.jobs.GetStats(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "database unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		health["outbox"] = stats
		if stats.Pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if stats.DeadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	spec := h.defaults
	if req.Label != "" {
		spec.Label = req.Label
	}
	if req.StartPage > 0 {
		spec.StartPage = req.StartPage
	}
	if req.Pages > 0 {
		spec.Pages = req.Pages
	}
	if req.TargetRecords > 0 {
		spec.TargetRecords = req.TargetRecords
	}

	run, err := h.jobs.Start(h.ctx, spec)
	if errors.Is(err, jobs.ErrRunActive) {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

func (h *Handlers) CurrentRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.jobs.Current()
	if err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.jobs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) StopRun(w http.ResponseWriter, r *http.Request) {
	err := h.jobs.Stop(chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, jobs.ErrRunNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrNotRunning):
		h.respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	}
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.GetStats())
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
