package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crimewatch/intel/internal/ingest"
	"github.com/crimewatch/intel/internal/models"
)

// Refresher runs a synchronous region refresh. *ingest.Orchestrator
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, region string) (*ingest.RefreshResult, error)
}

// JobRunner starts and polls async refresh jobs. *ingest.AsyncRunner
// satisfies it.
type JobRunner interface {
	Start(ctx context.Context, region string) (*models.RefreshJob, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.RefreshJob, error)
}

// RefreshHandler groups the refresh HTTP handlers.
type RefreshHandler struct {
	Refresher Refresher
	Runner    JobRunner
}

type refreshRequest struct {
	Region string `json:"region"`
}

func decodeRegion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return "", false
	}
	if req.Region == "" {
		writeError(w, http.StatusUnprocessableEntity, "region is required")
		return "", false
	}
	return req.Region, true
}

// Refresh handles POST /api/refresh — a synchronous region refresh.
func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	region, ok := decodeRegion(w, r)
	if !ok {
		return
	}

	result, err := h.Refresher.Refresh(r.Context(), region)
	if err != nil {
		if errors.Is(err, ingest.ErrNoActiveSources) {
			writeError(w, http.StatusNotFound, "no active sources for region: "+region)
			return
		}
		slog.Error("refresh failed", "region", region, "err", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RefreshAsync handles POST /api/refresh-async — starts a background job.
func (h *RefreshHandler) RefreshAsync(w http.ResponseWriter, r *http.Request) {
	region, ok := decodeRegion(w, r)
	if !ok {
		return
	}

	job, err := h.Runner.Start(r.Context(), region)
	if err != nil {
		slog.Error("start async refresh", "region", region, "err", err)
		writeError(w, http.StatusInternalServerError, "could not start refresh job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.JobID,
		"region":  job.Region,
		"status":  job.Status,
		"message": "refresh started; poll /api/refresh-status/" + job.JobID.String(),
	})
}

// RefreshStatus handles GET /api/refresh-status/{job_id}.
func (h *RefreshHandler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid job id")
		return
	}

	job, err := h.Runner.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found: "+jobID.String())
			return
		}
		slog.Error("get refresh job", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}
