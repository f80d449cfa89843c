package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/crimewatch/intel/internal/models"
	"github.com/crimewatch/intel/internal/view"
)

const (
	defaultIncidentLimit = 100
	maxIncidentLimit     = 500
)

// IncidentReader lists joined incident rows. *models.IncidentStore
// satisfies it.
type IncidentReader interface {
	ListByRegion(ctx context.Context, region string, limit int) ([]models.IncidentRow, error)
}

// IncidentsHandler serves the read-only query surface: incident list, derived
// graph, and map markers.
type IncidentsHandler struct {
	Incidents IncidentReader
}

func (h *IncidentsHandler) loadRows(w http.ResponseWriter, r *http.Request, limit int) (string, []models.IncidentRow, bool) {
	region := r.URL.Query().Get("region")
	if region == "" {
		writeError(w, http.StatusUnprocessableEntity, "region is required")
		return "", nil, false
	}

	rows, err := h.Incidents.ListByRegion(r.Context(), region, limit)
	if err != nil {
		slog.Error("list incidents", "region", region, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load incidents")
		return "", nil, false
	}
	return region, rows, true
}

// List handles GET /api/incidents?region=&limit=.
func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultIncidentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxIncidentLimit {
			writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	region, rows, ok := h.loadRows(w, r, limit)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"region":    region,
		"incidents": view.Incidents(rows),
	})
}

// Graph handles GET /api/graph?region=.
func (h *IncidentsHandler) Graph(w http.ResponseWriter, r *http.Request) {
	region, rows, ok := h.loadRows(w, r, maxIncidentLimit)
	if !ok {
		return
	}

	nodes, links := view.Graph(rows)
	writeJSON(w, http.StatusOK, map[string]any{
		"region": region,
		"nodes":  nodes,
		"links":  links,
	})
}

// Map handles GET /api/map?region=.
func (h *IncidentsHandler) Map(w http.ResponseWriter, r *http.Request) {
	region, rows, ok := h.loadRows(w, r, maxIncidentLimit)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"region":  region,
		"markers": view.Markers(rows),
	})
}
