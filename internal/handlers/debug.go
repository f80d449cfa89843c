package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/crimewatch/intel/internal/config"
	"github.com/crimewatch/intel/internal/enrich"
	"github.com/crimewatch/intel/internal/ingest"
	"github.com/crimewatch/intel/internal/models"
)

// SourceReader fetches source descriptors. *models.SourceStore satisfies it.
type SourceReader interface {
	GetByID(ctx context.Context, id int) (*models.Source, error)
}

// DebugHandler serves the dev-only diagnostic endpoints. Never mounted
// outside the dev environment.
type DebugHandler struct {
	Sources     SourceReader
	Registry    *ingest.Registry
	Enricher    *enrich.Enricher
	SourceStore *models.SourceStore
	SourcesPath string
}

// Candidates handles GET /api/debug/candidates?source_id= — runs candidate
// discovery for one source without touching storage.
func (h *DebugHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("source_id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "source_id must be an integer")
		return
	}

	src, err := h.Sources.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		slog.Error("debug candidates: load source", "source_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load source")
		return
	}

	parser, err := h.Registry.Get(src.ParserID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unknown parser: "+src.ParserID)
		return
	}

	candidates, err := parser.Candidates(r.Context(), *src)
	if err != nil {
		slog.Error("debug candidates: discovery", "source", src.AgencyName, "err", err)
		writeError(w, http.StatusBadGateway, "candidate discovery failed: "+err.Error())
		return
	}

	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		urls = append(urls, c.URL)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_id":  src.ID,
		"agency":     src.AgencyName,
		"parser_id":  src.ParserID,
		"candidates": urls,
	})
}

// EnrichmentCheck handles GET /api/debug/enrichment-check — a live self-test
// of the LLM path.
func (h *DebugHandler) EnrichmentCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Enricher.SelfTest(r.Context()))
}

// SyncSources handles POST /api/sources/sync — re-reads the source config
// file and upserts it into the store.
func (h *DebugHandler) SyncSources(w http.ResponseWriter, r *http.Request) {
	entries, err := config.LoadSources(h.SourcesPath)
	if err != nil {
		slog.Error("sync sources: load config", "path", h.SourcesPath, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load source config")
		return
	}

	inserted, err := config.SyncSources(r.Context(), h.SourceStore, entries)
	if err != nil {
		slog.Error("sync sources: upsert", "err", err)
		writeError(w, http.StatusInternalServerError, "could not sync sources")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"configured": len(entries),
		"inserted":   inserted,
	})
}
