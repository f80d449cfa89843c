// Command api starts the Crimewatch Intel HTTP API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimewatch/intel/internal/config"
	"github.com/crimewatch/intel/internal/db"
	"github.com/crimewatch/intel/internal/enrich"
	"github.com/crimewatch/intel/internal/fetch"
	"github.com/crimewatch/intel/internal/handlers"
	"github.com/crimewatch/intel/internal/ingest"
	"github.com/crimewatch/intel/internal/models"
)

const (
	serviceName    = "crimewatch-intel"
	serviceVersion = "1.0.0"
)

func main() {
	// Structured logging.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Database connection.
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Data stores.
	sourceStore := models.NewSourceStore(pool)
	articleStore := models.NewArticleStore(pool)
	incidentStore := models.NewIncidentStore(pool)
	jobStore := models.NewJobStore(pool)

	// Sync the configured source list into the store on startup.
	entries, err := config.LoadSources(cfg.SourcesConfig)
	if err != nil {
		slog.Error("failed to load source config", "path", cfg.SourcesConfig, "err", err)
		os.Exit(1)
	}
	inserted, err := config.SyncSources(ctx, sourceStore, entries)
	if err != nil {
		slog.Error("failed to sync sources", "err", err)
		os.Exit(1)
	}
	slog.Info("sources synced", "configured", len(entries), "inserted", inserted)

	// Ingestion pipeline.
	fetcher := fetch.NewClient()
	defer fetcher.Close()

	registry := ingest.NewRegistry(fetcher)
	enricher := enrich.New(cfg.LLM)
	orch := ingest.NewOrchestrator(ingest.Stores{
		Sources:   sourceStore,
		Articles:  articleStore,
		Incidents: incidentStore,
	}, registry, enricher)
	runner := ingest.NewAsyncRunner(jobStore, orch)

	// Handlers.
	healthHandler := &handlers.HealthHandler{Service: serviceName, Version: serviceVersion}
	refreshHandler := &handlers.RefreshHandler{Refresher: orch, Runner: runner}
	incidentsHandler := &handlers.IncidentsHandler{Incidents: incidentStore}

	// Router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(5 * time.Minute)) // sync refresh can take a while
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", healthHandler.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/api/refresh", refreshHandler.Refresh)
	r.Post("/api/refresh-async", refreshHandler.RefreshAsync)
	r.Get("/api/refresh-status/{job_id}", refreshHandler.RefreshStatus)

	r.Get("/api/incidents", incidentsHandler.List)
	r.Get("/api/graph", incidentsHandler.Graph)
	r.Get("/api/map", incidentsHandler.Map)

	// Debug routes, dev only.
	if cfg.Dev() {
		debugHandler := &handlers.DebugHandler{
			Sources:     sourceStore,
			Registry:    registry,
			Enricher:    enricher,
			SourceStore: sourceStore,
			SourcesPath: cfg.SourcesConfig,
		}
		r.Get("/api/debug/candidates", debugHandler.Candidates)
		r.Get("/api/debug/enrichment-check", debugHandler.EnrichmentCheck)
		r.Post("/api/sources/sync", debugHandler.SyncSources)
		slog.Info("debug endpoints enabled")
	}

	// Start server.
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.ServerAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	// Let in-flight async refresh jobs reach a terminal state.
	runner.Wait()

	slog.Info("server stopped")
}
