// Command worker runs scheduled region refreshes: it periodically scrapes
// every configured newsroom, enriches new articles, and cleans up old jobs.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/crimewatch/intel/internal/config"
	"github.com/crimewatch/intel/internal/db"
	"github.com/crimewatch/intel/internal/enrich"
	"github.com/crimewatch/intel/internal/fetch"
	"github.com/crimewatch/intel/internal/ingest"
	"github.com/crimewatch/intel/internal/models"
)

// jobRetention is how long terminal refresh jobs are kept before cleanup.
const jobRetention = 7 * 24 * time.Hour

func main() {
	// Structured JSON logging.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("worker: starting crimewatch worker")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("worker: failed to load configuration", "err", err)
		os.Exit(1)
	}

	// Root context, cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the database.
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("worker: database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Stores.
	sourceStore := models.NewSourceStore(pool)
	articleStore := models.NewArticleStore(pool)
	incidentStore := models.NewIncidentStore(pool)
	jobStore := models.NewJobStore(pool)

	// Sync the configured source list.
	entries, err := config.LoadSources(cfg.SourcesConfig)
	if err != nil {
		slog.Error("worker: failed to load source config", "path", cfg.SourcesConfig, "err", err)
		os.Exit(1)
	}
	if _, err := config.SyncSources(ctx, sourceStore, entries); err != nil {
		slog.Error("worker: failed to sync sources", "err", err)
		os.Exit(1)
	}

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

	refreshAll := func(jobCtx context.Context) {
		regions, err := sourceStore.DistinctRegions(jobCtx)
		if err != nil {
			slog.Error("worker: list regions", "err", err)
			return
		}
		for _, region := range regions {
			result, err := orch.Refresh(jobCtx, region)
			if err != nil {
				slog.Error("worker: region refresh failed", "region", region, "err", err)
				continue
			}
			slog.Info("worker: region refreshed",
				"region", region,
				"new_articles", result.NewArticles,
				"total_incidents", result.TotalIncidents,
			)
		}
	}

	// Track in-flight jobs for graceful shutdown.
	var wg sync.WaitGroup

	// Cron scheduler (standard 5-field expressions).
	c := cron.New()

	// Refresh every region every 2 hours.
	_, err = c.AddFunc("0 */2 * * *", func() {
		wg.Add(1)
		defer wg.Done()

		jobCtx, jobCancel := context.WithTimeout(ctx, time.Hour)
		defer jobCancel()

		slog.Info("cron: refresh job triggered")
		refreshAll(jobCtx)
	})
	if err != nil {
		slog.Error("worker: add refresh cron", "err", err)
		os.Exit(1)
	}

	// Job registry cleanup: daily at 3am.
	_, err = c.AddFunc("0 3 * * *", func() {
		wg.Add(1)
		defer wg.Done()

		jobCtx, jobCancel := context.WithTimeout(ctx, 5*time.Minute)
		defer jobCancel()

		cutoff := time.Now().Add(-jobRetention)
		deleted, err := jobStore.DeleteTerminalOlderThan(jobCtx, cutoff)
		if err != nil {
			slog.Error("cron: job cleanup failed", "err", err)
			return
		}
		slog.Info("cron: job cleanup complete", "deleted", deleted)
	})
	if err != nil {
		slog.Error("worker: add job cleanup cron", "err", err)
		os.Exit(1)
	}

	c.Start()
	slog.Info("worker: cron scheduler started", "jobs", len(c.Entries()))

	// Prometheus metrics endpoint.
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		slog.Info("worker: metrics server starting", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker: metrics server error", "err", err)
		}
	}()

	// Run an initial refresh on startup so we don't wait for the first tick.
	wg.Add(1)
	go func() {
		defer wg.Done()

		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}

		jobCtx, jobCancel := context.WithTimeout(ctx, time.Hour)
		defer jobCancel()

		slog.Info("worker: running initial refresh on startup")
		refreshAll(jobCtx)
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	slog.Info("worker: received shutdown signal", "signal", sig.String())

	slog.Info("worker: stopping cron scheduler")
	cronCtx := c.Stop()

	// Cancel the root context to signal in-flight jobs to stop.
	cancel()

	select {
	case <-cronCtx.Done():
		slog.Info("worker: cron scheduler stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("worker: cron scheduler stop timed out")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker: all in-flight jobs complete")
	case <-time.After(60 * time.Second):
		slog.Warn("worker: timed out waiting for in-flight jobs")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker: metrics server shutdown", "err", err)
	}

	pool.Close()
	slog.Info("worker: shutdown complete")
}
