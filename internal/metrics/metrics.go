// Package metrics exposes the pipeline's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts individual HTTP fetch attempts, retries included.
	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crimewatch_fetch_attempts_total",
		Help: "HTTP fetch attempts, including retries.",
	})

	// FetchFailures counts fetch calls that exhausted their retry budget.
	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crimewatch_fetch_failures_total",
		Help: "Fetch calls that failed after all retries.",
	})

	// ArticlesIngested counts newly inserted raw articles.
	ArticlesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crimewatch_articles_ingested_total",
		Help: "Raw articles inserted into the store.",
	})

	// EnrichmentFallbacks counts incidents stored with stub enrichment.
	EnrichmentFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crimewatch_enrichment_fallbacks_total",
		Help: "Incidents stored with stub enrichment after an LLM failure or missing credentials.",
	})

	// RefreshRuns counts region refreshes by outcome.
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crimewatch_refresh_runs_total",
		Help: "Region refresh runs by outcome.",
	}, []string{"outcome"})

	// SourceRunFailures counts per-source runs that ended in a non-OK state.
	SourceRunFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crimewatch_source_run_failures_total",
		Help: "Source runs that ended in a failure state, by state.",
	}, []string{"state"})
)
