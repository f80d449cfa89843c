package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crimewatch/intel/internal/metrics"
	"github.com/crimewatch/intel/internal/models"
)

const (
	// defaultFanOut bounds how many sources refresh concurrently.
	defaultFanOut = 4

	// defaultSourceTimeout is the per-source deadline.
	defaultSourceTimeout = 45 * time.Second
)

// SourceStore is the source surface the orchestrator needs.
type SourceStore interface {
	ListActiveByRegion(ctx context.Context, region string) ([]models.Source, error)
	Touch(ctx context.Context, id int, at time.Time) error
}

// ArticleStore is the dedup/persistence surface for raw articles.
type ArticleStore interface {
	Upsert(ctx context.Context, a *models.RawArticle) (bool, error)
}

// IncidentStore is the enrichment bookkeeping surface.
type IncidentStore interface {
	Create(ctx context.Context, inc *models.EnrichedIncident) error
	CountByRegion(ctx context.Context, region string) (int, error)
}

// Enricher turns a stored article into a structured incident. Implementations
// never fail: unrecoverable LLM errors fall back to a stub record.
type Enricher interface {
	Enrich(ctx context.Context, article *models.RawArticle, src models.Source) *models.EnrichedIncident
}

// Stores groups the persistence surfaces used by a refresh.
type Stores struct {
	Sources   SourceStore
	Articles  ArticleStore
	Incidents IncidentStore
}

// RefreshResult is the aggregate outcome of one region refresh.
type RefreshResult struct {
	Region         string `json:"region"`
	NewArticles    int    `json:"new_articles"`
	TotalIncidents int    `json:"total_incidents"`
}

// sourceState classifies how one source run ended. All states are non-fatal
// to the region refresh.
type sourceState string

const (
	stateOK             sourceState = "ok"
	stateParserUnknown  sourceState = "parser_unknown"
	stateListingFailed  sourceState = "listing_fetch_failed"
	stateTimeout        sourceState = "timeout"
	statePartialSuccess sourceState = "partial_success"
)

// Orchestrator drives parse → dedup → enrich → store for every active source
// in a region, with bounded fan-out and per-source deadlines.
type Orchestrator struct {
	stores        Stores
	registry      *Registry
	enricher      Enricher
	fanOut        int
	sourceTimeout time.Duration

	// Concurrent refreshes of the same region serialize on a per-region
	// mutex so a race cannot double-spend LLM calls on the same article.
	// Store uniqueness remains the correctness backstop across processes.
	mu        sync.Mutex
	regionMus map[string]*sync.Mutex
}

// NewOrchestrator creates a refresh orchestrator with default limits.
func NewOrchestrator(stores Stores, registry *Registry, enricher Enricher) *Orchestrator {
	return &Orchestrator{
		stores:        stores,
		registry:      registry,
		enricher:      enricher,
		fanOut:        defaultFanOut,
		sourceTimeout: defaultSourceTimeout,
		regionMus:     make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) regionLock(region string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.regionMus[region]
	if !ok {
		m = &sync.Mutex{}
		o.regionMus[region] = m
	}
	return m
}

// Refresh ingests every active source for a region and returns honest
// aggregate counts. Individual source failures lower new_articles; only a
// region with no active sources fails, with ErrNoActiveSources.
func (o *Orchestrator) Refresh(ctx context.Context, region string) (*RefreshResult, error) {
	lock := o.regionLock(region)
	lock.Lock()
	defer lock.Unlock()

	sources, err := o.stores.Sources.ListActiveByRegion(ctx, region)
	if err != nil {
		metrics.RefreshRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ingest: refresh %s: %w", region, err)
	}
	if len(sources) == 0 {
		metrics.RefreshRuns.WithLabelValues("no_sources").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSources, region)
	}

	slog.Info("refresh: starting", "region", region, "sources", len(sources))
	start := time.Now()

	var newArticles atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.fanOut)

	for _, src := range sources {
		src := src
		g.Go(func() error {
			inserted, state := o.runSource(gctx, src)
			newArticles.Add(int64(inserted))
			if state != stateOK {
				metrics.SourceRunFailures.WithLabelValues(string(state)).Inc()
			}
			// Source failures never fail the region.
			return nil
		})
	}
	// Tasks never return errors; Wait only propagates parent cancellation.
	if err := g.Wait(); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	total, err := o.stores.Incidents.CountByRegion(ctx, region)
	if err != nil {
		metrics.RefreshRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ingest: count incidents %s: %w", region, err)
	}

	metrics.RefreshRuns.WithLabelValues("ok").Inc()
	slog.Info("refresh: complete",
		"region", region,
		"new_articles", newArticles.Load(),
		"total_incidents", total,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &RefreshResult{
		Region:         region,
		NewArticles:    int(newArticles.Load()),
		TotalIncidents: total,
	}, nil
}

// runSource executes one bounded source task: resolve parser, fetch new
// articles, upsert, enrich what was inserted. The watermark advances at the
// end of every attempted run, including failed ones; repeated failures are
// surfaced through logs and metrics rather than a stale last_checked_at.
func (o *Orchestrator) runSource(ctx context.Context, src models.Source) (int, sourceState) {
	ctx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
	defer cancel()

	defer func() {
		// Touch with a fresh context: the per-source deadline may already
		// have fired.
		touchCtx, touchCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer touchCancel()
		if err := o.stores.Sources.Touch(touchCtx, src.ID, time.Now()); err != nil {
			slog.Error("refresh: touch source", "source", src.AgencyName, "err", err)
		}
	}()

	parser, err := o.registry.Get(src.ParserID)
	if err != nil {
		slog.Warn("refresh: unknown parser, skipping source",
			"source", src.AgencyName, "parser_id", src.ParserID)
		return 0, stateParserUnknown
	}

	articles, err := parser.FetchNew(ctx, src, src.LastCheckedAt)
	if err != nil {
		state := stateListingFailed
		if errors.Is(err, context.DeadlineExceeded) {
			state = stateTimeout
		}
		if len(articles) == 0 {
			slog.Error("refresh: source run failed",
				"source", src.AgencyName, "state", string(state), "err", err)
			return 0, state
		}
		// Articles fetched before the cutoff still count.
		slog.Warn("refresh: source run truncated",
			"source", src.AgencyName, "fetched", len(articles), "err", err)
	}

	inserted := 0
	partial := false
	for i := range articles {
		article := &articles[i]
		isNew, err := o.stores.Articles.Upsert(ctx, article)
		if err != nil {
			slog.Error("refresh: upsert article", "url", article.URL, "err", err)
			partial = true
			continue
		}
		if !isNew {
			continue
		}

		incident := o.enricher.Enrich(ctx, article, src)
		if err := o.stores.Incidents.Create(ctx, incident); err != nil {
			if errors.Is(err, models.ErrConflict) {
				// Benign race with another writer; the article is covered.
				slog.Warn("refresh: incident already enriched", "article_id", article.ID)
			} else {
				slog.Error("refresh: store incident", "article_id", article.ID, "err", err)
				partial = true
			}
			continue
		}

		inserted++
		metrics.ArticlesIngested.Inc()
		slog.Info("refresh: article ingested",
			"source", src.AgencyName,
			"title", truncate(article.TitleRaw, 80),
			"severity", incident.Severity,
		)
	}

	if partial {
		return inserted, statePartialSuccess
	}
	return inserted, stateOK
}
