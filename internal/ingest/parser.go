// Package ingest implements the source-parser framework and the refresh
// orchestrator: listing discovery, article extraction, deduplicated
// persistence, and enrichment fan-out.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/crimewatch/intel/internal/fetch"
	"github.com/crimewatch/intel/internal/models"
)

var (
	// ErrUnknownParser is returned by the registry for an unregistered id.
	ErrUnknownParser = errors.New("ingest: unknown parser id")

	// ErrNoActiveSources is returned when a refresh targets a region with no
	// enabled sources.
	ErrNoActiveSources = errors.New("ingest: no active sources for region")
)

// Candidate is an article link discovered on a listing page, with whatever
// title and date text the listing exposed.
type Candidate struct {
	URL      string
	Title    string
	DateHint string
}

// Parser is the discovery-and-extract contract shared by all source
// families. FetchNew returns a finite batch of new articles, newest first
// where the listing exposes dates. The store stays authoritative on
// duplication; the since watermark is only an early-exit hint.
type Parser interface {
	ID() string
	Candidates(ctx context.Context, src models.Source) ([]Candidate, error)
	FetchNew(ctx context.Context, src models.Source, since *time.Time) ([]models.RawArticle, error)
}

// Registry maps parser ids to implementations. The set is closed at build
// time.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds the registry with every known parser family wired to
// the given fetcher.
func NewRegistry(f fetch.Fetcher) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{
		newRCMPParser(f),
		newWordPressParser(f),
		newMunicipalListParser(f),
	} {
		r.parsers[p.ID()] = p
	}
	return r
}

// Get resolves a parser id, or fails with ErrUnknownParser.
func (r *Registry) Get(id string) (Parser, error) {
	p, ok := r.parsers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParser, id)
	}
	return p, nil
}

// IDs returns the registered parser ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.parsers))
	for id := range r.parsers {
		ids = append(ids, id)
	}
	return ids
}

const (
	// maxCandidates caps how many listing entries one run will follow.
	maxCandidates = 20

	// minBodyLen rejects article pages that extracted to nearly nothing
	// (redirect shells, image-only releases).
	minBodyLen = 50

	// maxRawHTML bounds the stored page snapshot.
	maxRawHTML = 10000

	// interArticleDelay is the polite gap between article fetches within a
	// single source.
	interArticleDelay = time.Second
)

// family carries the shared per-article pipeline used by every parser
// implementation: rate-limited detail fetch, body extraction, since filter,
// fingerprinting.
type family struct {
	fetcher       fetch.Fetcher
	bodySelectors []string
}

// listingDoc fetches and parses the listing page for a source. A failure
// here aborts the source run.
func (f *family) listingDoc(ctx context.Context, src models.Source) (*goquery.Document, *url.URL, error) {
	res, err := f.fetcher.Fetch(ctx, src.BaseURL, fetch.Options{UseBrowser: src.UseBrowser})
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: listing %s: %w", src.BaseURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: parse listing %s: %w", src.BaseURL, err)
	}
	base, err := url.Parse(res.FinalURL)
	if err != nil {
		base, _ = url.Parse(src.BaseURL)
	}
	return doc, base, nil
}

// collect drives the per-article stage over discovered candidates:
// sequential within the source, one fetch per second, article failures
// logged and skipped.
func (f *family) collect(ctx context.Context, src models.Source, since *time.Time, candidates []Candidate) ([]models.RawArticle, error) {
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	limiter := rate.NewLimiter(rate.Every(interArticleDelay), 1)
	var articles []models.RawArticle

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return articles, ctx.Err()
		}

		published := ParseFlexibleDate(cand.DateHint)
		if since != nil && published != nil && !published.After(*since) {
			// Listings are newest-first; everything past the watermark is old.
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			return articles, err
		}

		article, err := f.fetchArticle(ctx, src, cand, published)
		if err != nil {
			slog.Warn("article skipped", "source", src.AgencyName, "url", cand.URL, "err", err)
			continue
		}
		if article == nil {
			continue
		}
		articles = append(articles, *article)
	}

	return articles, nil
}

// fetchArticle retrieves one article page and normalizes it to a RawArticle.
// Returns (nil, nil) when the page extracted below the minimum body length.
func (f *family) fetchArticle(ctx context.Context, src models.Source, cand Candidate, published *time.Time) (*models.RawArticle, error) {
	res, err := f.fetcher.Fetch(ctx, cand.URL, fetch.Options{UseBrowser: src.UseBrowser})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("ingest: parse article: %w", err)
	}

	title := cand.Title
	if title == "" {
		title = CollapseWhitespace(doc.Find("title").First().Text())
	}
	if published == nil {
		if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			published = ParseFlexibleDate(dt)
		}
	}

	body := ExtractMainText(doc, f.bodySelectors)
	if len(body) < minBodyLen {
		slog.Debug("article body too short, skipping", "url", cand.URL, "len", len(body))
		return nil, nil
	}

	canonical := CanonicalizeURL(cand.URL)
	return &models.RawArticle{
		SourceID:    src.ID,
		ExternalID:  Fingerprint(src.ID, canonical, title),
		URL:         canonical,
		TitleRaw:    title,
		BodyRaw:     body,
		PublishedAt: published,
		RawHTML:     clip(string(res.Body), maxRawHTML),
	}, nil
}
