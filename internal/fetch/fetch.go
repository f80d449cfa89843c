// Package fetch retrieves HTTP resources for the ingestion pipeline, with
// retries for transient failures and an optional headless-browser path for
// JS-rendered newsrooms.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"

	"github.com/crimewatch/intel/internal/metrics"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	defaultBudget     = 45 * time.Second
	userAgent         = "CrimewatchIntel/1.0 (+https://github.com/crimewatch/intel)"
)

// HTTPError is a non-retryable upstream status (4xx other than 408/429).
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch: %s: http status %d", e.URL, e.Status)
}

// Options controls a single fetch call. Zero values take the defaults.
type Options struct {
	Timeout    time.Duration // per-attempt timeout
	MaxRetries int           // retries after the first attempt
	Budget     time.Duration // total elapsed budget across attempts
	UseBrowser bool          // render with headless chromium instead of direct HTTP
}

// Result is a successfully fetched resource.
type Result struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// Fetcher is the retrieval contract consumed by the parsers.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error)
}

// Client fetches over direct HTTP through a Colly collector, falling through
// to a headless browser when the source asks for one.
type Client struct {
	browser *Browser
}

// NewClient creates a fetch client. The browser is started lazily on the
// first UseBrowser fetch.
func NewClient() *Client {
	return &Client{browser: newBrowser()}
}

// Close releases the headless browser, if one was ever started.
func (c *Client) Close() {
	c.browser.Close()
}

// Fetch retrieves rawURL. Connection errors, 5xx, 408 and 429 retry with
// exponential backoff (base 1s, factor 2, ±25% jitter) until MaxRetries or
// the total budget is exhausted; other 4xx surface immediately as *HTTPError.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Budget <= 0 {
		opts.Budget = defaultBudget
	}

	if opts.UseBrowser {
		return c.browser.Render(ctx, rawURL, opts.Budget)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = opts.Budget

	attempt := 0
	res, err := backoff.RetryWithData(func() (*Result, error) {
		attempt++
		metrics.FetchAttempts.Inc()
		res, err := c.fetchOnce(ctx, rawURL, opts.Timeout)
		if err == nil {
			return res, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !retryableStatus(httpErr.Status) {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		slog.Debug("fetch retrying", "url", rawURL, "attempt", attempt, "err", err)
		return nil, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(opts.MaxRetries)), ctx))
	if err != nil {
		metrics.FetchFailures.Inc()
		return nil, err
	}
	return res, nil
}

// fetchOnce performs a single direct HTTP attempt. Each attempt gets its own
// collector to avoid state leakage, mirroring one-shot page visits.
func (c *Client) fetchOnce(ctx context.Context, rawURL string, timeout time.Duration) (*Result, error) {
	col := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
	)
	col.SetRequestTimeout(timeout)

	col.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	var (
		mu       sync.Mutex
		result   *Result
		fetchErr error
	)

	col.OnResponse(func(r *colly.Response) {
		mu.Lock()
		result = &Result{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
		}
		mu.Unlock()
	})

	col.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		if r != nil && r.StatusCode > 0 {
			fetchErr = &HTTPError{Status: r.StatusCode, URL: rawURL}
		} else {
			fetchErr = fmt.Errorf("fetch: %s: %w", rawURL, err)
		}
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := col.Visit(rawURL); err != nil {
			mu.Lock()
			if fetchErr == nil && result == nil {
				fetchErr = fmt.Errorf("fetch: visit %s: %w", rawURL, err)
			}
			mu.Unlock()
		}
		col.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("fetch: %s: no response", rawURL)
	}
	return result, nil
}

// retryableStatus reports whether an upstream status should be retried like a
// transient failure.
func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}
