package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// settleDelay approximates "network idle": RCMP listing pages populate their
// news cards shortly after the initial document load.
const settleDelay = 1500 * time.Millisecond

// Browser renders pages in headless chromium. A single shared allocator is
// started lazily; each Render call runs in its own tab context.
type Browser struct {
	once     sync.Once
	allocCtx context.Context
	cancel   context.CancelFunc
}

func newBrowser() *Browser {
	return &Browser{}
}

func (b *Browser) init() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(userAgent),
		chromedp.NoSandbox,
	)
	b.allocCtx, b.cancel = chromedp.NewExecAllocator(context.Background(), opts...)
}

// Render navigates to rawURL, waits for the page to settle, and returns the
// rendered HTML. The status code is reported as 200: chromium follows
// redirects and error pages fail navigation outright.
func (b *Browser) Render(ctx context.Context, rawURL string, budget time.Duration) (*Result, error) {
	b.once.Do(b.init)

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx)
	defer tabCancel()

	// Tie the tab lifetime to the caller's deadline.
	go func() {
		<-ctx.Done()
		tabCancel()
	}()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch: render %s: %w", rawURL, err)
	}

	return &Result{
		StatusCode: http.StatusOK,
		Body:       []byte(html),
		FinalURL:   rawURL,
	}, nil
}

// Close shuts the shared allocator down.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}
