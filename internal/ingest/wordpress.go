package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crimewatch/intel/internal/fetch"
	"github.com/crimewatch/intel/internal/models"
)

// wordpressParser reads blog-style newsrooms (VPD and similar). Modern WP
// themes wrap each release in an <article> with a <time> element; the body
// lives in .entry-content or .post-content.
type wordpressParser struct {
	family
}

func newWordPressParser(f fetch.Fetcher) *wordpressParser {
	return &wordpressParser{family: family{
		fetcher:       f,
		bodySelectors: []string{".entry-content", ".post-content", "article", "main"},
	}}
}

func (p *wordpressParser) ID() string { return "wordpress" }

// Candidates extracts article cards from a WordPress listing page.
func (p *wordpressParser) Candidates(ctx context.Context, src models.Source) ([]Candidate, error) {
	doc, base, err := p.listingDoc(ctx, src)
	if err != nil {
		return nil, err
	}

	cards := doc.Find("article")
	if cards.Length() == 0 {
		cards = doc.Find("div, li").FilterFunction(func(_ int, s *goquery.Selection) bool {
			class, _ := s.Attr("class")
			lc := strings.ToLower(class)
			return strings.Contains(lc, "post") || strings.Contains(lc, "article") || strings.Contains(lc, "news")
		})
	}

	var out []Candidate
	seen := make(map[string]bool)

	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		link := card.Find("a[href]").First()
		if link.Length() == 0 {
			if h := card.Find("h2, h3, h4").First(); h.Length() > 0 {
				link = h.Find("a[href]").First()
			}
		}
		if link.Length() == 0 {
			return true
		}

		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || len(title) < 10 {
			return true
		}
		abs := AbsoluteURL(base, href)
		if abs == "" || seen[abs] {
			return true
		}
		seen[abs] = true

		dateHint := ""
		if t := card.Find("time[datetime]").First(); t.Length() > 0 {
			dateHint, _ = t.Attr("datetime")
		}
		if dateHint == "" {
			if d := card.Find(`[class*="date"], [class*="Date"]`).First(); d.Length() > 0 {
				dateHint = strings.TrimSpace(d.Text())
			}
		}

		out = append(out, Candidate{URL: abs, Title: title, DateHint: dateHint})
		return len(out) < maxCandidates
	})

	return out, nil
}

// FetchNew discovers and fetches new articles for a WordPress source.
func (p *wordpressParser) FetchNew(ctx context.Context, src models.Source, since *time.Time) ([]models.RawArticle, error) {
	candidates, err := p.Candidates(ctx, src)
	if err != nil {
		return nil, err
	}
	return p.collect(ctx, src, since, candidates)
}
