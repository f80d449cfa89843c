package ingest

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crimewatch/intel/internal/fetch"
	"github.com/crimewatch/intel/internal/models"
)

// municipalListParser reads municipal police newsrooms with list or card
// layouts (Surrey PD, Abbotsford PD). Article URLs share a news-like path
// segment; navigation chrome is filtered by a keyword blacklist.
type municipalListParser struct {
	family
}

func newMunicipalListParser(f fetch.Fetcher) *municipalListParser {
	return &municipalListParser{family: family{
		fetcher:       f,
		bodySelectors: []string{".content", "#content", "article", "main", ".main-content", ".news-content", ".release-content"},
	}}
}

func (p *municipalListParser) ID() string { return "municipal_list" }

// municipalNewsSegments mark a URL path as news-like.
var municipalNewsSegments = []string{"news", "release", "media", "announcement"}

// municipalNavTitles reject obvious navigation links by title keyword.
var municipalNavTitles = []string{"home", "about", "contact", "menu", "search", "login", "careers"}

func municipalIsArticleURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, seg := range municipalNewsSegments {
		if strings.Contains(path, seg) {
			return true
		}
	}
	return false
}

func municipalIsNavTitle(title string) bool {
	t := strings.ToLower(title)
	for _, word := range municipalNavTitles {
		if strings.Contains(t, word) {
			return true
		}
	}
	return false
}

// Candidates extracts article links from a municipal list/card layout.
func (p *municipalListParser) Candidates(ctx context.Context, src models.Source) ([]Candidate, error) {
	doc, base, err := p.listingDoc(ctx, src)
	if err != nil {
		return nil, err
	}

	cards := doc.Find("div, article, li, tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		lc := strings.ToLower(class)
		return strings.Contains(lc, "card") || strings.Contains(lc, "news") ||
			strings.Contains(lc, "release") || strings.Contains(lc, "item")
	})

	listingNorm := strings.TrimRight(src.BaseURL, "/")
	var out []Candidate
	seen := make(map[string]bool)

	add := func(card *goquery.Selection, link *goquery.Selection) {
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || len(title) < 10 || municipalIsNavTitle(title) {
			return
		}
		abs := AbsoluteURL(base, href)
		if abs == "" || strings.TrimRight(abs, "/") == listingNorm || !municipalIsArticleURL(abs) {
			return
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, Candidate{URL: abs, Title: title, DateHint: municipalDateHint(card)})
	}

	cards.Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a[href]").First()
		if link.Length() == 0 {
			card.Find("h2, h3, h4, h5").EachWithBreak(func(_ int, h *goquery.Selection) bool {
				link = h.Find("a[href]").First()
				return link.Length() == 0
			})
		}
		if link.Length() > 0 {
			add(card, link)
		}
	})

	// Sparse layouts: fall back to scanning every anchor for news-like paths.
	if len(out) == 0 {
		doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			add(link.Parent(), link)
		})
	}

	return out, nil
}

func municipalDateHint(card *goquery.Selection) string {
	if d := card.Find(`[class*="date"], [class*="Date"]`).First(); d.Length() > 0 {
		return strings.TrimSpace(d.Text())
	}
	if t := card.Find("time").First(); t.Length() > 0 {
		if dt, ok := t.Attr("datetime"); ok && dt != "" {
			return dt
		}
		return strings.TrimSpace(t.Text())
	}
	// Last resort: a date-looking fragment anywhere in the card text.
	if dt := ParseFlexibleDate(card.Text()); dt != nil {
		return dt.Format(time.RFC3339)
	}
	return ""
}

// FetchNew discovers and fetches new articles for a municipal source.
func (p *municipalListParser) FetchNew(ctx context.Context, src models.Source, since *time.Time) ([]models.RawArticle, error) {
	candidates, err := p.Candidates(ctx, src)
	if err != nil {
		return nil, err
	}
	return p.collect(ctx, src, since, candidates)
}
