package ingest

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crimewatch/intel/internal/fetch"
	"github.com/crimewatch/intel/internal/models"
)

// rcmpParser reads RCMP detachment newsrooms. The listing pages are
// JS-rendered, so sources using this family set use_browser. Real articles
// live under /news/ paths or /node/<digits> and carry reasonably long titles;
// everything else on the page is navigation.
type rcmpParser struct {
	family
}

func newRCMPParser(f fetch.Fetcher) *rcmpParser {
	return &rcmpParser{family: family{
		fetcher:       f,
		bodySelectors: []string{"article", "main", ".content", ".main-content", ".article-content"},
	}}
}

func (p *rcmpParser) ID() string { return "rcmp" }

var rcmpNodePath = regexp.MustCompile(`/node/\d+`)

// rcmpBadTitles are utility links that show up inside news-card markup.
var rcmpBadTitles = []string{
	"newsroom archive",
	"social media",
	"british columbia rcmp",
	"about this site",
}

func rcmpIsArticleHref(href string) bool {
	if href == "" {
		return false
	}
	path := href
	if i := strings.Index(href, "://"); i >= 0 {
		path = href[i+3:]
	}
	if rcmpNodePath.MatchString(path) {
		return true
	}
	if !strings.Contains(path, "/news/") {
		return false
	}
	return strings.ContainsAny(path, "0123456789")
}

func rcmpIsBadTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if len(t) < 15 {
		// Very short anchors are almost always nav.
		return true
	}
	for _, bad := range rcmpBadTitles {
		if strings.Contains(t, bad) {
			return true
		}
	}
	return false
}

// Candidates extracts article links from an RCMP listing page. It prefers
// news-card structures and falls back to a bare anchor scan when the page
// layout carries none.
func (p *rcmpParser) Candidates(ctx context.Context, src models.Source) ([]Candidate, error) {
	doc, base, err := p.listingDoc(ctx, src)
	if err != nil {
		return nil, err
	}

	listingNorm := strings.TrimRight(src.BaseURL, "/")
	var out []Candidate
	seen := make(map[string]bool)

	add := func(href, title, dateHint string) {
		abs := AbsoluteURL(base, href)
		if abs == "" || strings.TrimRight(abs, "/") == listingNorm {
			return
		}
		if !rcmpIsArticleHref(abs) || rcmpIsBadTitle(title) {
			return
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, Candidate{URL: abs, Title: strings.TrimSpace(title), DateHint: dateHint})
	}

	// Pass 1: card/list structures whose class mentions news, article or item.
	doc.Find("article, li, div").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		lc := strings.ToLower(class)
		if !strings.Contains(lc, "news") && !strings.Contains(lc, "article") && !strings.Contains(lc, "item") {
			return
		}
		link := s.Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		if len(title) < 20 {
			if h := s.Find("h1, h2, h3, h4").First(); h.Length() > 0 {
				title = strings.TrimSpace(h.Text())
			}
		}
		add(href, title, rcmpDateHint(s))
	})

	// Pass 2: bare anchors, when the listing exposes no card markup.
	if len(out) == 0 {
		doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			title := strings.TrimSpace(link.Text())
			if len(title) < 20 {
				if parent := link.ParentsFiltered("article, div, li").First(); parent.Length() > 0 {
					if h := parent.Find("h1, h2, h3, h4").First(); h.Length() > 0 {
						title = strings.TrimSpace(h.Text())
					}
				}
			}
			add(href, title, "")
		})
	}

	return out, nil
}

var rcmpMonthDate = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}`)

func rcmpDateHint(s *goquery.Selection) string {
	if t := s.Find("time").First(); t.Length() > 0 {
		if dt, ok := t.Attr("datetime"); ok && dt != "" {
			return dt
		}
		return strings.TrimSpace(t.Text())
	}
	return rcmpMonthDate.FindString(s.Text())
}

// FetchNew discovers and fetches new articles for an RCMP source.
func (p *rcmpParser) FetchNew(ctx context.Context, src models.Source, since *time.Time) ([]models.RawArticle, error) {
	candidates, err := p.Candidates(ctx, src)
	if err != nil {
		return nil, err
	}
	return p.collect(ctx, src, since, candidates)
}
