package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// CanonicalizeURL normalizes an article URL for fingerprinting: scheme and
// host are lowercased, the fragment is dropped, and a trailing slash is
// stripped from the path. The query string is preserved because RCMP article
// identity lives in query parameters.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Fingerprint computes the deterministic external id of an article:
// hex-encoded SHA-256 of "<source_id>|<canonical_url>|<title>". Stable across
// processes; any one-character change in URL or title changes the id.
func Fingerprint(sourceID int, canonicalURL, title string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", sourceID, canonicalURL, title)))
	return hex.EncodeToString(sum[:])
}

// AbsoluteURL resolves href against base, returning "" for unusable links
// (tel:, mailto:, javascript:, bare fragments, or unparseable values).
func AbsoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"tel:", "mailto:", "javascript:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// datePatterns pull date-looking substrings out of surrounding text before
// handing them to dateparse. Listing pages often embed dates mid-sentence.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:?\d{2})?`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
	regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}`),
	regexp.MustCompile(`(?i)(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{1,2},?\s+\d{4}`),
	regexp.MustCompile(`\d{1,2}\s+(?i:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4}`),
}

// ParseFlexibleDate parses a timestamp from free-form text. It tries
// dateparse on the whole string first, then on any date-looking substring.
// Returns nil if nothing parses.
func ParseFlexibleDate(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if t, err := dateparse.ParseAny(text); err == nil {
		return &t
	}

	for _, re := range datePatterns {
		if m := re.FindString(text); m != "" {
			if t, err := dateparse.ParseAny(m); err == nil {
				return &t
			}
		}
	}
	return nil
}

// strippedTags are removed from article pages before text extraction.
var strippedTags = []string{"script", "style", "nav", "header", "footer", "aside", "form", "button", "iframe"}

// ExtractMainText pulls the main article text out of a parsed page. The
// selectors are tried in priority order; the first match with enough text
// wins, falling back to <body>. Markup noise is stripped and whitespace
// collapsed.
func ExtractMainText(doc *goquery.Document, selectors []string) string {
	for _, tag := range strippedTags {
		doc.Find(tag).Remove()
	}

	const minContentLen = 100
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			text := CollapseWhitespace(nodeText(s))
			if len(text) >= minContentLen {
				return text
			}
		}
	}

	return CollapseWhitespace(nodeText(doc.Find("body").First()))
}

// nodeText renders a selection as newline-separated block text.
func nodeText(s *goquery.Selection) string {
	var sb strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		t := strings.TrimSpace(c.Text())
		if t == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(t)
	})
	if sb.Len() == 0 {
		return strings.TrimSpace(s.Text())
	}
	return sb.String()
}

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// CollapseWhitespace normalizes runs of spaces and blank lines in extracted
// text.
func CollapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\t", " ")
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// clip hard-truncates a string to at most maxLen bytes without splitting a
// rune; stored columns must stay valid UTF-8.
func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

// truncate shortens a string to maxLen, appending "..." when cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return clip(s, maxLen)
	}
	return clip(s, maxLen-3) + "..."
}
