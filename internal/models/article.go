package models

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RawArticle is one scraped news release, verbatim. Rows are immutable once
// inserted; dedup runs on (source_id, external_id).
type RawArticle struct {
	ID          int        `json:"id"`
	SourceID    int        `json:"source_id"`
	ExternalID  string     `json:"external_id"`
	URL         string     `json:"url"`
	TitleRaw    string     `json:"title_raw"`
	BodyRaw     string     `json:"body_raw"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	RawHTML     string     `json:"raw_html,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ArticleStore provides data access methods for raw articles.
type ArticleStore struct {
	pool *pgxpool.Pool
}

// NewArticleStore creates a new ArticleStore.
func NewArticleStore(pool *pgxpool.Pool) *ArticleStore {
	return &ArticleStore{pool: pool}
}

// Upsert atomically inserts the article unless a row with the same
// (source_id, external_id) already exists. In either case a.ID is populated
// with the stored row's id. Existing rows are never mutated. Returns true
// when a new row was inserted.
func (s *ArticleStore) Upsert(ctx context.Context, a *RawArticle) (bool, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO articles_raw (source_id, external_id, url, title_raw, body_raw, published_at, raw_html)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, external_id) DO NOTHING
		RETURNING id, created_at
	`,
		a.SourceID, a.ExternalID, a.URL, a.TitleRaw, a.BodyRaw, a.PublishedAt, nullableText(a.RawHTML),
	).Scan(&a.ID, &a.CreatedAt)
	if err == nil {
		return true, nil
	}
	if err != pgx.ErrNoRows {
		return false, fmt.Errorf("article upsert: %w", err)
	}

	// Conflict: fetch the existing row's identity.
	err = s.pool.QueryRow(ctx, `
		SELECT id, created_at FROM articles_raw WHERE source_id = $1 AND external_id = $2
	`, a.SourceID, a.ExternalID).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("article upsert lookup: %w", err)
	}
	return false, nil
}

// GetByID returns a single article or ErrNotFound.
func (s *ArticleStore) GetByID(ctx context.Context, id int) (*RawArticle, error) {
	var a RawArticle
	var rawHTML *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_id, external_id, url, title_raw, body_raw, published_at, raw_html, created_at
		FROM articles_raw WHERE id = $1
	`, id).Scan(&a.ID, &a.SourceID, &a.ExternalID, &a.URL, &a.TitleRaw, &a.BodyRaw, &a.PublishedAt, &rawHTML, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("article get: %w", err)
	}
	if rawHTML != nil {
		a.RawHTML = *rawHTML
	}
	return &a, nil
}

// CountBySource returns how many articles have been stored for a source.
func (s *ArticleStore) CountBySource(ctx context.Context, sourceID int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM articles_raw WHERE source_id = $1`, sourceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("article count: %w", err)
	}
	return n, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
