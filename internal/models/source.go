package models

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source describes one configured agency newsroom: a listing page plus the
// parser family that knows how to read it.
type Source struct {
	ID            int        `json:"id"`
	AgencyName    string     `json:"agency_name"`
	Jurisdiction  string     `json:"jurisdiction"`
	RegionLabel   string     `json:"region_label"`
	SourceType    string     `json:"source_type"`
	BaseURL       string     `json:"base_url"`
	ParserID      string     `json:"parser_id"`
	Active        bool       `json:"active"`
	UseBrowser    bool       `json:"use_browser"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SourceStore provides data access methods for sources.
type SourceStore struct {
	pool *pgxpool.Pool
}

// NewSourceStore creates a new SourceStore.
func NewSourceStore(pool *pgxpool.Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

const sourceColumns = `id, agency_name, jurisdiction, region_label, source_type,
       base_url, parser_id, active, use_browser, last_checked_at, created_at`

func scanSource(row pgx.Row) (Source, error) {
	var src Source
	err := row.Scan(
		&src.ID, &src.AgencyName, &src.Jurisdiction, &src.RegionLabel,
		&src.SourceType, &src.BaseURL, &src.ParserID, &src.Active,
		&src.UseBrowser, &src.LastCheckedAt, &src.CreatedAt,
	)
	return src, err
}

// ListActiveByRegion returns all active sources whose region_label matches.
func (s *SourceStore) ListActiveByRegion(ctx context.Context, region string) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE region_label = $1 AND active = true
		ORDER BY agency_name ASC
	`, region)
	if err != nil {
		return nil, fmt.Errorf("source list by region: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("source scan: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// ListAll returns every source regardless of active status.
func (s *SourceStore) ListAll(ctx context.Context) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY agency_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("source list all: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("source scan: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// GetByID returns a single source or ErrNotFound.
func (s *SourceStore) GetByID(ctx context.Context, id int) (*Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("source get: %w", err)
	}
	return &src, nil
}

// DistinctRegions returns the region labels that have at least one active
// source. The worker iterates these for scheduled refreshes.
func (s *SourceStore) DistinctRegions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT region_label FROM sources WHERE active = true ORDER BY region_label
	`)
	if err != nil {
		return nil, fmt.Errorf("source distinct regions: %w", err)
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("region scan: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// Upsert inserts a source keyed by base_url, or updates the descriptor fields
// of an existing one. The pipeline never deletes sources; the config provider
// owns the descriptor, the refresh path owns last_checked_at. Returns true
// when a new row was inserted.
func (s *SourceStore) Upsert(ctx context.Context, src *Source) (bool, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sources (agency_name, jurisdiction, region_label, source_type,
		                     base_url, parser_id, active, use_browser)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (base_url) DO UPDATE SET
			agency_name = EXCLUDED.agency_name,
			jurisdiction = EXCLUDED.jurisdiction,
			region_label = EXCLUDED.region_label,
			source_type = EXCLUDED.source_type,
			parser_id = EXCLUDED.parser_id,
			active = EXCLUDED.active,
			use_browser = EXCLUDED.use_browser
		RETURNING id, created_at, (xmax = 0)
	`,
		src.AgencyName, src.Jurisdiction, src.RegionLabel, src.SourceType,
		src.BaseURL, src.ParserID, src.Active, src.UseBrowser,
	).Scan(&src.ID, &src.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("source upsert: %w", err)
	}
	return inserted, nil
}

// Touch advances the last_checked_at watermark. Idempotent.
func (s *SourceStore) Touch(ctx context.Context, id int, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET last_checked_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("source touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the total number of configured sources.
func (s *SourceStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sources`).Scan(&n); err != nil {
		return 0, fmt.Errorf("source count: %w", err)
	}
	return n, nil
}
