package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Severity levels for enriched incidents.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// ValidSeverities is the closed severity domain.
var ValidSeverities = map[string]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// ValidCrimeCategories is the closed crime category domain.
var ValidCrimeCategories = map[string]bool{
	"Violent Crime":   true,
	"Property Crime":  true,
	"Traffic Incident": true,
	"Drug Offense":    true,
	"Sexual Offense":  true,
	"Cybercrime":      true,
	"Public Safety":   true,
	"Other":           true,
	"Unknown":         true,
}

// Entity is a named actor or place extracted from an article. Type is one of
// Person, Group, Location.
type Entity struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ValidEntityTypes is the closed entity type domain.
var ValidEntityTypes = map[string]bool{
	"Person":   true,
	"Group":    true,
	"Location": true,
}

// EnrichedIncident is the structured interpretation of one RawArticle. The id
// equals the article id; exactly one incident exists per article.
type EnrichedIncident struct {
	ID              int       `json:"id"`
	Severity        string    `json:"severity"`
	SummaryTactical string    `json:"summary_tactical"`
	Tags            []string  `json:"tags"`
	Entities        []Entity  `json:"entities"`
	LocationLabel   *string   `json:"location_label,omitempty"`
	Lat             *float64  `json:"lat,omitempty"`
	Lng             *float64  `json:"lng,omitempty"`
	GraphClusterKey *string   `json:"graph_cluster_key,omitempty"`
	CrimeCategory   string    `json:"crime_category"`
	TemporalContext *string   `json:"temporal_context,omitempty"`
	WeaponInvolved  *string   `json:"weapon_involved,omitempty"`
	TacticalAdvice  *string   `json:"tactical_advice,omitempty"`
	LLMModel        string    `json:"llm_model"`
	PromptVersion   string    `json:"prompt_version"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// IncidentRow is the joined projection used by the query surface.
type IncidentRow struct {
	Source   Source
	Article  RawArticle
	Incident EnrichedIncident
}

// IncidentStore provides data access methods for enriched incidents.
type IncidentStore struct {
	pool *pgxpool.Pool
}

// NewIncidentStore creates a new IncidentStore.
func NewIncidentStore(pool *pgxpool.Pool) *IncidentStore {
	return &IncidentStore{pool: pool}
}

// Create inserts the enrichment for a newly stored article. Returns
// ErrConflict if an incident already exists for the article: callers must only
// enrich articles that the upsert reported as inserted.
func (s *IncidentStore) Create(ctx context.Context, inc *EnrichedIncident) error {
	tags, err := json.Marshal(orEmptyStrings(inc.Tags))
	if err != nil {
		return fmt.Errorf("incident marshal tags: %w", err)
	}
	entities, err := json.Marshal(orEmptyEntities(inc.Entities))
	if err != nil {
		return fmt.Errorf("incident marshal entities: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO incidents_enriched (id, severity, summary_tactical, tags, entities,
		                                location_label, lat, lng, graph_cluster_key,
		                                crime_category, temporal_context, weapon_involved,
		                                tactical_advice, llm_model, prompt_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING processed_at
	`,
		inc.ID, inc.Severity, inc.SummaryTactical, tags, entities,
		inc.LocationLabel, inc.Lat, inc.Lng, inc.GraphClusterKey,
		inc.CrimeCategory, inc.TemporalContext, inc.WeaponInvolved,
		inc.TacticalAdvice, inc.LLMModel, inc.PromptVersion,
	).Scan(&inc.ProcessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("incident create: %w", err)
	}
	return nil
}

// CountByRegion counts stored incidents for a region.
func (s *IncidentStore) CountByRegion(ctx context.Context, region string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM incidents_enriched i
		JOIN articles_raw a ON a.id = i.id
		JOIN sources s ON s.id = a.source_id
		WHERE s.region_label = $1
	`, region).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("incident count: %w", err)
	}
	return n, nil
}

// ListByRegion returns the joined source/article/incident rows for a region,
// newest first (published_at desc, id desc as tiebreak).
func (s *IncidentStore) ListByRegion(ctx context.Context, region string, limit int) ([]IncidentRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.agency_name, s.jurisdiction, s.region_label, s.source_type,
		       s.base_url, s.parser_id, s.active, s.use_browser, s.last_checked_at, s.created_at,
		       a.id, a.source_id, a.external_id, a.url, a.title_raw, a.body_raw, a.published_at, a.created_at,
		       i.id, i.severity, i.summary_tactical, i.tags, i.entities,
		       i.location_label, i.lat, i.lng, i.graph_cluster_key,
		       i.crime_category, i.temporal_context, i.weapon_involved, i.tactical_advice,
		       i.llm_model, i.prompt_version, i.processed_at
		FROM incidents_enriched i
		JOIN articles_raw a ON a.id = i.id
		JOIN sources s ON s.id = a.source_id
		WHERE s.region_label = $1
		ORDER BY a.published_at DESC NULLS LAST, a.id DESC
		LIMIT $2
	`, region, limit)
	if err != nil {
		return nil, fmt.Errorf("incident list: %w", err)
	}
	defer rows.Close()

	var result []IncidentRow
	for rows.Next() {
		var r IncidentRow
		var tags, entities []byte
		if err := rows.Scan(
			&r.Source.ID, &r.Source.AgencyName, &r.Source.Jurisdiction, &r.Source.RegionLabel,
			&r.Source.SourceType, &r.Source.BaseURL, &r.Source.ParserID, &r.Source.Active,
			&r.Source.UseBrowser, &r.Source.LastCheckedAt, &r.Source.CreatedAt,
			&r.Article.ID, &r.Article.SourceID, &r.Article.ExternalID, &r.Article.URL,
			&r.Article.TitleRaw, &r.Article.BodyRaw, &r.Article.PublishedAt, &r.Article.CreatedAt,
			&r.Incident.ID, &r.Incident.Severity, &r.Incident.SummaryTactical, &tags, &entities,
			&r.Incident.LocationLabel, &r.Incident.Lat, &r.Incident.Lng, &r.Incident.GraphClusterKey,
			&r.Incident.CrimeCategory, &r.Incident.TemporalContext, &r.Incident.WeaponInvolved,
			&r.Incident.TacticalAdvice, &r.Incident.LLMModel, &r.Incident.PromptVersion,
			&r.Incident.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("incident scan: %w", err)
		}
		if err := json.Unmarshal(tags, &r.Incident.Tags); err != nil {
			return nil, fmt.Errorf("incident unmarshal tags: %w", err)
		}
		if err := json.Unmarshal(entities, &r.Incident.Entities); err != nil {
			return nil, fmt.Errorf("incident unmarshal entities: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetByID returns the enrichment for one article id, or ErrNotFound.
func (s *IncidentStore) GetByID(ctx context.Context, id int) (*EnrichedIncident, error) {
	var inc EnrichedIncident
	var tags, entities []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, severity, summary_tactical, tags, entities, location_label, lat, lng,
		       graph_cluster_key, crime_category, temporal_context, weapon_involved,
		       tactical_advice, llm_model, prompt_version, processed_at
		FROM incidents_enriched WHERE id = $1
	`, id).Scan(
		&inc.ID, &inc.Severity, &inc.SummaryTactical, &tags, &entities,
		&inc.LocationLabel, &inc.Lat, &inc.Lng, &inc.GraphClusterKey,
		&inc.CrimeCategory, &inc.TemporalContext, &inc.WeaponInvolved,
		&inc.TacticalAdvice, &inc.LLMModel, &inc.PromptVersion, &inc.ProcessedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("incident get: %w", err)
	}
	if err := json.Unmarshal(tags, &inc.Tags); err != nil {
		return nil, fmt.Errorf("incident unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(entities, &inc.Entities); err != nil {
		return nil, fmt.Errorf("incident unmarshal entities: %w", err)
	}
	return &inc, nil
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyEntities(e []Entity) []Entity {
	if e == nil {
		return []Entity{}
	}
	return e
}
