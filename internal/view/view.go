// Package view projects joined incident rows into the wire shapes served by
// the HTTP layer. All derivations are pure; nothing here touches storage.
package view

import (
	"strconv"
	"time"

	"github.com/crimewatch/intel/internal/models"
)

// Default map position for incidents without geolocation: central Fraser
// Valley, BC.
const (
	DefaultLat = 49.1042
	DefaultLng = -122.6604
)

// severityLabels maps stored severity to the label the frontend expects.
var severityLabels = map[string]string{
	models.SeverityLow:      "Low",
	models.SeverityMedium:   "Medium",
	models.SeverityHigh:     "High",
	models.SeverityCritical: "Critical",
}

// sourceTypeLabels maps stored source types to display categories.
var sourceTypeLabels = map[string]string{
	"RCMP_NEWSROOM":     "Local Police",
	"MUNICIPAL_PD_NEWS": "Local Police",
	"STATE_POLICE":      "State Police",
}

// SeverityLabel returns the display label for a stored severity, defaulting
// to Medium for anything unrecognized.
func SeverityLabel(severity string) string {
	if label, ok := severityLabels[severity]; ok {
		return label
	}
	return "Medium"
}

func sourceTypeLabel(sourceType string) string {
	if label, ok := sourceTypeLabels[sourceType]; ok {
		return label
	}
	return "Local Police"
}

// Coordinates is a lat/lng pair on the wire.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Incident is the denormalized wire record for one enriched incident.
type Incident struct {
	ID                 string      `json:"id"`
	Timestamp          string      `json:"timestamp"`
	Source             string      `json:"source"`
	AgencyName         string      `json:"agencyName"`
	Location           string      `json:"location"`
	Coordinates        Coordinates `json:"coordinates"`
	Summary            string      `json:"summary"`
	FullText           string      `json:"fullText"`
	Severity           string      `json:"severity"`
	Tags               []string    `json:"tags"`
	Entities           []string    `json:"entities"`
	RelatedIncidentIds []string    `json:"relatedIncidentIds"`
	SourceURL          string      `json:"sourceUrl"`
	CrimeCategory      string      `json:"crimeCategory"`
	TemporalContext    *string     `json:"temporalContext"`
	WeaponInvolved     *string     `json:"weaponInvolved"`
	TacticalAdvice     *string     `json:"tacticalAdvice"`
}

// Incidents projects joined rows to wire incidents, preserving order. Related
// incidents are other rows in the same result set sharing a graph_cluster_key.
func Incidents(rows []models.IncidentRow) []Incident {
	clusters := make(map[string][]string)
	for _, r := range rows {
		if key := clusterKey(r); key != "" {
			clusters[key] = append(clusters[key], incidentID(r))
		}
	}

	out := make([]Incident, 0, len(rows))
	for _, r := range rows {
		id := incidentID(r)

		var related []string
		if key := clusterKey(r); key != "" {
			for _, other := range clusters[key] {
				if other != id {
					related = append(related, other)
				}
			}
		}
		if related == nil {
			related = []string{}
		}

		location := r.Source.RegionLabel
		if r.Incident.LocationLabel != nil && *r.Incident.LocationLabel != "" {
			location = *r.Incident.LocationLabel
		}

		coords := Coordinates{Lat: DefaultLat, Lng: DefaultLng}
		if r.Incident.Lat != nil && r.Incident.Lng != nil {
			coords = Coordinates{Lat: *r.Incident.Lat, Lng: *r.Incident.Lng}
		}

		entityNames := make([]string, 0, len(r.Incident.Entities))
		for _, ent := range r.Incident.Entities {
			entityNames = append(entityNames, ent.Name)
		}

		tags := r.Incident.Tags
		if tags == nil {
			tags = []string{}
		}

		out = append(out, Incident{
			ID:                 id,
			Timestamp:          timestamp(r),
			Source:             sourceTypeLabel(r.Source.SourceType),
			AgencyName:         r.Source.AgencyName,
			Location:           location,
			Coordinates:        coords,
			Summary:            r.Article.TitleRaw,
			FullText:           r.Article.BodyRaw,
			Severity:           SeverityLabel(r.Incident.Severity),
			Tags:               tags,
			Entities:           entityNames,
			RelatedIncidentIds: related,
			SourceURL:          r.Article.URL,
			CrimeCategory:      r.Incident.CrimeCategory,
			TemporalContext:    r.Incident.TemporalContext,
			WeaponInvolved:     r.Incident.WeaponInvolved,
			TacticalAdvice:     r.Incident.TacticalAdvice,
		})
	}
	return out
}

func incidentID(r models.IncidentRow) string {
	return strconv.Itoa(r.Article.ID)
}

func clusterKey(r models.IncidentRow) string {
	if r.Incident.GraphClusterKey == nil {
		return ""
	}
	return *r.Incident.GraphClusterKey
}

// timestamp prefers the published time and falls back to insertion time.
func timestamp(r models.IncidentRow) string {
	if r.Article.PublishedAt != nil {
		return r.Article.PublishedAt.Format(time.RFC3339)
	}
	return r.Article.CreatedAt.Format(time.RFC3339)
}
