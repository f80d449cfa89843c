package enrich

import (
	"fmt"
	"strings"
	"time"

	"github.com/crimewatch/intel/internal/models"
)

const systemPrompt = `You are a public-safety intelligence analyst. You read police news releases and produce a single JSON object classifying the incident. Respond with JSON only, no prose and no markdown fences.`

// promptTemplate is revision v2.0. Field domains here must stay in lockstep
// with the validation in callLLM.
const promptTemplate = `Classify this police news release.

Agency: %s
Region: %s
Published: %s
Title: %s

Body:
%s

Return a JSON object with exactly these fields:
{
  "severity": one of "LOW", "MEDIUM", "HIGH", "CRITICAL",
  "summary_tactical": a factual summary of at most 200 characters, written for a resident of the area,
  "tags": up to 6 short lowercase topic tags,
  "entities": list of {"type": one of "Person", "Group", "Location", "name": string} mentioned in the release,
  "location_label": the most specific place name mentioned, or null,
  "lat": approximate latitude of the incident as a number, or null if unknown,
  "lng": approximate longitude of the incident as a number, or null if unknown,
  "graph_cluster_key": a short stable key grouping related incidents (e.g. "theft-auto-downtown"), or null,
  "crime_category": one of "Violent Crime", "Property Crime", "Traffic Incident", "Drug Offense", "Sexual Offense", "Cybercrime", "Public Safety", "Other", "Unknown",
  "temporal_context": when the incident occurred in plain words, or null,
  "weapon_involved": the weapon named in the release, or null,
  "tactical_advice": one sentence of practical advice for residents, or null
}

Severity guidance: CRITICAL for active ongoing danger to the public, HIGH for violent crime or armed suspects, MEDIUM for property crime and investigations, LOW for advisories and community notices.
Only report lat/lng when the release names a specific locatable place; never guess coordinates.`

func buildPrompt(article *models.RawArticle, src models.Source) string {
	published := "unknown"
	if article.PublishedAt != nil {
		published = article.PublishedAt.Format(time.RFC3339)
	}
	body := strings.TrimSpace(article.BodyRaw)
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return fmt.Sprintf(promptTemplate,
		src.AgencyName,
		src.RegionLabel,
		published,
		strings.TrimSpace(article.TitleRaw),
		body,
	)
}
