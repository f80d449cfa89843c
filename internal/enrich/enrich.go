// Package enrich classifies raw articles into structured incidents with a
// single LLM call per article, falling back to a deterministic stub when the
// provider is unconfigured or misbehaves.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/crimewatch/intel/internal/config"
	"github.com/crimewatch/intel/internal/metrics"
	"github.com/crimewatch/intel/internal/models"
)

const (
	// promptVersion tags incidents with the prompt revision that produced
	// them. Bump when the prompt or schema changes; only an operator-driven
	// replay re-enriches.
	promptVersion = "v2.0"

	// stubModel / stubPromptVersion mark stub-enriched incidents.
	stubModel         = "none"
	stubPromptVersion = "stub_v1"

	// maxBodyChars bounds the article text sent to the provider.
	maxBodyChars = 8000

	// maxSummaryChars bounds the tactical summary.
	maxSummaryChars = 200

	// maxConcurrent caps in-flight LLM calls to stay inside provider rate
	// limits.
	maxConcurrent = 2
)

// ChatClient is the completion surface of the provider client; *openai.Client
// satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Enricher produces EnrichedIncident records. With no configured provider it
// runs in stub mode and every incident gets the deterministic fallback.
type Enricher struct {
	client  ChatClient
	model   string
	breaker *gobreaker.CircuitBreaker
	sem     chan struct{}
}

// New creates an enricher from the LLM configuration. An empty API key
// yields a stub-only enricher.
func New(cfg config.LLMConfig) *Enricher {
	e := &Enricher{
		model: cfg.Model,
		sem:   make(chan struct{}, maxConcurrent),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llm",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	if cfg.APIKey == "" {
		slog.Warn("enrichment disabled: no LLM credentials, stub fallback active")
		return e
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	e.client = openai.NewClientWithConfig(clientCfg)
	return e
}

// NewWithClient wires an explicit client. Used by tests.
func NewWithClient(client ChatClient, model string) *Enricher {
	e := New(config.LLMConfig{Model: model})
	e.client = client
	return e
}

// Enabled reports whether a provider is configured.
func (e *Enricher) Enabled() bool { return e.client != nil }

// ModelName returns the provenance label stamped on enriched incidents.
func (e *Enricher) ModelName() string {
	if e.client == nil {
		return stubModel
	}
	return "openai/" + e.model
}

// PromptVersion returns the active prompt revision.
func (e *Enricher) PromptVersion() string {
	if e.client == nil {
		return stubPromptVersion
	}
	return promptVersion
}

// Enrich classifies one article. Exactly one model call is made per article;
// any provider or validation failure falls back to the stub so data is never
// lost. Never returns nil.
func (e *Enricher) Enrich(ctx context.Context, article *models.RawArticle, src models.Source) *models.EnrichedIncident {
	if e.client == nil {
		return e.Stub(article)
	}

	inc, err := e.callLLM(ctx, article, src)
	if err != nil {
		slog.Error("enrichment failed, storing stub",
			"article_id", article.ID, "title", clip(article.TitleRaw, 60), "err", err)
		metrics.EnrichmentFallbacks.Inc()
		return e.Stub(article)
	}
	return inc
}

// Stub is the deterministic fallback enrichment.
func (e *Enricher) Stub(article *models.RawArticle) *models.EnrichedIncident {
	return &models.EnrichedIncident{
		ID:              article.ID,
		Severity:        models.SeverityMedium,
		SummaryTactical: clip(article.BodyRaw, maxSummaryChars),
		Tags:            []string{},
		Entities:        []models.Entity{},
		CrimeCategory:   "Unknown",
		LLMModel:        stubModel,
		PromptVersion:   stubPromptVersion,
	}
}

// payload is the JSON schema the model must answer with.
type payload struct {
	Severity        string          `json:"severity"`
	SummaryTactical string          `json:"summary_tactical"`
	Tags            []string        `json:"tags"`
	Entities        []models.Entity `json:"entities"`
	LocationLabel   *string         `json:"location_label"`
	Lat             *float64        `json:"lat"`
	Lng             *float64        `json:"lng"`
	GraphClusterKey *string         `json:"graph_cluster_key"`
	CrimeCategory   string          `json:"crime_category"`
	TemporalContext *string         `json:"temporal_context"`
	WeaponInvolved  *string         `json:"weapon_involved"`
	TacticalAdvice  *string         `json:"tactical_advice"`
}

func (e *Enricher) callLLM(ctx context.Context, article *models.RawArticle, src models.Source) (*models.EnrichedIncident, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	raw, err := e.breaker.Execute(func() (any, error) {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.model,
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: buildPrompt(article, src)},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return nil, fmt.Errorf("enrich: completion: %w", err)
	}
	content := raw.(string)

	var p payload
	if err := json.Unmarshal([]byte(stripFences(content)), &p); err != nil {
		slog.Warn("enrichment response was not valid JSON", "response", clip(content, 300))
		return nil, fmt.Errorf("enrich: parse response: %w", err)
	}

	if err := p.validate(); err != nil {
		slog.Warn("enrichment response failed validation",
			"response", clip(content, 300), "err", err)
		return nil, fmt.Errorf("enrich: %w", err)
	}

	return &models.EnrichedIncident{
		ID:              article.ID,
		Severity:        p.Severity,
		SummaryTactical: clip(p.SummaryTactical, maxSummaryChars),
		Tags:            orEmpty(p.Tags),
		Entities:        p.cleanEntities(),
		LocationLabel:   p.LocationLabel,
		Lat:             p.Lat,
		Lng:             p.Lng,
		GraphClusterKey: p.GraphClusterKey,
		CrimeCategory:   p.CrimeCategory,
		TemporalContext: p.TemporalContext,
		WeaponInvolved:  p.WeaponInvolved,
		TacticalAdvice:  p.TacticalAdvice,
		LLMModel:        e.ModelName(),
		PromptVersion:   promptVersion,
	}, nil
}

// validate enforces the closed field domains. A violation sends the whole
// response down the stub path.
func (p *payload) validate() error {
	p.Severity = strings.ToUpper(strings.TrimSpace(p.Severity))
	if !models.ValidSeverities[p.Severity] {
		return fmt.Errorf("invalid severity %q", p.Severity)
	}
	p.CrimeCategory = strings.TrimSpace(p.CrimeCategory)
	if p.CrimeCategory == "" {
		p.CrimeCategory = "Unknown"
	}
	if !models.ValidCrimeCategories[p.CrimeCategory] {
		return fmt.Errorf("invalid crime_category %q", p.CrimeCategory)
	}
	if strings.TrimSpace(p.SummaryTactical) == "" {
		return fmt.Errorf("missing summary_tactical")
	}
	return nil
}

// cleanEntities drops entities with unknown types or empty names rather than
// rejecting the whole response.
func (p *payload) cleanEntities() []models.Entity {
	out := make([]models.Entity, 0, len(p.Entities))
	for _, ent := range p.Entities {
		ent.Name = strings.TrimSpace(ent.Name)
		if ent.Name == "" || !models.ValidEntityTypes[ent.Type] {
			continue
		}
		out = append(out, ent)
	}
	return out
}

// SelfTestResult reports the outcome of an enrichment self-test.
type SelfTestResult struct {
	OK            bool   `json:"ok"`
	ModelName     string `json:"model_name"`
	PromptVersion string `json:"prompt_version"`
	Severity      string `json:"severity,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// SelfTest runs the enrichment path against a canned release and reports
// whether the provider answered with a valid classification. Dev tooling.
func (e *Enricher) SelfTest(ctx context.Context) SelfTestResult {
	result := SelfTestResult{
		ModelName:     e.ModelName(),
		PromptVersion: e.PromptVersion(),
	}
	if e.client == nil {
		result.Detail = "no LLM credentials configured; pipeline runs in stub mode"
		return result
	}

	sample := &models.RawArticle{
		TitleRaw: "Police seek witnesses after commercial break-in",
		BodyRaw: "Officers responded to a report of a break and enter at a commercial " +
			"property on Main Street early Tuesday morning. Tools and copper wire were " +
			"taken. Anyone with dashcam footage is asked to contact the detachment.",
	}
	src := models.Source{AgencyName: "Self Test PD", RegionLabel: "Self Test Region"}

	inc, err := e.callLLM(ctx, sample, src)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	result.OK = true
	result.Severity = inc.Severity
	result.Summary = inc.SummaryTactical
	return result
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// clip shortens s to at most maxLen bytes without splitting a rune.
func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
