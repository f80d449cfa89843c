package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimewatch/intel/internal/config"
	"github.com/crimewatch/intel/internal/models"
)

type fakeChat struct {
	content string
	err     error
	calls   int
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func sampleArticle() *models.RawArticle {
	return &models.RawArticle{
		ID:       42,
		TitleRaw: "Armed robbery at convenience store",
		BodyRaw: "Police responded to an armed robbery at a convenience store on " +
			"Main Street. The suspect fled with cash. No injuries were reported.",
	}
}

const validResponse = `{
	"severity": "HIGH",
	"summary_tactical": "Armed robbery at Main Street convenience store; suspect fled with cash, no injuries.",
	"tags": ["robbery", "weapon"],
	"entities": [{"type": "Location", "name": "Main Street"}, {"type": "Person", "name": "Unknown suspect"}],
	"location_label": "Main Street",
	"lat": 49.1,
	"lng": -122.6,
	"graph_cluster_key": "robbery-main-street",
	"crime_category": "Violent Crime",
	"temporal_context": "early Tuesday morning",
	"weapon_involved": "handgun",
	"tactical_advice": "Avoid the area while police canvass for witnesses."
}`

func TestEnrich_StubWithoutCredentials(t *testing.T) {
	e := New(config.LLMConfig{})
	require.False(t, e.Enabled())

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	require.NotNil(t, inc)
	assert.Equal(t, 42, inc.ID)
	assert.Equal(t, models.SeverityMedium, inc.Severity)
	assert.Equal(t, "Unknown", inc.CrimeCategory)
	assert.Equal(t, "none", inc.LLMModel)
	assert.Equal(t, "stub_v1", inc.PromptVersion)
	assert.True(t, strings.HasPrefix(sampleArticle().BodyRaw, inc.SummaryTactical))
}

func TestEnrich_ValidResponse(t *testing.T) {
	e := NewWithClient(&fakeChat{content: validResponse}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{AgencyName: "VPD"})
	require.NotNil(t, inc)
	assert.Equal(t, 42, inc.ID)
	assert.Equal(t, models.SeverityHigh, inc.Severity)
	assert.Equal(t, "Violent Crime", inc.CrimeCategory)
	assert.Equal(t, []string{"robbery", "weapon"}, inc.Tags)
	require.Len(t, inc.Entities, 2)
	assert.Equal(t, "Location", inc.Entities[0].Type)
	require.NotNil(t, inc.Lat)
	assert.InDelta(t, 49.1, *inc.Lat, 0.001)
	require.NotNil(t, inc.GraphClusterKey)
	assert.Equal(t, "robbery-main-street", *inc.GraphClusterKey)
	require.NotNil(t, inc.WeaponInvolved)
	assert.Equal(t, "handgun", *inc.WeaponInvolved)

	// Provenance is stamped so a replay keyed on model and prompt version
	// can tell enrichment generations apart.
	assert.Equal(t, "openai/test-model", inc.LLMModel)
	assert.Equal(t, promptVersion, inc.PromptVersion)
}

func TestEnrich_StripsMarkdownFences(t *testing.T) {
	e := NewWithClient(&fakeChat{content: "```json\n" + validResponse + "\n```"}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	assert.Equal(t, models.SeverityHigh, inc.Severity)
}

func TestEnrich_NormalizesSeverityCase(t *testing.T) {
	resp := strings.Replace(validResponse, `"HIGH"`, `"high"`, 1)
	e := NewWithClient(&fakeChat{content: resp}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	assert.Equal(t, models.SeverityHigh, inc.Severity)
}

func TestEnrich_InvalidSeverityFallsBackToStub(t *testing.T) {
	resp := strings.Replace(validResponse, `"HIGH"`, `"CATASTROPHIC"`, 1)
	e := NewWithClient(&fakeChat{content: resp}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	assert.Equal(t, models.SeverityMedium, inc.Severity)
	assert.Equal(t, "stub_v1", inc.PromptVersion)
}

func TestEnrich_InvalidCrimeCategoryFallsBackToStub(t *testing.T) {
	resp := strings.Replace(validResponse, `"Violent Crime"`, `"Vibe Crime"`, 1)
	e := NewWithClient(&fakeChat{content: resp}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	assert.Equal(t, "stub_v1", inc.PromptVersion)
}

func TestEnrich_MalformedJSONFallsBackToStub(t *testing.T) {
	e := NewWithClient(&fakeChat{content: "the incident seems serious"}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	assert.Equal(t, "stub_v1", inc.PromptVersion)
	assert.Equal(t, "none", inc.LLMModel)
}

func TestEnrich_ProviderErrorFallsBackToStub(t *testing.T) {
	e := NewWithClient(&fakeChat{err: errors.New("rate limited")}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	require.NotNil(t, inc)
	assert.Equal(t, "stub_v1", inc.PromptVersion)
}

func TestEnrich_DropsInvalidEntities(t *testing.T) {
	resp := strings.Replace(validResponse,
		`{"type": "Person", "name": "Unknown suspect"}`,
		`{"type": "Vehicle", "name": "White van"}`, 1)
	e := NewWithClient(&fakeChat{content: resp}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	require.Len(t, inc.Entities, 1)
	assert.Equal(t, "Main Street", inc.Entities[0].Name)
}

func TestEnrich_ClipsLongSummary(t *testing.T) {
	long := strings.Repeat("a", 300)
	resp := strings.Replace(validResponse,
		"Armed robbery at Main Street convenience store; suspect fled with cash, no injuries.",
		long, 1)
	e := NewWithClient(&fakeChat{content: resp}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	assert.Len(t, inc.SummaryTactical, maxSummaryChars)
}

func TestEnrich_ClipsSummaryOnRuneBoundary(t *testing.T) {
	// One ASCII byte then two-byte runes, so the byte limit lands mid-rune.
	long := "x" + strings.Repeat("é", 150)
	resp := strings.Replace(validResponse,
		"Armed robbery at Main Street convenience store; suspect fled with cash, no injuries.",
		long, 1)
	e := NewWithClient(&fakeChat{content: resp}, "test-model")

	inc := e.Enrich(context.Background(), sampleArticle(), models.Source{})
	assert.True(t, utf8.ValidString(inc.SummaryTactical))
	assert.LessOrEqual(t, len(inc.SummaryTactical), maxSummaryChars)
}

func TestClip_NeverSplitsRunes(t *testing.T) {
	assert.Equal(t, "café", clip("café", 5))
	assert.Equal(t, "caf", clip("café", 4))
	assert.Equal(t, "ab", clip("abc", 2))
	assert.True(t, utf8.ValidString(clip(strings.Repeat("☎", 80), 100)))
}

func TestBuildPrompt_TruncatesBody(t *testing.T) {
	article := sampleArticle()
	article.BodyRaw = strings.Repeat("b", maxBodyChars+500)

	prompt := buildPrompt(article, models.Source{AgencyName: "VPD", RegionLabel: "Fraser Valley, BC"})
	assert.Contains(t, prompt, "VPD")
	assert.Contains(t, prompt, "Fraser Valley, BC")
	assert.Less(t, len(prompt), maxBodyChars+len(promptTemplate)+200)
}

func TestModelNameAndPromptVersion(t *testing.T) {
	stub := New(config.LLMConfig{})
	assert.Equal(t, "none", stub.ModelName())
	assert.Equal(t, "stub_v1", stub.PromptVersion())

	live := NewWithClient(&fakeChat{content: validResponse}, "test-model")
	assert.Equal(t, "openai/test-model", live.ModelName())
	assert.Equal(t, promptVersion, live.PromptVersion())
}

func TestSelfTest_StubMode(t *testing.T) {
	e := New(config.LLMConfig{})
	result := e.SelfTest(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, "none", result.ModelName)
	assert.Contains(t, result.Detail, "stub mode")
}

func TestSelfTest_LiveMode(t *testing.T) {
	e := NewWithClient(&fakeChat{content: validResponse}, "test-model")
	result := e.SelfTest(context.Background())
	assert.True(t, result.OK)
	assert.Equal(t, models.SeverityHigh, result.Severity)
	assert.NotEmpty(t, result.Summary)
}
