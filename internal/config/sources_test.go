package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSourcesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSources_Valid(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - agency_name: "Langley RCMP"
    jurisdiction: "Langley, BC"
    region_label: "Fraser Valley, BC"
    source_type: "RCMP_NEWSROOM"
    base_url: "https://bc-cb.rcmp-grc.gc.ca/ViewPage.action?siteNodeId=2087"
    parser_id: "rcmp"
    active: true
    use_browser: true
  - agency_name: "Vancouver Police Department"
    region_label: "Metro Vancouver, BC"
    source_type: "MUNICIPAL_PD_NEWS"
    base_url: "https://vpd.ca/news/"
    parser_id: "wordpress"
    active: false
`)

	entries, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Langley RCMP", entries[0].AgencyName)
	assert.True(t, entries[0].UseBrowser)
	assert.Equal(t, "rcmp", entries[0].ParserID)
	assert.False(t, entries[1].Active)
}

func TestLoadSources_MissingFile(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadSources_EmptyList(t *testing.T) {
	path := writeSourcesFile(t, "sources: []\n")
	_, err := LoadSources(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestLoadSources_MissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"agency_name": `
sources:
  - region_label: "R"
    base_url: "https://x.example"
    parser_id: "rcmp"
`,
		"region_label": `
sources:
  - agency_name: "A"
    base_url: "https://x.example"
    parser_id: "rcmp"
`,
		"base_url": `
sources:
  - agency_name: "A"
    region_label: "R"
    parser_id: "rcmp"
`,
		"parser_id": `
sources:
  - agency_name: "A"
    region_label: "R"
    base_url: "https://x.example"
`,
	}

	for field, content := range cases {
		_, err := LoadSources(writeSourcesFile(t, content))
		require.Error(t, err, "field %s", field)
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test@localhost/test")
	t.Setenv("ENV", "")
	t.Setenv("LLM_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://test@localhost/test", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestConfig_Dev(t *testing.T) {
	assert.True(t, Config{Env: "dev"}.Dev())
	assert.False(t, Config{Env: "prod"}.Dev())
}
