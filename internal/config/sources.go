package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crimewatch/intel/internal/models"
)

// SourceEntry is one source descriptor from the YAML config provider.
type SourceEntry struct {
	AgencyName   string `yaml:"agency_name"`
	Jurisdiction string `yaml:"jurisdiction"`
	RegionLabel  string `yaml:"region_label"`
	SourceType   string `yaml:"source_type"`
	BaseURL      string `yaml:"base_url"`
	ParserID     string `yaml:"parser_id"`
	Active       bool   `yaml:"active"`
	UseBrowser   bool   `yaml:"use_browser"`
	Notes        string `yaml:"notes,omitempty"`
}

type sourcesFile struct {
	Sources []SourceEntry `yaml:"sources"`
}

// LoadSources reads and validates the source list from the given YAML file.
func LoadSources(path string) ([]SourceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sources: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse sources: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("config: %s: missing or empty 'sources' key", path)
	}

	for i, s := range f.Sources {
		switch {
		case s.AgencyName == "":
			return nil, fmt.Errorf("config: source %d: missing agency_name", i)
		case s.RegionLabel == "":
			return nil, fmt.Errorf("config: source %d (%s): missing region_label", i, s.AgencyName)
		case s.BaseURL == "":
			return nil, fmt.Errorf("config: source %d (%s): missing base_url", i, s.AgencyName)
		case s.ParserID == "":
			return nil, fmt.Errorf("config: source %d (%s): missing parser_id", i, s.AgencyName)
		}
	}
	return f.Sources, nil
}

// SyncSources upserts the configured sources into the store, keyed by
// base_url. Sources are never deleted; removing one from the config just
// stops updating it. Returns the number of newly inserted sources.
func SyncSources(ctx context.Context, store *models.SourceStore, entries []SourceEntry) (int, error) {
	inserted := 0
	for _, e := range entries {
		src := &models.Source{
			AgencyName:   e.AgencyName,
			Jurisdiction: e.Jurisdiction,
			RegionLabel:  e.RegionLabel,
			SourceType:   e.SourceType,
			BaseURL:      e.BaseURL,
			ParserID:     e.ParserID,
			Active:       e.Active,
			UseBrowser:   e.UseBrowser,
		}
		isNew, err := store.Upsert(ctx, src)
		if err != nil {
			return inserted, fmt.Errorf("config: sync %s: %w", e.AgencyName, err)
		}
		if isNew {
			inserted++
			slog.Info("source registered", "agency", e.AgencyName, "region", e.RegionLabel, "parser", e.ParserID)
		}
	}
	return inserted, nil
}
