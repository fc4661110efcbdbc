package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.RankingURL(); got != "https://kabutan.jp/warning/pts_night_price_increase" {
		t.Errorf("RankingURL() = %q", got)
	}
	if cfg.Filter.MinVolume != 10000 {
		t.Errorf("MinVolume = %d, want 10000", cfg.Filter.MinVolume)
	}
	if cfg.Filter.TopN != 10 {
		t.Errorf("TopN = %d, want 10", cfg.Filter.TopN)
	}
	if cfg.Enrich.MaxNewsPerStock != 3 {
		t.Errorf("MaxNewsPerStock = %d, want 3", cfg.Enrich.MaxNewsPerStock)
	}
	if cfg.Report.CharLimit != 1000 || cfg.Report.SegmentBudget != 10 {
		t.Errorf("report limits = %d/%d", cfg.Report.CharLimit, cfg.Report.SegmentBudget)
	}
	if cfg.FetchInterval() != time.Second {
		t.Errorf("FetchInterval() = %s", cfg.FetchInterval())
	}
	if cfg.FetchTimeout() != 30*time.Second {
		t.Errorf("FetchTimeout() = %s", cfg.FetchTimeout())
	}
	if cfg.RetryBackoff() != 2*time.Second {
		t.Errorf("RetryBackoff() = %s", cfg.RetryBackoff())
	}
	if cfg.TimeBudget() != 5*time.Minute {
		t.Errorf("TimeBudget() = %s", cfg.TimeBudget())
	}
	if cfg.Store.Path != "" {
		t.Errorf("Store.Path = %q, persistence should be opt-in", cfg.Store.Path)
	}
	if cfg.Server.Addr != ":5001" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfigOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  base_url: https://stage.example
  fetch_interval_ms: 250
filter:
  min_volume: 50000
notify:
  separate_image: true
store:
  path: runs.db
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Source.BaseURL != "https://stage.example" {
		t.Errorf("BaseURL = %q", cfg.Source.BaseURL)
	}
	if cfg.FetchInterval() != 250*time.Millisecond {
		t.Errorf("FetchInterval() = %s", cfg.FetchInterval())
	}
	if cfg.Filter.MinVolume != 50000 {
		t.Errorf("MinVolume = %d", cfg.Filter.MinVolume)
	}
	// Untouched sections keep their defaults.
	if cfg.Filter.TopN != 10 {
		t.Errorf("TopN = %d, want default 10", cfg.Filter.TopN)
	}
	if !cfg.Notify.SeparateImage {
		t.Error("SeparateImage should be set")
	}
	if cfg.Store.Path != "runs.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MIN_VOLUME", "25000")
	t.Setenv("TOP_N", "5")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Filter.MinVolume != 25000 {
		t.Errorf("MinVolume = %d, want env override 25000", cfg.Filter.MinVolume)
	}
	if cfg.Filter.TopN != 5 {
		t.Errorf("TopN = %d, want env override 5", cfg.Filter.TopN)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "negative min volume",
			yaml: "filter:\n  min_volume: -1\n",
		},
		{
			name: "negative top n",
			yaml: "filter:\n  top_n: -3\n",
		},
		{
			name: "char limit too small",
			yaml: "report:\n  char_limit: 50\n",
		},
		{
			name: "reserve swallows budget",
			yaml: "run:\n  time_budget_seconds: 20\n  delivery_reserve_seconds: 30\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "source: [not a mapping")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
