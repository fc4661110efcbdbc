package store

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the run configuration. The LINE access token is deliberately
// not part of it; secrets come from the environment only.
type Config struct {
	Source struct {
		BaseURL         string `yaml:"base_url"`
		RankingPath     string `yaml:"ranking_path"`
		FetchIntervalMS int    `yaml:"fetch_interval_ms"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		RetryAttempts   int    `yaml:"retry_attempts"`
		RetryBackoffMS  int    `yaml:"retry_backoff_ms"`
	} `yaml:"source"`
	Filter struct {
		MinVolume int64 `yaml:"min_volume"`
		TopN      int   `yaml:"top_n"`
	} `yaml:"filter"`
	Enrich struct {
		MaxNewsPerStock int `yaml:"max_news_per_stock"`
		Workers         int `yaml:"workers"`
	} `yaml:"enrich"`
	Report struct {
		CharLimit     int `yaml:"char_limit"`
		SegmentBudget int `yaml:"segment_budget"`
	} `yaml:"report"`
	Notify struct {
		Endpoint      string `yaml:"endpoint"`
		RetryAttempts int    `yaml:"retry_attempts"`
		// SeparateImage models a channel that cannot attach the image
		// to a text message. LINE Notify can, so the default is off.
		SeparateImage bool `yaml:"separate_image"`
	} `yaml:"notify"`
	Run struct {
		TimeBudgetSeconds      int `yaml:"time_budget_seconds"`
		DeliveryReserveSeconds int `yaml:"delivery_reserve_seconds"`
	} `yaml:"run"`
	Store struct {
		Path string `yaml:"path"` // empty disables persistence
	} `yaml:"store"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// Default returns the configuration with every documented default set.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML config file, fills defaults, applies the
// MIN_VOLUME / TOP_N environment overrides, and validates the result.
// An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://kabutan.jp"
	}
	if c.Source.RankingPath == "" {
		c.Source.RankingPath = "/warning/pts_night_price_increase"
	}
	if c.Source.FetchIntervalMS == 0 {
		c.Source.FetchIntervalMS = 1000
	}
	if c.Source.TimeoutSeconds == 0 {
		c.Source.TimeoutSeconds = 30
	}
	if c.Source.RetryAttempts == 0 {
		c.Source.RetryAttempts = 3
	}
	if c.Source.RetryBackoffMS == 0 {
		c.Source.RetryBackoffMS = 2000
	}
	if c.Filter.MinVolume == 0 {
		c.Filter.MinVolume = 10000
	}
	if c.Filter.TopN == 0 {
		c.Filter.TopN = 10
	}
	if c.Enrich.MaxNewsPerStock == 0 {
		c.Enrich.MaxNewsPerStock = 3
	}
	if c.Enrich.Workers == 0 {
		c.Enrich.Workers = 3
	}
	if c.Report.CharLimit == 0 {
		c.Report.CharLimit = 1000
	}
	if c.Report.SegmentBudget == 0 {
		c.Report.SegmentBudget = 10
	}
	if c.Notify.RetryAttempts == 0 {
		c.Notify.RetryAttempts = 3
	}
	if c.Run.TimeBudgetSeconds == 0 {
		c.Run.TimeBudgetSeconds = 300
	}
	if c.Run.DeliveryReserveSeconds == 0 {
		c.Run.DeliveryReserveSeconds = 30
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5001"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MIN_VOLUME"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Filter.MinVolume = n
		}
	}
	if v := os.Getenv("TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Filter.TopN = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Filter.MinVolume < 0 {
		return fmt.Errorf("filter.min_volume must be >= 0, got %d", c.Filter.MinVolume)
	}
	if c.Filter.TopN <= 0 {
		return fmt.Errorf("filter.top_n must be > 0, got %d", c.Filter.TopN)
	}
	if c.Enrich.MaxNewsPerStock < 0 {
		return fmt.Errorf("enrich.max_news_per_stock must be >= 0, got %d", c.Enrich.MaxNewsPerStock)
	}
	if c.Report.CharLimit < 100 {
		return fmt.Errorf("report.char_limit must be >= 100, got %d", c.Report.CharLimit)
	}
	if c.Run.DeliveryReserveSeconds >= c.Run.TimeBudgetSeconds {
		return fmt.Errorf("run.delivery_reserve_seconds (%d) must be below run.time_budget_seconds (%d)",
			c.Run.DeliveryReserveSeconds, c.Run.TimeBudgetSeconds)
	}
	return nil
}

// RankingURL is the full URL of the upstream ranking page.
func (c *Config) RankingURL() string {
	return c.Source.BaseURL + c.Source.RankingPath
}

func (c *Config) FetchInterval() time.Duration {
	return time.Duration(c.Source.FetchIntervalMS) * time.Millisecond
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Source.RetryBackoffMS) * time.Millisecond
}

func (c *Config) TimeBudget() time.Duration {
	return time.Duration(c.Run.TimeBudgetSeconds) * time.Second
}

// DeliveryReserve is the slice of the time budget held back from
// enrichment so formatting and delivery can still finish.
func (c *Config) DeliveryReserve() time.Duration {
	return time.Duration(c.Run.DeliveryReserveSeconds) * time.Second
}
