package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Duration decodes Go duration strings ("500ms", "2s") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// FileConfig is the YAML job definition.
type FileConfig struct {
	UserAgent       string        `yaml:"user_agent"`
	Concurrency     int           `yaml:"concurrency"`
	Timeout         Duration      `yaml:"timeout"`
	CheckpointPath  string        `yaml:"checkpoint_path"`
	RedisAddr       string        `yaml:"redis_addr"`
	KeepCheckpoints bool          `yaml:"keep_checkpoints"`
	RespectRobots   bool          `yaml:"respect_robots"`
	Sources         []SourceEntry `yaml:"sources"`
}

// SourceEntry is one source in the job definition. Fields left out fall
// back to the engine defaults; max_pages and max_items distinguish "not
// set" from an explicit 0 (unbounded).
type SourceEntry struct {
	ID           string `yaml:"id"`
	URLTemplate  string `yaml:"url_template"`
	FirstPageURL string `yaml:"first_page_url"`
	Extractor    string `yaml:"extractor"`

	MaxPages *int `yaml:"max_pages"`
	MaxItems *int `yaml:"max_items"`

	MinDelay    Duration `yaml:"min_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseBackoff Duration `yaml:"base_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
	CacheTTL    Duration `yaml:"cache_ttl"`

	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	Login *LoginEntry `yaml:"login"`
}

// LoginEntry configures form-based authentication for a source. Username
// and password support ${VAR} expansion from the environment so secrets
// stay out of the config file.
type LoginEntry struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	CSRFField string `yaml:"csrf_field"`
}

// LoadConfig reads and validates a job definition file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("config %s: no sources defined", path)
	}
	for i, src := range cfg.Sources {
		if src.Extractor == "" {
			return nil, fmt.Errorf("config %s: source %d (%s): extractor is required", path, i, src.ID)
		}
	}
	return &cfg, nil
}

// SourceConfig converts a YAML entry to the engine's source config,
// layering explicit values over the defaults.
func (e SourceEntry) SourceConfig() (scrape.SourceConfig, error) {
	cfg := scrape.DefaultSourceConfig(e.ID, e.URLTemplate)
	cfg.FirstPageURL = e.FirstPageURL

	if e.MaxPages != nil {
		cfg.MaxPages = *e.MaxPages
	}
	if e.MaxItems != nil {
		cfg.MaxItems = *e.MaxItems
	}
	if e.MinDelay > 0 {
		cfg.MinDelay = time.Duration(e.MinDelay)
	}
	if e.MaxDelay > 0 {
		cfg.MaxDelay = time.Duration(e.MaxDelay)
	}
	if e.MaxAttempts > 0 {
		cfg.MaxAttempts = e.MaxAttempts
	}
	if e.BaseBackoff > 0 {
		cfg.BaseBackoff = time.Duration(e.BaseBackoff)
	}
	if e.MaxBackoff > 0 {
		cfg.MaxBackoff = time.Duration(e.MaxBackoff)
	}
	if e.CacheTTL > 0 {
		cfg.CacheTTL = time.Duration(e.CacheTTL)
	}
	if e.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = e.MaxConsecutiveFailures
	}

	if err := cfg.Validate(); err != nil {
		return scrape.SourceConfig{}, err
	}
	return cfg, nil
}
