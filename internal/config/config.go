package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-scripts/rayback/internal/aggregate"
	"github.com/go-scripts/rayback/internal/cdx"
)

// Config holds every tunable of a mirror run
type Config struct {
	Pages               int    `yaml:"pages"`
	PageConcurrency     int    `yaml:"page_concurrency"`
	DownloadConcurrency int    `yaml:"download_concurrency"`
	CDXEndpoint         string `yaml:"cdx_endpoint"`
	ArchiveURL          string `yaml:"archive_url"`

	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig controls requests to the archive
type HTTPConfig struct {
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with the built-in defaults
func Default() Config {
	return Config{
		Pages:               100,
		PageConcurrency:     10,
		DownloadConcurrency: 10,
		CDXEndpoint:         cdx.DefaultEndpoint,
		ArchiveURL:          aggregate.DefaultArchiveURL,
		HTTP: HTTPConfig{
			UserAgent: "rayback/1.0",
			Timeout:   60 * time.Second,
			Retry: RetryConfig{
				Attempts:   2,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}

// LoadFile reads a YAML configuration file over the defaults.
// Keys missing from the file keep their default value.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Load is LoadFile, except that a missing file at path yields the defaults
// when optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil && optional && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks that the configuration can drive a run
func (c Config) Validate() error {
	var errs []error
	if c.Pages < 0 {
		errs = append(errs, fmt.Errorf("pages must not be negative, got %d", c.Pages))
	}
	if c.PageConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("page_concurrency must be positive, got %d", c.PageConcurrency))
	}
	if c.DownloadConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("download_concurrency must be positive, got %d", c.DownloadConcurrency))
	}
	if c.CDXEndpoint == "" {
		errs = append(errs, errors.New("cdx_endpoint must be set"))
	}
	if c.ArchiveURL == "" {
		errs = append(errs, errors.New("archive_url must be set"))
	}
	if c.HTTP.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("http.requests_per_second must not be negative, got %v", c.HTTP.RequestsPerSecond))
	}
	if c.HTTP.Retry.Attempts < 0 {
		errs = append(errs, fmt.Errorf("http.retry.attempts must not be negative, got %d", c.HTTP.Retry.Attempts))
	}
	return errors.Join(errs...)
}
