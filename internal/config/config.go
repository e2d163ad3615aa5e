// Package config holds the retrace configuration, loaded once at startup
// from a YAML file. There is no hot-reload: the ingestion pipeline and the
// stores are wired from a single immutable snapshot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// DataDir is the root directory for the databases, thumbnails and
	// any other derived assets. Defaults to ~/.retrace.
	DataDir string `yaml:"data_dir"`

	// RetentionDays bounds how long records are kept. Applied only by an
	// explicit maintenance sweep, never as a side effect of ingestion.
	RetentionDays int `yaml:"retention_days"`

	Capture   CaptureConfig   `yaml:"capture"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// CaptureConfig describes the external capture/OCR source.
type CaptureConfig struct {
	// BaseURL of the capture service, e.g. http://127.0.0.1:23119.
	BaseURL string `yaml:"base_url"`

	// PollInterval between event pages. The source is itself a polling
	// API, so retrace polls at a fixed cadence rather than subscribing.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PageLimit is the max events requested per poll cycle.
	PageLimit int `yaml:"page_limit"`
}

// DedupeConfig tunes the frame deduplicator.
type DedupeConfig struct {
	// Threshold is the similarity score at or above which a frame is
	// declared a duplicate of a recent prior frame.
	Threshold float64 `yaml:"threshold"`

	// IndexDuplicateText controls whether a frame judged a near-duplicate
	// still has its OCR text merged into the matched prior record. OCR a
	// few seconds apart can differ even when the frame does not.
	IndexDuplicateText bool `yaml:"index_duplicate_text"`
}

// EmbeddingConfig describes the embedding provider and the async indexer.
type EmbeddingConfig struct {
	// APIKey for the provider. Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible).
	BaseURL string `yaml:"base_url"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// QueueDepth bounds the async indexing queue. When full, the oldest
	// pending item is dropped and counted rather than blocking ingestion.
	QueueDepth int `yaml:"queue_depth"`

	// BatchSize is the max texts per provider call.
	BatchSize int `yaml:"batch_size"`

	// RequestsPerMinute rate-limits provider calls. 0 disables the limit.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// HTTPConfig describes the search/stats API surface.
type HTTPConfig struct {
	// Addr to listen on, e.g. 127.0.0.1:7340.
	Addr string `yaml:"addr"`

	// Token enables bearer auth when non-empty.
	Token string `yaml:"token"`

	// RateLimitRPM limits requests per client IP per minute. 0 disables.
	RateLimitRPM int `yaml:"rate_limit_rpm"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:       "~/.retrace",
		RetentionDays: 90,
		Capture: CaptureConfig{
			BaseURL:      "http://127.0.0.1:23119",
			PollInterval: 5 * time.Second,
			PageLimit:    50,
		},
		Dedupe: DedupeConfig{
			Threshold:          0.85,
			IndexDuplicateText: true,
		},
		Embedding: EmbeddingConfig{
			Model:             "text-embedding-3-small",
			QueueDepth:        512,
			BatchSize:         16,
			RequestsPerMinute: 60,
		},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:7340",
			RateLimitRPM: 300,
		},
	}
}

// DefaultPath returns the default config file location (~/.retrace/config.yaml).
func DefaultPath() string {
	return filepath.Join(ExpandHome("~/.retrace"), "config.yaml")
}

// Load reads and validates a config file. Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyFallbacks fills zero values with defaults and resolves env credentials.
func (c *Config) applyFallbacks() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Capture.PollInterval <= 0 {
		c.Capture.PollInterval = d.Capture.PollInterval
	}
	if c.Capture.PageLimit <= 0 {
		c.Capture.PageLimit = d.Capture.PageLimit
	}
	if c.Dedupe.Threshold <= 0 {
		c.Dedupe.Threshold = d.Dedupe.Threshold
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = d.Embedding.Model
	}
	if c.Embedding.QueueDepth <= 0 {
		c.Embedding.QueueDepth = d.Embedding.QueueDepth
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = d.Embedding.BatchSize
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Capture.BaseURL == "" {
		return fmt.Errorf("capture.base_url is required")
	}
	if c.Dedupe.Threshold < 0 || c.Dedupe.Threshold > 1 {
		return fmt.Errorf("dedupe.threshold must be in [0,1], got %v", c.Dedupe.Threshold)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be >= 0, got %d", c.RetentionDays)
	}
	return nil
}

// ResolvedDataDir returns DataDir with ~ expanded.
func (c *Config) ResolvedDataDir() string {
	return ExpandHome(c.DataDir)
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
