// Package config loads and validates the pipeline configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a pipeline pass. Components receive the
// sub-struct they need through their constructors; there is no ambient
// global configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Splitter SplitterConfig `yaml:"splitter"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Vertex   VertexConfig   `yaml:"vertex"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Index    IndexConfig    `yaml:"index"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	InboxDir string `yaml:"inbox_dir"` // scanned for new PDFs
	DataDir  string `yaml:"data_dir"`  // per-document workspaces and the database
}

// DatabasePath is the SQLite database of record inside the data directory.
func (p PathsConfig) DatabasePath() string {
	return filepath.Join(p.DataDir, "docpipe.db")
}

// ScannerConfig tunes document ingestion.
type ScannerConfig struct {
	ProcessMode string `yaml:"process_mode"` // "text" or "text_image"
}

// SplitterConfig tunes document splitting.
type SplitterConfig struct {
	PagesPerUnit int `yaml:"pages_per_unit"`
	BatchSize    int `yaml:"batch_size"`
}

// AnalysisConfig holds the external analysis service connection and the
// pacing of job submission and polling.
type AnalysisConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	SubmitInterval time.Duration `yaml:"submit_interval"`
	PollPeriod     time.Duration `yaml:"poll_period"`
	MaxWaitTime    time.Duration `yaml:"max_wait_time"`
	BatchSize      int           `yaml:"batch_size"`
}

// VertexConfig holds the Vertex AI settings for figure description.
type VertexConfig struct {
	ProjectID   string `yaml:"project_id"`
	Region      string `yaml:"region"`
	Model       string `yaml:"model"`
	Concurrency int    `yaml:"concurrency"`
}

// ChunkingConfig tunes the chunker, in approximate token units.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// IndexConfig holds the downstream search-index collaborator connection.
type IndexConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	IndexName string `yaml:"index_name"`
	BatchSize int    `yaml:"batch_size"`
}

// ArchiveConfig holds the optional GCS mirror of finished bundles.
type ArchiveConfig struct {
	Bucket      string `yaml:"bucket"` // empty disables archiving
	Concurrency int    `yaml:"concurrency"`
}

// Load reads and parses the config file at path, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets credentials and endpoints come from the environment
// rather than the config file.
func applyEnvOverrides(cfg *Config) {
	cfg.Analysis.Endpoint = GetEnv("ANALYSIS_ENDPOINT", cfg.Analysis.Endpoint)
	cfg.Analysis.APIKey = GetEnv("ANALYSIS_API_KEY", cfg.Analysis.APIKey)
	cfg.Index.Endpoint = GetEnv("INDEX_ENDPOINT", cfg.Index.Endpoint)
	cfg.Index.APIKey = GetEnv("INDEX_API_KEY", cfg.Index.APIKey)
	cfg.Vertex.ProjectID = GetEnv("PROJECT_ID", cfg.Vertex.ProjectID)
	cfg.Vertex.Region = GetEnv("VERTEX_AI_REGION", cfg.Vertex.Region)
	cfg.Archive.Bucket = GetEnv("ARCHIVE_BUCKET", cfg.Archive.Bucket)
}

// ApplyDefaults fills unset fields with working defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = "data"
	}
	if cfg.Paths.InboxDir == "" {
		cfg.Paths.InboxDir = filepath.Join(cfg.Paths.DataDir, "inbox")
	}
	if cfg.Scanner.ProcessMode == "" {
		cfg.Scanner.ProcessMode = "text_image"
	}
	if cfg.Splitter.PagesPerUnit == 0 {
		cfg.Splitter.PagesPerUnit = 10
	}
	if cfg.Splitter.BatchSize == 0 {
		cfg.Splitter.BatchSize = 10
	}
	if cfg.Analysis.SubmitInterval == 0 {
		cfg.Analysis.SubmitInterval = 3 * time.Second
	}
	if cfg.Analysis.PollPeriod == 0 {
		cfg.Analysis.PollPeriod = 10 * time.Second
	}
	if cfg.Analysis.MaxWaitTime == 0 {
		cfg.Analysis.MaxWaitTime = 10 * time.Minute
	}
	if cfg.Analysis.BatchSize == 0 {
		cfg.Analysis.BatchSize = 20
	}
	if cfg.Vertex.Region == "" {
		cfg.Vertex.Region = "us-central1"
	}
	if cfg.Vertex.Model == "" {
		cfg.Vertex.Model = "gemini-1.5-pro"
	}
	if cfg.Vertex.Concurrency == 0 {
		cfg.Vertex.Concurrency = 4
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 512
	}
	if cfg.Index.IndexName == "" {
		cfg.Index.IndexName = "documents"
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 50
	}
	if cfg.Archive.Concurrency == 0 {
		cfg.Archive.Concurrency = 10
	}
}

// Validate rejects configurations that would make a pass misbehave rather
// than fail a single entity.
func (c *Config) Validate() error {
	if c.Scanner.ProcessMode != "text" && c.Scanner.ProcessMode != "text_image" {
		return fmt.Errorf("scanner.process_mode must be \"text\" or \"text_image\", got %q", c.Scanner.ProcessMode)
	}
	if c.Splitter.PagesPerUnit <= 0 {
		return fmt.Errorf("splitter.pages_per_unit must be a positive integer, got %d", c.Splitter.PagesPerUnit)
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be a positive integer, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Analysis.PollPeriod <= 0 || c.Analysis.MaxWaitTime <= 0 {
		return fmt.Errorf("analysis.poll_period and analysis.max_wait_time must be positive")
	}
	return nil
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
