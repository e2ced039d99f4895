// Package config loads and validates codeatlas configuration.
// Configuration is an explicit struct passed into constructors; there are no
// package-level defaults consulted at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all codeatlas configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Pipeline execution settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Deep Research settings
	Research ResearchConfig `yaml:"research"`

	// Checkpoint store settings
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model collaborator.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// PipelineConfig configures the phase state machine and schedulers.
type PipelineConfig struct {
	// Max in-flight file analyses during BottomUp.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Max in-flight domain syntheses during Consolidation.
	MaxDomainConcurrent int `yaml:"max_domain_concurrent"`

	// Extra refinement rounds after phase 6 is first reached (bounded 0-3).
	RefinementRounds int `yaml:"refinement_rounds"`

	// Refinement stops early once profile confidence reaches this value.
	ConfidenceTarget float64 `yaml:"confidence_target"`

	// Per-file retry cap; exhausted files stay in the failed bucket.
	MaxFileRetries int `yaml:"max_file_retries"`

	// Hard wall-clock bound for a whole run.
	RunTimeout string `yaml:"run_timeout"`

	// Key area path prefixes mapped to importance (high/medium/low).
	KeyAreas map[string]string `yaml:"key_areas"`
}

// ResearchConfig configures the Deep Research iterator.
type ResearchConfig struct {
	// Iterations per tier (including Planning and Synthesizing).
	ImportantIterations int `yaml:"important_iterations"`
	CoreIterations      int `yaml:"core_iterations"`

	// Per-iteration content budgets in characters.
	ImportantBudget int `yaml:"important_budget"`
	CoreBudget      int `yaml:"core_budget"`
}

// StoreConfig configures the SQLite checkpoint store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized debug logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "120s",
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:       3,
			MaxDomainConcurrent: 3,
			RefinementRounds:    1,
			ConfidenceTarget:    0.9,
			MaxFileRetries:      3,
			RunTimeout:          "45m",
		},
		Research: ResearchConfig{
			ImportantIterations: 3,
			CoreIterations:      4,
			ImportantBudget:     8000,
			CoreBudget:          12000,
		},
		Store: StoreConfig{
			DatabasePath: ".atlas/atlas.db",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from .atlas/config.yaml under the workspace, falling back
// to defaults when the file is absent. Environment variables override:
// ATLAS_API_KEY, ATLAS_DB_PATH.
func Load(workspace string) (Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".atlas", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATLAS_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ATLAS_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
}

// Validate checks bounds and clamps bounded values.
func (c *Config) Validate() error {
	if c.Pipeline.MaxConcurrent < 1 {
		c.Pipeline.MaxConcurrent = 1
	}
	if c.Pipeline.MaxDomainConcurrent < 1 {
		c.Pipeline.MaxDomainConcurrent = 1
	}
	if c.Pipeline.RefinementRounds < 0 {
		c.Pipeline.RefinementRounds = 0
	}
	if c.Pipeline.RefinementRounds > 3 {
		c.Pipeline.RefinementRounds = 3
	}
	if c.Pipeline.MaxFileRetries < 1 {
		c.Pipeline.MaxFileRetries = 1
	}
	if c.Research.ImportantIterations < 2 {
		return fmt.Errorf("research.important_iterations must be >= 2 (planning + synthesis)")
	}
	if c.Research.CoreIterations < 2 {
		return fmt.Errorf("research.core_iterations must be >= 2 (planning + synthesis)")
	}
	return nil
}

// RunTimeout parses the run timeout, defaulting to 45 minutes.
func (c *Config) RunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.RunTimeout)
	if err != nil || d <= 0 {
		return 45 * time.Minute
	}
	return d
}

// LLMTimeout parses the per-call LLM timeout, defaulting to 2 minutes.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}
