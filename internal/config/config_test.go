package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Pipeline.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Pipeline.MaxConcurrent)
	}
	if cfg.Research.ImportantIterations != 3 || cfg.Research.CoreIterations != 4 {
		t.Errorf("iterations = %d/%d, want 3/4",
			cfg.Research.ImportantIterations, cfg.Research.CoreIterations)
	}
	if cfg.Research.ImportantBudget != 8000 || cfg.Research.CoreBudget != 12000 {
		t.Errorf("budgets = %d/%d, want 8000/12000",
			cfg.Research.ImportantBudget, cfg.Research.CoreBudget)
	}
	if cfg.Pipeline.ConfidenceTarget != 0.9 {
		t.Errorf("ConfidenceTarget = %v, want 0.9", cfg.Pipeline.ConfidenceTarget)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxFileRetries != 3 {
		t.Errorf("MaxFileRetries = %d, want default 3", cfg.Pipeline.MaxFileRetries)
	}
}

func TestLoadReadsYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	atlasDir := filepath.Join(dir, ".atlas")
	if err := os.MkdirAll(atlasDir, 0755); err != nil {
		t.Fatal(err)
	}
	yaml := `
pipeline:
  max_concurrent: 7
  refinement_rounds: 2
llm:
  model: gemini-2.5-pro
`
	if err := os.WriteFile(filepath.Join(atlasDir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ATLAS_API_KEY", "env-key")
	t.Setenv("ATLAS_DB_PATH", "/custom/atlas.db")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7 from yaml", cfg.Pipeline.MaxConcurrent)
	}
	if cfg.Pipeline.RefinementRounds != 2 {
		t.Errorf("RefinementRounds = %d, want 2", cfg.Pipeline.RefinementRounds)
	}
	if cfg.LLM.Model != "gemini-2.5-pro" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("APIKey = %q, env must override", cfg.LLM.APIKey)
	}
	if cfg.Store.DatabasePath != "/custom/atlas.db" {
		t.Errorf("DatabasePath = %q, env must override", cfg.Store.DatabasePath)
	}
}

func TestValidateClampsBounds(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.RefinementRounds = 9
	cfg.Pipeline.MaxConcurrent = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Pipeline.RefinementRounds != 3 {
		t.Errorf("RefinementRounds = %d, want clamped 3", cfg.Pipeline.RefinementRounds)
	}
	if cfg.Pipeline.MaxConcurrent != 1 {
		t.Errorf("MaxConcurrent = %d, want clamped 1", cfg.Pipeline.MaxConcurrent)
	}
}

func TestValidateRejectsDegenerateResearch(t *testing.T) {
	cfg := Default()
	cfg.Research.CoreIterations = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("research with fewer than 2 iterations must be rejected")
	}
}

func TestTimeoutParsing(t *testing.T) {
	cfg := Default()

	if got := cfg.RunTimeout(); got != 45*time.Minute {
		t.Errorf("RunTimeout = %v, want 45m", got)
	}

	cfg.Pipeline.RunTimeout = "garbage"
	if got := cfg.RunTimeout(); got != 45*time.Minute {
		t.Errorf("RunTimeout with bad value = %v, want 45m fallback", got)
	}

	cfg.LLM.Timeout = "30s"
	if got := cfg.LLMTimeout(); got != 30*time.Second {
		t.Errorf("LLMTimeout = %v, want 30s", got)
	}
}
