package agents

import (
	"encoding/json"
	"testing"

	"codeatlas/internal/store"
)

func insight(agent string, confidence float64, payload map[string]interface{}) store.AgentInsight {
	raw, _ := json.Marshal(payload)
	return store.AgentInsight{Agent: agent, Confidence: confidence, Payload: raw}
}

func TestSynthesizeProfile(t *testing.T) {
	insights := map[string]store.AgentInsight{
		AgentSynthesis: insight(AgentSynthesis, 0.8, map[string]interface{}{
			"summary": "a REST API server",
		}),
		AgentArchitecture: insight(AgentArchitecture, 0.6, map[string]interface{}{
			"summary": "layered service with HTTP handlers",
		}),
		AgentLanguage: insight(AgentLanguage, 1.0, map[string]interface{}{
			"summary":  "Rust",
			"findings": []string{"Rust"},
		}),
		AgentStructure: insight(AgentStructure, 0.6, map[string]interface{}{
			"summary":  "standard layout",
			"findings": []string{"src", "cmd", "tests"},
		}),
	}

	p := SynthesizeProfile(insights, nil)

	if p.Kind != "service" {
		t.Errorf("Kind = %q, want service", p.Kind)
	}
	if p.Summary != "a REST API server" {
		t.Errorf("Summary = %q", p.Summary)
	}
	if len(p.Languages) != 1 || p.Languages[0] != "Rust" {
		t.Errorf("Languages = %v", p.Languages)
	}
	if p.KeyAreas["cmd"] != "high" || p.KeyAreas["src"] != "medium" || p.KeyAreas["tests"] != "low" {
		t.Errorf("KeyAreas = %v", p.KeyAreas)
	}
	if p.Confidence != 0.75 {
		t.Errorf("Confidence = %v, want mean 0.75", p.Confidence)
	}
}

func TestSynthesizeProfileFallsBackToTopDirs(t *testing.T) {
	p := SynthesizeProfile(map[string]store.AgentInsight{}, []string{"src", "docs"})

	if p.Summary != "Uncharacterized project" {
		t.Errorf("Summary = %q", p.Summary)
	}
	if p.KeyAreas["src"] != "medium" || p.KeyAreas["docs"] != "low" {
		t.Errorf("KeyAreas = %v", p.KeyAreas)
	}
	if p.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", p.Confidence)
	}
}

func TestSynthesizeProfileIgnoresForeignAgents(t *testing.T) {
	insights := map[string]store.AgentInsight{
		AgentSynthesis: insight(AgentSynthesis, 0.8, map[string]interface{}{"summary": "a cli tool"}),
		AgentArchitecture: insight(AgentArchitecture, 0.8, map[string]interface{}{
			"summary": "command pipeline",
		}),
		// Top-down insights share the table but must not affect the profile.
		AgentTopDownArchitecture: insight(AgentTopDownArchitecture, 0.1, map[string]interface{}{
			"summary": "noise",
		}),
	}

	p := SynthesizeProfile(insights, nil)
	if p.Kind != "cli" {
		t.Errorf("Kind = %q, want cli", p.Kind)
	}
	if p.Confidence != 0.8 {
		t.Errorf("Confidence = %v, top-down confidence must not dilute the mean", p.Confidence)
	}
}

func TestTopDownRosterSelection(t *testing.T) {
	base := TopDownRoster(Profile{Kind: "library"}, nil)
	if len(base) != 2 {
		t.Fatalf("library roster = %d agents, want 2", len(base))
	}

	svc := TopDownRoster(Profile{Kind: "service"}, nil)
	if len(svc) != 3 || svc[2].Name != AgentTopDownAPI {
		t.Errorf("service roster should add the API agent, got %d agents", len(svc))
	}

	cli := TopDownRoster(Profile{Kind: "cli"}, nil)
	if len(cli) != 3 || cli[2].Name != AgentTopDownCLI {
		t.Errorf("cli roster should add the CLI agent, got %d agents", len(cli))
	}
}
