package agents

import (
	"encoding/json"
	"strings"

	"codeatlas/internal/logging"
	"codeatlas/internal/store"
)

// Profile is the synthesized project characterization consumed by the
// scheduler and the TopDown phase.
type Profile struct {
	Summary    string
	Kind       string // service, cli, library, application
	Languages  []string
	KeyAreas   map[string]string // path prefix -> importance (high/medium/low)
	Confidence float64
}

// Agent payloads are stored opaquely; they are decoded into typed shapes only
// here, at the boundary where they are consumed.

type summaryPayload struct {
	Summary  string   `json:"summary"`
	Findings []string `json:"findings"`
}

// SynthesizeProfile merges the characterization insights into a Profile.
// Called once when Characterization completes and again for each refinement
// round, which re-derives the profile from the merged turn outputs.
func SynthesizeProfile(insights map[string]store.AgentInsight, topDirs []string) Profile {
	profile := Profile{
		Kind:     "library",
		KeyAreas: make(map[string]string),
	}

	var confidenceSum float64
	var confidenceCount int

	for name, ins := range insights {
		if !isCharacterizationAgent(name) {
			continue
		}
		confidenceSum += ins.Confidence
		confidenceCount++

		var p summaryPayload
		if err := json.Unmarshal(ins.Payload, &p); err != nil {
			logging.AgentsDebug("Unparseable payload from %s, skipping in profile", name)
			continue
		}

		switch name {
		case AgentSynthesis:
			profile.Summary = p.Summary
		case AgentLanguage:
			profile.Languages = p.Findings
		case AgentArchitecture:
			profile.Kind = inferKind(p.Summary)
		case AgentStructure:
			for _, dir := range p.Findings {
				profile.KeyAreas[dir] = importanceFor(dir)
			}
		}
	}

	if profile.Summary == "" {
		profile.Summary = "Uncharacterized project"
	}
	if len(profile.KeyAreas) == 0 {
		for _, dir := range topDirs {
			profile.KeyAreas[dir] = importanceFor(dir)
		}
	}
	if confidenceCount > 0 {
		profile.Confidence = confidenceSum / float64(confidenceCount)
	}

	logging.Agents("Profile synthesized: kind=%s areas=%d confidence=%.2f",
		profile.Kind, len(profile.KeyAreas), profile.Confidence)
	return profile
}

func isCharacterizationAgent(name string) bool {
	switch name {
	case AgentStructure, AgentLanguage, AgentArchitecture, AgentDependencies, AgentSynthesis:
		return true
	}
	return false
}

func inferKind(summary string) string {
	lower := strings.ToLower(summary)
	switch {
	case strings.Contains(lower, "service"), strings.Contains(lower, "server"),
		strings.Contains(lower, "api"):
		return "service"
	case strings.Contains(lower, "cli"), strings.Contains(lower, "command"):
		return "cli"
	case strings.Contains(lower, "application"):
		return "application"
	default:
		return "library"
	}
}

// importanceFor maps well-known directory names to an importance label.
// This is swappable policy data, not mechanism.
func importanceFor(dir string) string {
	lower := strings.ToLower(strings.TrimSuffix(dir, "/"))
	switch lower {
	case "src", "internal", "lib", "core", "pkg":
		return "medium"
	case "cmd", "api", "server":
		return "high"
	case "test", "tests", "testdata", "examples", "docs", "scripts":
		return "low"
	default:
		return "medium"
	}
}
