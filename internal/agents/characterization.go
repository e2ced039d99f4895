package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"codeatlas/internal/llm"
)

// Characterization agent names.
const (
	AgentStructure    = "structure"
	AgentLanguage     = "language"
	AgentArchitecture = "architecture"
	AgentDependencies = "dependencies"
	AgentSynthesis    = "synthesis"
)

var characterizationSchema = llm.Schema{
	Properties: map[string]string{
		"summary":    "string",
		"findings":   "array",
		"confidence": "number",
	},
	Required: []string{"summary"},
}

// CharacterizationRoster returns the three-turn characterization agents:
// turn 1 examines raw structure, turn 2 interprets it, turn 3 synthesizes the
// project profile from both.
func CharacterizationRoster() []Agent {
	return []Agent{
		{
			Name:   AgentStructure,
			Turn:   1,
			Schema: characterizationSchema,
			Prompt: func(tc TurnContext) string {
				return scanPrompt("Describe the directory structure and organization of this project.", tc)
			},
			Fallback: structureFallback,
		},
		{
			Name:   AgentLanguage,
			Turn:   1,
			Schema: characterizationSchema,
			Prompt: func(tc TurnContext) string {
				return scanPrompt("Identify the languages and toolchains used by this project.", tc)
			},
			Fallback: languageFallback,
		},
		{
			Name:   AgentArchitecture,
			Turn:   2,
			Schema: characterizationSchema,
			Prompt: func(tc TurnContext) string {
				return priorPrompt("Infer the architectural style and key areas of this project.", tc)
			},
			Fallback: architectureFallback,
		},
		{
			Name:   AgentDependencies,
			Turn:   2,
			Schema: characterizationSchema,
			Prompt: func(tc TurnContext) string {
				return priorPrompt("Identify the project's notable internal and external dependencies.", tc)
			},
			Fallback: dependenciesFallback,
		},
		{
			Name:   AgentSynthesis,
			Turn:   3,
			Schema: characterizationSchema,
			Prompt: func(tc TurnContext) string {
				return priorPrompt("Synthesize a concise project profile from the prior findings.", tc)
			},
			Fallback: synthesisFallback,
		},
	}
}

func scanPrompt(task string, tc TurnContext) string {
	var b strings.Builder
	b.WriteString(task)
	fmt.Fprintf(&b, "\n\nFiles: %d, total lines: %d\n", len(tc.Scan.Files), tc.Scan.TotalLines)
	fmt.Fprintf(&b, "Top-level directories: %s\n", strings.Join(tc.Scan.TopDirs, ", "))
	fmt.Fprintf(&b, "Entry points: %s\n", strings.Join(tc.Scan.EntryPoints, ", "))
	b.WriteString("Language breakdown:\n")
	for lang, count := range tc.Scan.Languages {
		fmt.Fprintf(&b, "  %s: %d files\n", lang, count)
	}
	return b.String()
}

func priorPrompt(task string, tc TurnContext) string {
	var b strings.Builder
	b.WriteString(scanPrompt(task, tc))
	b.WriteString("\nPrior agent findings:\n")
	for name, ins := range tc.Prior {
		fmt.Fprintf(&b, "[%s] %s\n", name, string(ins.Payload))
	}
	return b.String()
}

// Heuristic fallbacks computed from the discovery scan. Confidence is low so
// refinement rounds know the profile rests on heuristics.

func structureFallback(tc TurnContext) (json.RawMessage, float64) {
	payload, _ := json.Marshal(map[string]interface{}{
		"summary": fmt.Sprintf("%d files across %d top-level directories",
			len(tc.Scan.Files), len(tc.Scan.TopDirs)),
		"findings": tc.Scan.TopDirs,
	})
	return payload, 0.3
}

func languageFallback(tc TurnContext) (json.RawMessage, float64) {
	payload, _ := json.Marshal(map[string]interface{}{
		"summary":  fmt.Sprintf("Dominant language: %s", tc.Scan.DominantLanguage()),
		"findings": languageList(tc),
	})
	return payload, 0.5
}

func architectureFallback(tc TurnContext) (json.RawMessage, float64) {
	kind := "library"
	if len(tc.Scan.EntryPoints) > 0 {
		kind = "application"
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"summary":  fmt.Sprintf("Appears to be a %s project", kind),
		"findings": tc.Scan.EntryPoints,
	})
	return payload, 0.3
}

func dependenciesFallback(tc TurnContext) (json.RawMessage, float64) {
	payload, _ := json.Marshal(map[string]interface{}{
		"summary":  "Dependency analysis unavailable; no manifest inspection performed",
		"findings": []string{},
	})
	return payload, 0.2
}

func synthesisFallback(tc TurnContext) (json.RawMessage, float64) {
	summaries := make([]string, 0, len(tc.Prior))
	for name, ins := range tc.Prior {
		var p struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal(ins.Payload, &p); err == nil && p.Summary != "" {
			summaries = append(summaries, fmt.Sprintf("%s: %s", name, p.Summary))
		}
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"summary":  strings.Join(summaries, "; "),
		"findings": []string{},
	})
	return payload, 0.3
}

func languageList(tc TurnContext) []string {
	langs := make([]string, 0, len(tc.Scan.Languages))
	for lang := range tc.Scan.Languages {
		langs = append(langs, lang)
	}
	return langs
}
