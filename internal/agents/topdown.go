package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"codeatlas/internal/llm"
	"codeatlas/internal/registry"
)

// TopDown agent names carry a prefix so their insights are distinguishable
// from characterization insights in the same table.
const (
	AgentTopDownArchitecture = "topdown.architecture"
	AgentTopDownDependencies = "topdown.dependencies"
	AgentTopDownAPI          = "topdown.api"
	AgentTopDownCLI          = "topdown.cli"
)

var topDownSchema = llm.Schema{
	Properties: map[string]string{
		"summary":    "string",
		"modules":    "array",
		"confidence": "number",
	},
	Required: []string{"summary"},
}

// TopDownRoster selects the single-turn TopDown agents from the synthesized
// profile: architecture and dependency agents always run; an API agent is
// added for services and a CLI agent for command-line projects.
func TopDownRoster(profile Profile, insights []registry.FileInsight) []Agent {
	roster := []Agent{
		topDownAgent(AgentTopDownArchitecture,
			"Derive the project-wide module architecture from the completed file analyses.",
			profile, insights),
		topDownAgent(AgentTopDownDependencies,
			"Derive the project-wide dependency relationships from the completed file analyses.",
			profile, insights),
	}

	switch profile.Kind {
	case "service":
		roster = append(roster, topDownAgent(AgentTopDownAPI,
			"Document the service's API surface from the completed file analyses.",
			profile, insights))
	case "cli":
		roster = append(roster, topDownAgent(AgentTopDownCLI,
			"Document the command-line interface from the completed file analyses.",
			profile, insights))
	}
	return roster
}

func topDownAgent(name, task string, profile Profile, insights []registry.FileInsight) Agent {
	return Agent{
		Name:   name,
		Turn:   1,
		Schema: topDownSchema,
		Prompt: func(tc TurnContext) string {
			var b strings.Builder
			b.WriteString(task)
			fmt.Fprintf(&b, "\n\nProject: %s (%s)\n", profile.Summary, profile.Kind)
			b.WriteString("\nCompleted file insights:\n")
			for _, ins := range insights {
				fmt.Fprintf(&b, "- %s [%s]: %s\n", ins.Path, ins.Tier, ins.Purpose)
			}
			return b.String()
		},
		Fallback: func(tc TurnContext) (json.RawMessage, float64) {
			// Group completed insights by top-level directory as a crude
			// module map.
			modules := make(map[string]int)
			for _, ins := range insights {
				if i := strings.IndexByte(ins.Path, '/'); i > 0 {
					modules[ins.Path[:i]]++
				}
			}
			names := make([]string, 0, len(modules))
			for m := range modules {
				names = append(names, m)
			}
			payload, _ := json.Marshal(map[string]interface{}{
				"summary": fmt.Sprintf("%d modules inferred from directory layout", len(names)),
				"modules": names,
			})
			return payload, 0.3
		},
	}
}

// TopDownModulePayload is the typed shape of a top-down agent payload,
// decoded where module summaries are recorded.
type TopDownModulePayload struct {
	Summary string   `json:"summary"`
	Modules []string `json:"modules"`
}
