// Package pipeline implements the six-phase state machine that drives a
// documentation run, including the multi-granularity resume protocol.
package pipeline

import "fmt"

// Phase is one of the six ordered pipeline stages.
type Phase int

const (
	PhaseCharacterization Phase = 1
	PhaseFileDiscovery    Phase = 2
	PhaseBottomUp         Phase = 3
	PhaseTopDown          Phase = 4
	PhaseConsolidation    Phase = 5
	PhaseRefinement       Phase = 6
)

func (p Phase) String() string {
	switch p {
	case PhaseCharacterization:
		return "characterization"
	case PhaseFileDiscovery:
		return "file_discovery"
	case PhaseBottomUp:
		return "bottom_up"
	case PhaseTopDown:
		return "top_down"
	case PhaseConsolidation:
		return "consolidation"
	case PhaseRefinement:
		return "refinement"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// allPhases in execution order.
var allPhases = []Phase{
	PhaseCharacterization,
	PhaseFileDiscovery,
	PhaseBottomUp,
	PhaseTopDown,
	PhaseConsolidation,
	PhaseRefinement,
}
