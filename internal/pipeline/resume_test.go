package pipeline

import (
	"testing"

	"codeatlas/internal/store"
)

func TestInferResumePhase(t *testing.T) {
	tests := []struct {
		name  string
		state store.CheckpointState
		want  Phase
	}{
		{
			name:  "fresh session",
			state: store.CheckpointState{},
			want:  0,
		},
		{
			name:  "marker only",
			state: store.CheckpointState{Phase: 2, TotalFiles: 10},
			want:  PhaseFileDiscovery,
		},
		{
			name: "crash between discovery work and marker write",
			// Files registered but the phase 2 marker never landed.
			state: store.CheckpointState{Phase: 1, TotalFiles: 10},
			want:  PhaseFileDiscovery,
		},
		{
			name:  "all files analyzed raises past bottom-up",
			state: store.CheckpointState{Phase: 2, TotalFiles: 10, AnalyzedFiles: 10},
			want:  PhaseBottomUp,
		},
		{
			name:  "partial analysis does not raise",
			state: store.CheckpointState{Phase: 2, TotalFiles: 10, AnalyzedFiles: 7},
			want:  PhaseFileDiscovery,
		},
		{
			name:  "module summaries imply top-down done",
			state: store.CheckpointState{Phase: 3, TotalFiles: 10, AnalyzedFiles: 10, ModuleCount: 2},
			want:  PhaseTopDown,
		},
		{
			name:  "domain summaries imply consolidation done",
			state: store.CheckpointState{Phase: 4, TotalFiles: 10, AnalyzedFiles: 10, ModuleCount: 2, DomainCount: 3},
			want:  PhaseConsolidation,
		},
		{
			name: "stored marker is the floor",
			// Marker says consolidation done even though no signals back it;
			// inference never lowers below the marker.
			state: store.CheckpointState{Phase: 5},
			want:  PhaseConsolidation,
		},
		{
			name:  "completed session stays completed",
			state: store.CheckpointState{Phase: 6, TotalFiles: 10, AnalyzedFiles: 10, ModuleCount: 2, DomainCount: 3},
			want:  PhaseRefinement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferResumePhase(&tt.state); got != tt.want {
				t.Errorf("InferResumePhase = %d (%s), want %d (%s)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseBottomUp.String() != "bottom_up" {
		t.Errorf("PhaseBottomUp.String() = %q", PhaseBottomUp.String())
	}
	if Phase(99).String() != "unknown(99)" {
		t.Errorf("unknown phase String() = %q", Phase(99).String())
	}
}
