package pipeline

import (
	"codeatlas/internal/logging"
	"codeatlas/internal/store"
)

// InferResumePhase determines the furthest safely-completed phase for a
// session, cross-checking the stored phase marker against phase-specific
// completion signals. The redundancy defends against a crash between "work
// done" and "phase marker written": inference can raise the resume point
// above the marker, never lower it below.
//
// Signals: module summaries exist => TopDown done (>= 4); domain summaries
// exist => Consolidation done (>= 5). This reconstruction from row counts is
// a documented policy choice, not a guarantee; the stored marker remains the
// floor.
func InferResumePhase(state *store.CheckpointState) Phase {
	inferred := Phase(state.Phase)

	if state.TotalFiles > 0 && Phase(state.Phase) < PhaseFileDiscovery {
		inferred = PhaseFileDiscovery
	}
	if state.TotalFiles > 0 && state.AnalyzedFiles >= state.TotalFiles && inferred < PhaseBottomUp {
		inferred = PhaseBottomUp
	}
	if state.ModuleCount > 0 && inferred < PhaseTopDown {
		inferred = PhaseTopDown
	}
	if state.DomainCount > 0 && inferred < PhaseConsolidation {
		inferred = PhaseConsolidation
	}

	// The stored marker is the floor.
	if Phase(state.Phase) > inferred {
		inferred = Phase(state.Phase)
	}

	if inferred != Phase(state.Phase) {
		logging.Pipeline("Resume inference raised phase: marker=%d inferred=%d (modules=%d domains=%d analyzed=%d/%d)",
			state.Phase, inferred, state.ModuleCount, state.DomainCount,
			state.AnalyzedFiles, state.TotalFiles)
	}
	return inferred
}
