package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"codeatlas/internal/agents"
	"codeatlas/internal/analyzer"
	"codeatlas/internal/config"
	"codeatlas/internal/discovery"
	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
	"codeatlas/internal/registry"
	"codeatlas/internal/scheduler"
	"codeatlas/internal/store"
)

// Runner drives the phase state machine for one session to completion or to
// the next safe suspension point.
type Runner struct {
	store  *store.CheckpointStore
	client llm.Client
	cfg    config.Config
}

// NewRunner creates a runner. The configuration is passed by value; the
// runner consults no ambient globals.
func NewRunner(st *store.CheckpointStore, client llm.Client, cfg config.Config) *Runner {
	return &Runner{store: st, client: client, cfg: cfg}
}

// checkpointBlob is the opaque session checkpoint persisted at each phase
// completion.
type checkpointBlob struct {
	Profile agents.Profile `json:"profile"`
}

// Run executes all phases not yet completed for the session. A missing
// session is fatal-to-session; per-file and per-agent failures are recorded
// and the run continues past them.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		return err // session-identity failures propagate to the top
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout())
	defer cancel()

	state, err := r.store.LoadCheckpointState(sessionID)
	if err != nil {
		return err
	}
	resume := InferResumePhase(state)

	logging.Pipeline("Run starting: session=%s resume_phase=%d(%s)", sessionID, resume, resume)

	// Every run re-walks the repository: the scan is cheap, in-memory-only,
	// and the file inventory must reflect the tree as it exists now.
	scan, err := discovery.Walk(sess.ProjectPath)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	// The registry is rebuilt from the checkpoint store, never persisted.
	reg := registry.New()
	if err := r.rebuildRegistry(sessionID, reg); err != nil {
		return err
	}

	orch := agents.NewOrchestrator(r.store, r.client)
	anlz := analyzer.New(r.store, r.client, reg, r.cfg)

	profile, err := r.restoreProfile(state, resume)
	if err != nil {
		return err
	}

	// Failed files with retry budget left re-open BottomUp even though its
	// phase marker was written: per-file failures never abort the batch, so
	// the marker alone does not mean every file is done.
	retryBottomUp, err := r.hasRetryableFailures(sessionID, resume)
	if err != nil {
		return err
	}
	if retryBottomUp {
		logging.Pipeline("Re-entering bottom_up on resume: failed files with retries remaining")
	}

	for _, phase := range allPhases {
		skip := phase <= resume && phase != PhaseRefinement
		if phase == PhaseBottomUp && retryBottomUp {
			skip = false
		}
		if skip {
			logging.PipelineDebug("Phase already completed, skipping: %s", phase)
			continue
		}
		if err := ctx.Err(); err != nil {
			// Timeout or cancellation: no new phases are scheduled.
			// Completed phases are already checkpointed.
			logging.Pipeline("Run suspended before phase %s: %v", phase, err)
			return err
		}

		logging.Pipeline("=== Phase started: %s ===", phase)

		switch phase {
		case PhaseCharacterization:
			profile, err = r.runCharacterization(ctx, sessionID, orch, scan)
		case PhaseFileDiscovery:
			err = r.runFileDiscovery(sessionID, scan)
		case PhaseBottomUp:
			err = anlz.RunBottomUp(ctx, sessionID, scan, profile)
		case PhaseTopDown:
			err = r.runTopDown(ctx, sessionID, orch, scan, reg, profile)
		case PhaseConsolidation:
			err = anlz.RunConsolidation(ctx, sessionID)
		case PhaseRefinement:
			profile, err = r.runRefinement(sessionID, scan, profile)
		}
		if err != nil {
			return fmt.Errorf("phase %s: %w", phase, err)
		}

		blob, _ := json.Marshal(checkpointBlob{Profile: profile})
		if err := r.store.CompletePhase(sessionID, int(phase), blob); err != nil {
			return err
		}
		logging.Pipeline("=== Phase completed: %s ===", phase)
	}

	return nil
}

func (r *Runner) runCharacterization(ctx context.Context, sessionID string, orch *agents.Orchestrator, scan *discovery.Scan) (agents.Profile, error) {
	insights, err := orch.RunTurns(ctx, sessionID, agents.CharacterizationRoster(),
		agents.TurnContext{Scan: scan})
	if err != nil {
		return agents.Profile{}, err
	}
	return agents.SynthesizeProfile(insights, scan.TopDirs), nil
}

func (r *Runner) runFileDiscovery(sessionID string, scan *discovery.Scan) error {
	if err := r.store.SetTotalFiles(sessionID, len(scan.Files)); err != nil {
		return err
	}
	return r.store.RegisterFiles(sessionID, scan.Paths())
}

func (r *Runner) runTopDown(ctx context.Context, sessionID string, orch *agents.Orchestrator, scan *discovery.Scan, reg *registry.InsightRegistry, profile agents.Profile) error {
	roster := agents.TopDownRoster(profile, reg.Snapshot())
	insights, err := orch.RunTurns(ctx, sessionID, roster, agents.TurnContext{Scan: scan})
	if err != nil {
		return err
	}

	// Persist module summaries from the top-down payloads; their presence is
	// the phase >= 4 resume signal.
	for name, ins := range insights {
		if !isTopDownAgent(name, roster) {
			continue
		}
		var payload agents.TopDownModulePayload
		if err := json.Unmarshal(ins.Payload, &payload); err != nil {
			logging.AgentsDebug("Unparseable top-down payload from %s, skipping", name)
			continue
		}
		// One row per named module. A payload without a module list still
		// leaves a row so the resume signal holds.
		modules := payload.Modules
		if len(modules) == 0 {
			modules = []string{name}
		}
		for _, module := range modules {
			if err := r.store.RecordModuleSummary(sessionID, store.ModuleSummary{
				Module:  module,
				Summary: payload.Summary,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// runRefinement re-derives the synthesized profile from the merged turn
// outputs for each configured round, bumping the characterization-turns
// counter rather than the phase marker. Rounds stop early once the profile
// confidence reaches the configured target.
func (r *Runner) runRefinement(sessionID string, scan *discovery.Scan, profile agents.Profile) (agents.Profile, error) {
	for round := 1; round <= r.cfg.Pipeline.RefinementRounds; round++ {
		if profile.Confidence >= r.cfg.Pipeline.ConfidenceTarget {
			logging.Pipeline("Refinement stopping early: confidence=%.2f target=%.2f",
				profile.Confidence, r.cfg.Pipeline.ConfidenceTarget)
			break
		}

		insights, err := r.store.LoadAgentInsights(sessionID)
		if err != nil {
			return profile, err
		}
		merged := make(map[string]store.AgentInsight, len(insights))
		for _, ins := range insights {
			merged[ins.Agent] = ins
		}

		profile = agents.SynthesizeProfile(merged, scan.TopDirs)
		if err := r.store.BumpCharacterizationTurns(sessionID); err != nil {
			return profile, err
		}
		logging.Pipeline("Refinement round %d complete: confidence=%.2f", round, profile.Confidence)
	}
	return profile, nil
}

// hasRetryableFailures reports whether a session past BottomUp still has
// failed files eligible for another attempt.
func (r *Runner) hasRetryableFailures(sessionID string, resume Phase) (bool, error) {
	if resume < PhaseBottomUp {
		return false, nil
	}
	progress, err := r.store.AnalysisProgress(sessionID)
	if err != nil {
		return false, err
	}
	if progress.Failed == 0 {
		return false, nil
	}
	pending, err := r.store.PendingFiles(sessionID, r.cfg.Pipeline.MaxFileRetries, 1, 0)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// rebuildRegistry loads completed analyses from the store into the fresh
// in-process registry.
func (r *Runner) rebuildRegistry(sessionID string, reg *registry.InsightRegistry) error {
	analyses, err := r.store.LoadFileAnalyses(sessionID)
	if err != nil {
		return err
	}
	for _, cp := range analyses {
		var related []string
		if cp.Relations != "" {
			_ = json.Unmarshal([]byte(cp.Relations), &related)
		}
		if err := reg.Publish(registry.FileInsight{
			Path:     cp.Path,
			Purpose:  cp.Purpose,
			Content:  cp.Content,
			Diagram:  cp.Diagram,
			Related:  related,
			Tier:     tierFromLabel(cp.Importance),
			Language: cp.Language,
		}); err != nil {
			return fmt.Errorf("registry rebuild: %w", err)
		}
	}
	if n := len(analyses); n > 0 {
		logging.Registry("Registry rebuilt from store: %d insights", n)
	}
	return nil
}

// restoreProfile recovers the synthesized profile from the checkpoint blob
// when resuming past Characterization. A session resumed past phase 1 with
// no recoverable profile is an unresumable inconsistency.
func (r *Runner) restoreProfile(state *store.CheckpointState, resume Phase) (agents.Profile, error) {
	if resume < PhaseCharacterization {
		return agents.Profile{}, nil
	}
	var blob checkpointBlob
	if len(state.Checkpoint) > 0 {
		if err := json.Unmarshal(state.Checkpoint, &blob); err == nil && blob.Profile.KeyAreas != nil {
			return blob.Profile, nil
		}
	}
	if resume >= PhaseBottomUp {
		return agents.Profile{}, errors.New("checkpoint blob missing synthesized profile; session is not resumable")
	}
	return agents.Profile{}, nil
}

func isTopDownAgent(name string, roster []agents.Agent) bool {
	for _, a := range roster {
		if a.Name == name {
			return true
		}
	}
	return false
}

func tierFromLabel(label string) scheduler.Tier {
	switch label {
	case "core":
		return scheduler.TierCore
	case "important":
		return scheduler.TierImportant
	case "standard":
		return scheduler.TierStandard
	default:
		return scheduler.TierLeaf
	}
}
