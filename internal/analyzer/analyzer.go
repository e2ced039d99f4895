// Package analyzer drives per-file analysis during BottomUp and domain
// consolidation during Consolidation. Files are processed tier by tier in
// scheduler order; within a tier a bounded number of analyses run
// concurrently. Completed results are checkpointed before they are published
// to the in-process registry, so persisted state stays authoritative for
// resume.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"codeatlas/internal/agents"
	"codeatlas/internal/config"
	"codeatlas/internal/discovery"
	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
	"codeatlas/internal/registry"
	"codeatlas/internal/research"
	"codeatlas/internal/scheduler"
	"codeatlas/internal/store"
)

// Analyzer runs file analyses and consolidation for one session.
type Analyzer struct {
	store  *store.CheckpointStore
	client llm.Client
	reg    *registry.InsightRegistry
	parser Parser
	cfg    config.Config
}

// New creates an analyzer.
func New(st *store.CheckpointStore, client llm.Client, reg *registry.InsightRegistry, cfg config.Config) *Analyzer {
	return &Analyzer{
		store:  st,
		client: client,
		reg:    reg,
		parser: HeuristicParser{},
		cfg:    cfg,
	}
}

var analysisSchema = llm.Schema{
	Properties: map[string]string{
		"purpose": "string",
		"content": "string",
		"diagram": "string",
		"related": "array",
	},
	Required: []string{"purpose", "content"},
}

type analysisResponse struct {
	Purpose string   `json:"purpose"`
	Content string   `json:"content"`
	Diagram string   `json:"diagram"`
	Related []string `json:"related"`
}

// RunBottomUp analyzes all pending files tier by tier. Lower tiers complete
// before higher tiers start, so a higher-tier file's analysis can read its
// dependencies' already-published insights. Per-file failures are recorded
// and do not abort the batch.
func (a *Analyzer) RunBottomUp(ctx context.Context, sessionID string, scan *discovery.Scan, profile agents.Profile) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "RunBottomUp")
	defer timer.Stop()

	pending, err := a.pendingSet(sessionID)
	if err != nil {
		return err
	}

	ordered := scheduler.Order(scan.Paths(), scheduler.Profile{KeyAreas: profile.KeyAreas})

	batches := batchByTier(ordered)
	for _, batch := range batches {
		logging.Pipeline("Analyzing tier %s: %d files", batch.tier, len(batch.files))

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(a.cfg.Pipeline.MaxConcurrent)

		for _, file := range batch.files {
			file := file
			if !pending[file.Path] {
				logging.SchedulerDebug("File already analyzed, skipping: %s", file.Path)
				continue
			}
			eg.Go(func() error {
				if err := a.analyzeFile(egCtx, sessionID, scan, file, ordered); err != nil {
					// Cancellation and timeout are run-level suspensions, not
					// file defects: surface them without touching the file's
					// retry budget.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					// Component-local failure: record against this file only.
					reason := err.Error()
					if markErr := a.store.MarkFileFailed(sessionID, file.Path, reason); markErr != nil {
						return fmt.Errorf("failed to record failure for %s: %w", file.Path, markErr)
					}
					logging.Get(logging.CategoryPipeline).Warn("File analysis failed: %s: %v", file.Path, err)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// analyzeFile runs a single file through single-pass analysis or Deep
// Research depending on tier, then checkpoints and publishes the result.
func (a *Analyzer) analyzeFile(ctx context.Context, sessionID string, scan *discovery.Scan, file scheduler.PrioritizedFile, all []scheduler.PrioritizedFile) error {
	info, ok := scan.File(file.Path)
	if !ok {
		return fmt.Errorf("file %s not in discovery scan", file.Path)
	}

	source, err := scan.ReadSource(file.Path)
	if err != nil {
		return err
	}

	facts, relations := a.parser.Parse(file.Path, source)
	childCtx := a.childContext(file, all)

	var resp analysisResponse
	var researchBlob []byte

	if file.Tier >= scheduler.TierImportant {
		iterations, budget := a.researchParams(file.Tier)
		iterator := research.NewIterator(a.client, iterations, budget)
		synthesis, rc, err := iterator.Run(ctx, file.Path, source, childCtx)
		if err != nil {
			return err
		}
		resp.Purpose = synthesis.Purpose
		resp.Content = synthesis.Content
		resp.Related = relations
		researchBlob, _ = rc.Serialize()
	} else {
		raw, err := a.client.Generate(ctx, a.singlePassPrompt(file, source, facts, childCtx), analysisSchema)
		if err != nil {
			return fmt.Errorf("analysis call failed: %w", err)
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("unparseable analysis output: %w", err)
		}
		if len(resp.Related) == 0 {
			resp.Related = relations
		}
	}

	related := a.resolveRelated(resp.Related, file, all)
	relatedJSON, _ := json.Marshal(related)

	cp := store.FileAnalysisCheckpoint{
		Path:       file.Path,
		Language:   info.Language,
		LineCount:  info.Lines,
		Importance: file.Tier.String(),
		Purpose:    resp.Purpose,
		Content:    resp.Content,
		Diagram:    resp.Diagram,
		Relations:  string(relatedJSON),
		Research:   researchBlob,
	}

	// Persist before publishing: the store, not the registry, is the source
	// of truth across a restart.
	if err := a.store.RecordFileAnalysis(sessionID, cp, facts); err != nil {
		return err
	}

	if err := a.reg.Publish(registry.FileInsight{
		Path:     file.Path,
		Purpose:  resp.Purpose,
		Content:  resp.Content,
		Diagram:  resp.Diagram,
		Related:  related,
		Tier:     file.Tier,
		Language: info.Language,
	}); err != nil {
		// Already published this run; the checkpoint write above was a
		// harmless replay.
		logging.RegistryDebug("Publish skipped: %v", err)
	}
	return nil
}

func (a *Analyzer) researchParams(tier scheduler.Tier) (iterations, budget int) {
	if tier == scheduler.TierCore {
		return a.cfg.Research.CoreIterations, a.cfg.Research.CoreBudget
	}
	return a.cfg.Research.ImportantIterations, a.cfg.Research.ImportantBudget
}

// childContext collects purposes of already-published lower-tier neighbors so
// the target's analysis links to them instead of duplicating their content.
func (a *Analyzer) childContext(file scheduler.PrioritizedFile, all []scheduler.PrioritizedFile) string {
	children := scheduler.ChildContextFor(file, all)
	if len(children) == 0 {
		return ""
	}
	var b strings.Builder
	for _, child := range children {
		if insight, ok := a.reg.Get(child.Path); ok {
			fmt.Fprintf(&b, "- %s: %s\n", insight.Path, insight.Purpose)
		}
	}
	return b.String()
}

func (a *Analyzer) singlePassPrompt(file scheduler.PrioritizedFile, source string, facts []store.Fact, childCtx string) string {
	var b strings.Builder
	b.WriteString("Document this source file. Respond with purpose, content, an optional diagram, and related files.\n")
	fmt.Fprintf(&b, "\nFile: %s (tier %s)\n", file.Path, file.Tier)
	if len(facts) > 0 {
		b.WriteString("\nStructural facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s %s\n", f.Kind, f.Name)
		}
	}
	if childCtx != "" {
		b.WriteString("\nAlready-documented neighbors (link, do not duplicate):\n")
		b.WriteString(childCtx)
	}
	b.WriteString("\nSource:\n")
	b.WriteString(research.Truncate(source, a.cfg.Research.ImportantBudget))
	return b.String()
}

// resolveRelated keeps only related entries that name actual project files of
// a strictly lower tier than the target, normalizing loose mentions to paths.
func (a *Analyzer) resolveRelated(mentions []string, target scheduler.PrioritizedFile, all []scheduler.PrioritizedFile) []string {
	byPath := make(map[string]scheduler.PrioritizedFile, len(all))
	for _, f := range all {
		byPath[f.Path] = f
	}

	var related []string
	seen := make(map[string]bool)
	for _, m := range mentions {
		m = strings.TrimSpace(m)
		candidate, ok := byPath[m]
		if !ok {
			// Match by suffix for bare-name mentions.
			for path, f := range byPath {
				if strings.HasSuffix(path, "/"+m) || path == m {
					candidate, ok = f, true
					break
				}
			}
		}
		if !ok || candidate.Path == target.Path || seen[candidate.Path] {
			continue
		}
		if candidate.Tier >= target.Tier && target.Tier >= scheduler.TierImportant {
			continue
		}
		seen[candidate.Path] = true
		related = append(related, candidate.Path)
	}
	return related
}

func (a *Analyzer) pendingSet(sessionID string) (map[string]bool, error) {
	pending := make(map[string]bool)
	for offset := 0; ; offset += 500 {
		page, err := a.store.PendingFiles(sessionID, a.cfg.Pipeline.MaxFileRetries, 500, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			pending[p] = true
		}
		if len(page) < 500 {
			break
		}
	}
	return pending, nil
}

type tierBatch struct {
	tier  scheduler.Tier
	files []scheduler.PrioritizedFile
}

// batchByTier splits an ordered file list into consecutive per-tier batches,
// preserving the scheduler's ordering within each batch.
func batchByTier(ordered []scheduler.PrioritizedFile) []tierBatch {
	var batches []tierBatch
	for _, f := range ordered {
		if len(batches) == 0 || batches[len(batches)-1].tier != f.Tier {
			batches = append(batches, tierBatch{tier: f.Tier})
		}
		batches[len(batches)-1].files = append(batches[len(batches)-1].files, f)
	}
	return batches
}
