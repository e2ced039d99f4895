package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
	"codeatlas/internal/registry"
	"codeatlas/internal/store"
)

var domainSchema = llm.Schema{
	Properties: map[string]string{
		"summary": "string",
	},
	Required: []string{"summary"},
}

// RunConsolidation groups completed insights into domains by top-level
// directory and synthesizes each domain through the LLM with bounded fan-out.
// Domain summaries are upserts, so re-running after a partial failure simply
// rewrites whatever completed before the interruption.
func (a *Analyzer) RunConsolidation(ctx context.Context, sessionID string) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "RunConsolidation")
	defer timer.Stop()

	// Consistent snapshot, not a live view.
	insights := a.reg.Snapshot()
	domains := groupByDomain(insights)

	logging.Pipeline("Consolidating %d insights into %d domains", len(insights), len(domains))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.cfg.Pipeline.MaxDomainConcurrent)

	for _, d := range domains {
		d := d
		eg.Go(func() error {
			summary, err := a.synthesizeDomain(egCtx, d)
			if err != nil {
				// Fall back to a mechanical summary; a single domain's
				// model failure does not abort consolidation.
				logging.Get(logging.CategoryPipeline).Warn(
					"Domain synthesis failed, using fallback: %s: %v", d.name, err)
				summary = fallbackDomainSummary(d)
			}
			return a.store.RecordDomainSummary(sessionID, store.DomainSummary{
				Domain:    d.name,
				Summary:   summary,
				FileCount: len(d.insights),
			})
		})
	}
	return eg.Wait()
}

type domainGroup struct {
	name     string
	insights []registry.FileInsight
}

func groupByDomain(insights []registry.FileInsight) []domainGroup {
	byName := make(map[string][]registry.FileInsight)
	for _, ins := range insights {
		name := "root"
		if i := strings.IndexByte(ins.Path, '/'); i > 0 {
			name = ins.Path[:i]
		}
		byName[name] = append(byName[name], ins)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]domainGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, domainGroup{name: name, insights: byName[name]})
	}
	return groups
}

func (a *Analyzer) synthesizeDomain(ctx context.Context, d domainGroup) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the %q domain of this project from its file documentation.\n\n", d.name)
	for _, ins := range d.insights {
		fmt.Fprintf(&b, "- %s: %s\n", ins.Path, ins.Purpose)
	}

	raw, err := a.client.Generate(ctx, b.String(), domainSchema)
	if err != nil {
		return "", err
	}
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unparseable domain output: %w", err)
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return "", fmt.Errorf("empty domain summary")
	}
	return resp.Summary, nil
}

func fallbackDomainSummary(d domainGroup) string {
	langs := make(map[string]bool)
	for _, ins := range d.insights {
		langs[ins.Language] = true
	}
	return fmt.Sprintf("%d files across %d languages", len(d.insights), len(langs))
}
