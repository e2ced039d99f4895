package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
)

// ErrNoSynthesis is returned when the final iteration yields no usable
// purpose/content. Partial research output is not safe to publish as a
// finished insight, so the file fails rather than falling back.
var ErrNoSynthesis = errors.New("deep research produced no synthesis")

// TruncationMarker is appended when iteration content exceeds the budget.
const TruncationMarker = "\n[truncated]"

// Synthesis is the terminal output of a research run.
type Synthesis struct {
	Purpose string
	Content string
}

// Iterator drives the per-file research state machine:
// Planning -> Investigating(2) .. Investigating(k-1) -> Synthesizing.
type Iterator struct {
	client     llm.Client
	iterations int // k, including planning and synthesis
	budget     int // max characters per iteration
}

// NewIterator creates an iterator with k total iterations and a per-iteration
// character budget.
func NewIterator(client llm.Client, iterations, budget int) *Iterator {
	if iterations < 2 {
		iterations = 2
	}
	return &Iterator{client: client, iterations: iterations, budget: budget}
}

type iterationResponse struct {
	Findings string   `json:"findings"`
	Aspects  []string `json:"aspects"`
	Purpose  string   `json:"purpose"`
	Content  string   `json:"content"`
}

var iterationSchema = llm.Schema{
	Properties: map[string]string{
		"findings": "string",
		"aspects":  "array",
		"purpose":  "string",
		"content":  "string",
	},
	Required: []string{"findings"},
}

// Run executes the full state machine for one file and returns the synthesis
// plus the populated research context. Iterations are strictly sequential.
func (it *Iterator) Run(ctx context.Context, path, source, childContext string) (Synthesis, *Context, error) {
	timer := logging.StartTimer(logging.CategoryResearch, "Run "+path)
	defer timer.Stop()

	rc := NewContext(path)

	for round := 1; round <= it.iterations; round++ {
		phase := phaseFor(round, it.iterations)
		logging.Research("Research iteration: file=%s round=%d/%d phase=%s",
			path, round, it.iterations, phase)

		prompt := it.buildPrompt(phase, path, source, childContext, rc)

		raw, err := it.client.Generate(ctx, prompt, iterationSchema)
		if err != nil {
			if phase == PhaseSynthesizing {
				return Synthesis{}, rc, fmt.Errorf("synthesis call failed for %s: %w", path, err)
			}
			// A failed middle iteration is recorded and the run continues;
			// synthesis decides whether enough was gathered.
			logging.Get(logging.CategoryResearch).Warn(
				"Iteration failed, continuing: file=%s round=%d: %v", path, round, err)
			rc.AddIteration(Iteration{Phase: phase, Round: round})
			continue
		}

		var resp iterationResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			if phase == PhaseSynthesizing {
				return Synthesis{}, rc, fmt.Errorf("unparseable synthesis for %s: %w", path, err)
			}
			rc.AddIteration(Iteration{Phase: phase, Round: round})
			continue
		}

		findings := Truncate(resp.Findings, it.budget)

		fresh := rc.AddIteration(Iteration{
			Phase:      phase,
			Round:      round,
			Findings:   findings,
			NewAspects: resp.Aspects,
		})
		logging.ResearchDebug("Iteration recorded: file=%s round=%d new_aspects=%d covered=%d",
			path, round, len(fresh), rc.CoveredCount())

		if phase == PhaseSynthesizing {
			purpose := strings.TrimSpace(resp.Purpose)
			content := strings.TrimSpace(resp.Content)
			if purpose == "" || content == "" {
				return Synthesis{}, rc, fmt.Errorf("%s: %w", path, ErrNoSynthesis)
			}
			return Synthesis{
				Purpose: purpose,
				Content: Truncate(content, it.budget),
			}, rc, nil
		}
	}

	// Unreachable when iterations >= 2: the final round is always synthesis.
	return Synthesis{}, rc, fmt.Errorf("%s: %w", path, ErrNoSynthesis)
}

func phaseFor(round, total int) IterationPhase {
	switch {
	case round == 1:
		return PhasePlanning
	case round == total:
		return PhaseSynthesizing
	default:
		return PhaseInvestigating
	}
}

func (it *Iterator) buildPrompt(phase IterationPhase, path, source, childContext string, rc *Context) string {
	var b strings.Builder
	switch phase {
	case PhasePlanning:
		b.WriteString("Plan an investigation of this source file. List the aspects worth examining.\n")
	case PhaseInvestigating:
		b.WriteString("Investigate aspects of this file not yet covered. Do not repeat covered aspects.\n")
	case PhaseSynthesizing:
		b.WriteString("Synthesize the research into final documentation. Respond with purpose and content.\n")
	}
	fmt.Fprintf(&b, "\nFile: %s\n", path)
	if prior := rc.PriorFindings(); prior != "" {
		b.WriteString("\nPrior findings:\n")
		b.WriteString(prior)
	}
	if childContext != "" {
		b.WriteString("\nContext from already-analyzed files:\n")
		b.WriteString(childContext)
	}
	b.WriteString("\nSource:\n")
	b.WriteString(Truncate(source, it.budget))
	return b.String()
}

// Truncate bounds content to max characters, appending an explicit marker
// when anything was dropped. Content is never silently discarded.
func Truncate(content string, max int) string {
	if max <= 0 || len(content) <= max {
		return content
	}
	return content[:max] + TruncationMarker
}
