package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
	"codeatlas/internal/store"
)

// Orchestrator runs agents in dependency-ordered turns and checkpoints each
// agent's insight independently.
type Orchestrator struct {
	store  *store.CheckpointStore
	client llm.Client
}

// NewOrchestrator creates an orchestrator over the given store and client.
func NewOrchestrator(st *store.CheckpointStore, client llm.Client) *Orchestrator {
	return &Orchestrator{store: st, client: client}
}

// RunTurns executes all agents grouped by turn number. Agents already
// checkpointed for this session are skipped and their persisted insights are
// reused verbatim as context for later turns. Returns all insights (persisted
// plus newly produced) keyed by agent name.
func (o *Orchestrator) RunTurns(ctx context.Context, sessionID string, roster []Agent, tc TurnContext) (map[string]store.AgentInsight, error) {
	timer := logging.StartTimer(logging.CategoryAgents, "RunTurns")
	defer timer.Stop()

	completed, err := o.store.CompletedAgentNames(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed agents: %w", err)
	}

	if tc.Prior == nil {
		tc.Prior = make(map[string]store.AgentInsight)
	}
	persisted, err := o.store.LoadAgentInsights(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted insights: %w", err)
	}
	for _, ins := range persisted {
		tc.Prior[ins.Agent] = ins
	}

	turns := groupByTurn(roster)
	for _, turn := range turns {
		pending := make([]Agent, 0, len(turn.agents))
		for _, a := range turn.agents {
			if completed[a.Name] {
				logging.AgentsDebug("Agent already completed, skipping: %s", a.Name)
				continue
			}
			pending = append(pending, a)
		}

		logging.Agents("Turn %d: running %d agents (%d already completed)",
			turn.number, len(pending), len(turn.agents)-len(pending))

		if len(pending) > 0 {
			insights, err := o.runTurn(ctx, sessionID, pending, tc)
			if err != nil {
				return nil, err
			}
			// Combined outputs become read-only context for the next turn.
			for name, ins := range insights {
				tc.Prior[name] = ins
			}
		}
	}

	return tc.Prior, nil
}

// runTurn runs one turn's agents concurrently. Each agent either succeeds
// (its insight is persisted immediately, independent of its siblings) or
// falls back; only a store failure aborts the turn.
func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, pending []Agent, tc TurnContext) (map[string]store.AgentInsight, error) {
	var mu sync.Mutex
	insights := make(map[string]store.AgentInsight)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, agent := range pending {
		agent := agent
		eg.Go(func() error {
			ins := o.runAgent(egCtx, agent, tc)
			if err := o.store.RecordAgentInsight(sessionID, ins); err != nil {
				return fmt.Errorf("failed to checkpoint agent %s: %w", agent.Name, err)
			}
			mu.Lock()
			insights[ins.Agent] = ins
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return insights, nil
}

// runAgent executes a single agent, substituting the heuristic fallback on
// any model failure.
func (o *Orchestrator) runAgent(ctx context.Context, agent Agent, tc TurnContext) store.AgentInsight {
	raw, err := o.client.Generate(ctx, agent.Prompt(tc), agent.Schema)
	if err != nil {
		logging.Get(logging.CategoryAgents).Warn("Agent %s failed, using fallback: %v", agent.Name, err)
		payload, confidence := agent.Fallback(tc)
		return store.AgentInsight{
			Agent:      agent.Name,
			Turn:       agent.Turn,
			Confidence: confidence,
			Payload:    payload,
		}
	}

	confidence := extractConfidence(raw)
	logging.AgentsDebug("Agent %s succeeded: confidence=%.2f payload_len=%d",
		agent.Name, confidence, len(raw))
	return store.AgentInsight{
		Agent:      agent.Name,
		Turn:       agent.Turn,
		Confidence: confidence,
		Payload:    raw,
	}
}

// extractConfidence reads a confidence field from the payload if the agent's
// schema included one, defaulting to 0.7 for a successful model response.
func extractConfidence(raw json.RawMessage) float64 {
	var probe struct {
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Confidence > 0 && probe.Confidence <= 1 {
		return probe.Confidence
	}
	return 0.7
}

type turnGroup struct {
	number int
	agents []Agent
}

func groupByTurn(roster []Agent) []turnGroup {
	byTurn := make(map[int][]Agent)
	for _, a := range roster {
		byTurn[a.Turn] = append(byTurn[a.Turn], a)
	}
	numbers := make([]int, 0, len(byTurn))
	for n := range byTurn {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	groups := make([]turnGroup, 0, len(numbers))
	for _, n := range numbers {
		groups = append(groups, turnGroup{number: n, agents: byTurn[n]})
	}
	return groups
}
