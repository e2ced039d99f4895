// Package agents implements the turn-based concurrent agent orchestrator used
// by the Characterization and TopDown phases. Agents within a turn run
// concurrently with identical read-only context; turn N starts only after all
// turn N-1 agents have completed (or fallen back) and been checkpointed.
package agents

import (
	"encoding/json"

	"codeatlas/internal/discovery"
	"codeatlas/internal/llm"
	"codeatlas/internal/store"
)

// TurnContext is the read-only context shared by all agents in a turn.
type TurnContext struct {
	Scan *discovery.Scan
	// Prior holds all insights persisted by earlier turns (and, on resume,
	// by earlier runs), keyed by agent name.
	Prior map[string]store.AgentInsight
}

// Agent is one named analysis agent assigned to a turn.
type Agent struct {
	Name   string
	Turn   int
	Schema llm.Schema

	// Prompt builds the agent's prompt from the shared turn context.
	Prompt func(tc TurnContext) string

	// Fallback produces a heuristic payload when the model call fails.
	// A single agent's failure never aborts the turn.
	Fallback func(tc TurnContext) (json.RawMessage, float64)
}
