package store

import (
	"codeatlas/internal/logging"
)

// RecordAgentInsight upserts an agent's insight for a session.
// Keyed by (session, agent): a rerun overwrites the prior row.
func (s *CheckpointStore) RecordAgentInsight(sessionID string, insight AgentInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO agent_insights (session_id, agent, turn, confidence, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id, agent) DO UPDATE SET
		   turn = excluded.turn,
		   confidence = excluded.confidence,
		   payload = excluded.payload,
		   updated_at = CURRENT_TIMESTAMP`,
		sessionID, insight.Agent, insight.Turn, insight.Confidence, string(insight.Payload),
	)
	if err != nil {
		return retryable("record agent insight", err)
	}

	logging.StoreDebug("Agent insight recorded: session=%s agent=%s turn=%d confidence=%.2f",
		sessionID, insight.Agent, insight.Turn, insight.Confidence)
	return nil
}

// LoadAgentInsights returns all insights for a session ordered by turn.
func (s *CheckpointStore) LoadAgentInsights(sessionID string) ([]AgentInsight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT agent, turn, confidence, payload
		 FROM agent_insights WHERE session_id = ?
		 ORDER BY turn, agent`, sessionID,
	)
	if err != nil {
		return nil, retryable("load agent insights", err)
	}
	defer rows.Close()

	var insights []AgentInsight
	for rows.Next() {
		var ins AgentInsight
		var payload string
		if err := rows.Scan(&ins.Agent, &ins.Turn, &ins.Confidence, &payload); err != nil {
			continue
		}
		ins.Payload = []byte(payload)
		insights = append(insights, ins)
	}
	return insights, nil
}

// CompletedAgentNames returns the set of agents already checkpointed for a
// session. Completed agents are skipped on resume.
func (s *CheckpointStore) CompletedAgentNames(sessionID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT agent FROM agent_insights WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return nil, retryable("completed agent names", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		names[name] = true
	}
	return names, nil
}
