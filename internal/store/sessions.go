package store

import (
	"database/sql"
	"fmt"

	"codeatlas/internal/logging"
)

// CreateSession inserts a new session row.
func (s *CheckpointStore) CreateSession(id, projectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, project_path) VALUES (?, ?)`,
		id, projectPath,
	)
	if err != nil {
		return retryable("create session", err)
	}

	logging.Session("Session created: id=%s path=%s", id, projectPath)
	return nil
}

// GetSession loads a session by ID.
func (s *CheckpointStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	err := s.db.QueryRow(
		`SELECT id, project_path, phase, total_files, analyzed_files,
		        checkpoint, characterization_turns, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ProjectPath, &sess.Phase, &sess.TotalFiles,
		&sess.AnalyzedFiles, &sess.Checkpoint, &sess.CharacterizationTurns,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, retryable("get session", err)
	}
	return &sess, nil
}

// ListSessions returns all sessions, most recent first.
func (s *CheckpointStore) ListSessions() ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project_path, phase, total_files, analyzed_files,
		        checkpoint, characterization_turns, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, retryable("list sessions", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.ProjectPath, &sess.Phase,
			&sess.TotalFiles, &sess.AnalyzedFiles, &sess.Checkpoint,
			&sess.CharacterizationTurns, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// ClearSession deletes a session and all of its checkpointed work.
func (s *CheckpointStore) ClearSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return retryable("clear session", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"agent_insights", "file_analyses", "file_facts",
		"file_tracking", "domain_summaries", "module_summaries",
	} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), id); err != nil {
			return retryable("clear session", err)
		}
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return retryable("clear session", err)
	}

	if err := tx.Commit(); err != nil {
		return retryable("clear session", err)
	}

	logging.Session("Session cleared: id=%s", id)
	return nil
}

// CompletePhase advances the session's last-completed-phase marker.
// Monotonic: a lower or equal phase number is a no-op on the stored marker.
// The checkpoint blob is persisted in the same statement.
func (s *CheckpointStore) CompletePhase(id string, phase int, checkpoint []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sessions
		 SET phase = MAX(phase, ?),
		     checkpoint = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		phase, checkpoint, id,
	)
	if err != nil {
		return retryable("complete phase", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	logging.Pipeline("Phase marker advanced: session=%s phase=%d", id, phase)
	return nil
}

// SetTotalFiles records the discovered file count for a session.
func (s *CheckpointStore) SetTotalFiles(id string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE sessions SET total_files = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		total, id,
	)
	if err != nil {
		return retryable("set total files", err)
	}
	return nil
}

// BumpCharacterizationTurns increments the refinement turn counter.
// Refinement rounds bump this counter, never the phase marker.
func (s *CheckpointStore) BumpCharacterizationTurns(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE sessions
		 SET characterization_turns = characterization_turns + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, id,
	)
	if err != nil {
		return retryable("bump characterization turns", err)
	}
	return nil
}

// LoadCheckpointState returns the phase-and-progress snapshot used by the
// resume algorithm, including the phase-specific completion signals.
func (s *CheckpointStore) LoadCheckpointState(id string) (*CheckpointState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state CheckpointState
	err := s.db.QueryRow(
		`SELECT phase, checkpoint, total_files, analyzed_files, characterization_turns
		 FROM sessions WHERE id = ?`, id,
	).Scan(&state.Phase, &state.Checkpoint, &state.TotalFiles,
		&state.AnalyzedFiles, &state.CharacterizationTurns)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, retryable("load checkpoint state", err)
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM domain_summaries WHERE session_id = ?`, id,
	).Scan(&state.DomainCount); err != nil {
		return nil, retryable("load checkpoint state", err)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM module_summaries WHERE session_id = ?`, id,
	).Scan(&state.ModuleCount); err != nil {
		return nil, retryable("load checkpoint state", err)
	}

	logging.SessionDebug("Checkpoint state loaded: session=%s phase=%d analyzed=%d/%d domains=%d modules=%d",
		id, state.Phase, state.AnalyzedFiles, state.TotalFiles, state.DomainCount, state.ModuleCount)
	return &state, nil
}
