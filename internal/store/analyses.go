package store

import (
	"database/sql"
	"fmt"

	"codeatlas/internal/logging"
)

// File tracking statuses.
const (
	StatusPending  = "pending"
	StatusAnalyzed = "analyzed"
	StatusFailed   = "failed"
)

// RegisterFiles seeds tracking rows for discovered files. Existing rows keep
// their status so re-registration on resume is harmless.
func (s *CheckpointStore) RegisterFiles(sessionID string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return retryable("register files", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO file_tracking (session_id, path, status) VALUES (?, ?, ?)`)
	if err != nil {
		return retryable("register files", err)
	}
	defer stmt.Close()

	for _, path := range paths {
		if _, err := stmt.Exec(sessionID, path, StatusPending); err != nil {
			return retryable("register files", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return retryable("register files", err)
	}

	logging.Store("Files registered: session=%s count=%d", sessionID, len(paths))
	return nil
}

// RecordFileAnalysis atomically persists a completed file analysis: the
// analysis row, all derived facts, the tracking status flip to analyzed, and
// the session's analyzed-file counter. Partial application is impossible; a
// failure leaves all four untouched.
//
// Replaying the same (session, path) with the same payload is safe: the
// analysis and facts are upserts, and the counter only increments when the
// tracking row actually transitions to analyzed.
func (s *CheckpointStore) RecordFileAnalysis(sessionID string, cp FileAnalysisCheckpoint, facts []Fact) error {
	timer := logging.StartTimer(logging.CategoryStore, "RecordFileAnalysis")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return retryable("record file analysis", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO file_analyses
		   (session_id, path, language, line_count, importance, purpose,
		    content, diagram, relations, research, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id, path) DO UPDATE SET
		   language = excluded.language,
		   line_count = excluded.line_count,
		   importance = excluded.importance,
		   purpose = excluded.purpose,
		   content = excluded.content,
		   diagram = excluded.diagram,
		   relations = excluded.relations,
		   research = excluded.research,
		   updated_at = CURRENT_TIMESTAMP`,
		sessionID, cp.Path, cp.Language, cp.LineCount, cp.Importance,
		cp.Purpose, cp.Content, cp.Diagram, cp.Relations, cp.Research,
	); err != nil {
		return retryable("record file analysis", err)
	}

	// Replace the derived-fact set wholesale so replays cannot accumulate
	// duplicates.
	if _, err := tx.Exec(
		`DELETE FROM file_facts WHERE session_id = ? AND path = ?`,
		sessionID, cp.Path,
	); err != nil {
		return retryable("record file analysis", err)
	}
	for _, fact := range facts {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO file_facts (session_id, path, name, kind, detail)
			 VALUES (?, ?, ?, ?, ?)`,
			sessionID, cp.Path, fact.Name, fact.Kind, fact.Detail,
		); err != nil {
			return retryable("record file analysis", err)
		}
	}

	// Flip tracking to analyzed; count the session counter bump only on an
	// actual transition so replays stay idempotent.
	res, err := tx.Exec(
		`UPDATE file_tracking SET status = ?, error = NULL
		 WHERE session_id = ? AND path = ? AND status != ?`,
		StatusAnalyzed, sessionID, cp.Path, StatusAnalyzed,
	)
	if err != nil {
		return retryable("record file analysis", err)
	}
	transitioned, _ := res.RowsAffected()
	if transitioned > 0 {
		if _, err := tx.Exec(
			`UPDATE sessions SET analyzed_files = analyzed_files + 1,
			                     updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`, sessionID,
		); err != nil {
			return retryable("record file analysis", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return retryable("record file analysis", err)
	}

	logging.StoreDebug("File analysis recorded: session=%s path=%s facts=%d",
		sessionID, cp.Path, len(facts))
	return nil
}

// MarkFileFailed records a per-file failure with a reason and bumps the retry
// counter. The session continues; resume re-attempts non-exhausted files.
func (s *CheckpointStore) MarkFileFailed(sessionID, path, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE file_tracking
		 SET status = ?, error = ?, retries = retries + 1
		 WHERE session_id = ? AND path = ?`,
		StatusFailed, reason, sessionID, path,
	)
	if err != nil {
		return retryable("mark file failed", err)
	}

	logging.Store("File marked failed: session=%s path=%s reason=%s", sessionID, path, reason)
	return nil
}

// PendingFiles returns a page of files still eligible for analysis:
// not yet analyzed and not past the retry cap.
func (s *CheckpointStore) PendingFiles(sessionID string, maxRetries, limit, offset int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT path FROM file_tracking
		 WHERE session_id = ? AND status != ? AND retries < ?
		 ORDER BY path LIMIT ? OFFSET ?`,
		sessionID, StatusAnalyzed, maxRetries, limit, offset,
	)
	if err != nil {
		return nil, retryable("pending files", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// AnalysisProgress returns (total, done, failed) counts for a session.
func (s *CheckpointStore) AnalysisProgress(sessionID string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prog Progress
	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM file_tracking
		 WHERE session_id = ? GROUP BY status`, sessionID,
	)
	if err != nil {
		return prog, retryable("analysis progress", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		prog.Total += count
		switch status {
		case StatusAnalyzed:
			prog.Done += count
		case StatusFailed:
			prog.Failed += count
		}
	}
	return prog, nil
}

// LoadFileAnalyses returns all completed analyses for a session. Used to
// rebuild the in-process insight registry on resume.
func (s *CheckpointStore) LoadFileAnalyses(sessionID string) ([]FileAnalysisCheckpoint, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadFileAnalyses")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT path, language, line_count, importance, purpose,
		        content, diagram, relations, research
		 FROM file_analyses WHERE session_id = ? ORDER BY path`, sessionID,
	)
	if err != nil {
		return nil, retryable("load file analyses", err)
	}
	defer rows.Close()

	var analyses []FileAnalysisCheckpoint
	for rows.Next() {
		var cp FileAnalysisCheckpoint
		var research sql.NullString
		if err := rows.Scan(&cp.Path, &cp.Language, &cp.LineCount, &cp.Importance,
			&cp.Purpose, &cp.Content, &cp.Diagram, &cp.Relations, &research); err != nil {
			continue
		}
		if research.Valid {
			cp.Research = []byte(research.String)
		}
		analyses = append(analyses, cp)
	}
	return analyses, nil
}

// LoadFacts returns the derived facts for one file.
func (s *CheckpointStore) LoadFacts(sessionID, path string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT name, kind, detail FROM file_facts
		 WHERE session_id = ? AND path = ? ORDER BY name`, sessionID, path,
	)
	if err != nil {
		return nil, retryable("load facts", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.Name, &f.Kind, &f.Detail); err != nil {
			continue
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// FileRetries returns the retry counter for one file (0 if untracked).
func (s *CheckpointStore) FileRetries(sessionID, path string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var retries int
	err := s.db.QueryRow(
		`SELECT retries FROM file_tracking WHERE session_id = ? AND path = ?`,
		sessionID, path,
	).Scan(&retries)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, retryable("file retries", err)
	}
	return retries, nil
}

// FileError returns the recorded failure reason for one file, if any.
func (s *CheckpointStore) FileError(sessionID, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reason sql.NullString
	err := s.db.QueryRow(
		`SELECT error FROM file_tracking WHERE session_id = ? AND path = ?`,
		sessionID, path,
	).Scan(&reason)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("file %s not tracked", path)
	}
	if err != nil {
		return "", retryable("file error", err)
	}
	return reason.String, nil
}
