package store

import (
	"codeatlas/internal/logging"
)

// DomainSummary is a consolidated summary of one project domain.
type DomainSummary struct {
	Domain    string
	Summary   string
	FileCount int
}

// ModuleSummary is a top-down summary of one project module.
type ModuleSummary struct {
	Module  string
	Summary string
}

// RecordDomainSummary upserts a consolidation-phase domain summary.
// Domain summary presence doubles as the phase >= 5 resume signal.
func (s *CheckpointStore) RecordDomainSummary(sessionID string, d DomainSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO domain_summaries (session_id, domain, summary, file_count, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id, domain) DO UPDATE SET
		   summary = excluded.summary,
		   file_count = excluded.file_count,
		   updated_at = CURRENT_TIMESTAMP`,
		sessionID, d.Domain, d.Summary, d.FileCount,
	)
	if err != nil {
		return retryable("record domain summary", err)
	}

	logging.StoreDebug("Domain summary recorded: session=%s domain=%s files=%d",
		sessionID, d.Domain, d.FileCount)
	return nil
}

// LoadDomainSummaries returns all domain summaries for a session.
func (s *CheckpointStore) LoadDomainSummaries(sessionID string) ([]DomainSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT domain, summary, file_count FROM domain_summaries
		 WHERE session_id = ? ORDER BY domain`, sessionID,
	)
	if err != nil {
		return nil, retryable("load domain summaries", err)
	}
	defer rows.Close()

	var summaries []DomainSummary
	for rows.Next() {
		var d DomainSummary
		if err := rows.Scan(&d.Domain, &d.Summary, &d.FileCount); err != nil {
			continue
		}
		summaries = append(summaries, d)
	}
	return summaries, nil
}

// RecordModuleSummary upserts a top-down module summary.
// Module summary presence doubles as the phase >= 4 resume signal.
func (s *CheckpointStore) RecordModuleSummary(sessionID string, m ModuleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO module_summaries (session_id, module, summary, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id, module) DO UPDATE SET
		   summary = excluded.summary,
		   updated_at = CURRENT_TIMESTAMP`,
		sessionID, m.Module, m.Summary,
	)
	if err != nil {
		return retryable("record module summary", err)
	}
	return nil
}

// LoadModuleSummaries returns all module summaries for a session.
func (s *CheckpointStore) LoadModuleSummaries(sessionID string) ([]ModuleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT module, summary FROM module_summaries
		 WHERE session_id = ? ORDER BY module`, sessionID,
	)
	if err != nil {
		return nil, retryable("load module summaries", err)
	}
	defer rows.Close()

	var summaries []ModuleSummary
	for rows.Next() {
		var m ModuleSummary
		if err := rows.Scan(&m.Module, &m.Summary); err != nil {
			continue
		}
		summaries = append(summaries, m)
	}
	return summaries, nil
}
