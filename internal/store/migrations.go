package store

import (
	"database/sql"
	"fmt"

	"codeatlas/internal/logging"
)

// Schema versions:
// v1: sessions, agent_insights, file_analyses, file_facts, file_tracking
// v2: domain_summaries, module_summaries (consolidation/top-down signals)
const CurrentSchemaVersion = 2

var schemaMigrations = []string{
	// v1
	`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		phase INTEGER NOT NULL DEFAULT 0,
		total_files INTEGER NOT NULL DEFAULT 0,
		analyzed_files INTEGER NOT NULL DEFAULT 0,
		checkpoint BLOB,
		characterization_turns INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agent_insights (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		turn INTEGER NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		payload TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, agent)
	);
	CREATE INDEX IF NOT EXISTS idx_insights_session ON agent_insights(session_id);

	CREATE TABLE IF NOT EXISTS file_analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		path TEXT NOT NULL,
		language TEXT,
		line_count INTEGER NOT NULL DEFAULT 0,
		importance TEXT,
		purpose TEXT,
		content TEXT,
		diagram TEXT,
		relations TEXT,
		research BLOB,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_session ON file_analyses(session_id);

	CREATE TABLE IF NOT EXISTS file_facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT,
		UNIQUE(session_id, path, name, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_facts_file ON file_facts(session_id, path);

	CREATE TABLE IF NOT EXISTS file_tracking (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT,
		retries INTEGER NOT NULL DEFAULT 0,
		UNIQUE(session_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_tracking_status ON file_tracking(session_id, status);
	`,
	// v2
	`
	CREATE TABLE IF NOT EXISTS domain_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		summary TEXT,
		file_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, domain)
	);

	CREATE TABLE IF NOT EXISTS module_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		module TEXT NOT NULL,
		summary TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, module)
	);
	`,
}

// migrate brings the schema up to CurrentSchemaVersion. Each migration runs
// in its own transaction; the version row is updated inside that transaction
// so a crash mid-migration leaves the prior version intact.
func (s *CheckpointStore) migrate() error {
	timer := logging.StartTimer(logging.CategoryStore, "migrate")
	defer timer.Stop()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	logging.StoreDebug("Schema version: current=%d target=%d", version, CurrentSchemaVersion)

	for v := version; v < CurrentSchemaVersion; v++ {
		if err := s.applyMigration(v+1, schemaMigrations[v]); err != nil {
			return err
		}
		logging.Store("Schema migration applied: v%d", v+1)
	}
	return nil
}

func (s *CheckpointStore) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (0)"); err != nil {
			return 0, fmt.Errorf("failed to seed schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema_version: %w", err)
	}
	return version, nil
}

func (s *CheckpointStore) applyMigration(version int, ddl string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration v%d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("migration v%d failed: %w", version, err)
	}
	if _, err := tx.Exec("UPDATE schema_version SET version = ?", version); err != nil {
		return fmt.Errorf("failed to record schema version v%d: %w", version, err)
	}
	return tx.Commit()
}
