// Package store implements the SQLite-backed checkpoint store.
//
// The store is the single source of truth for "is this unit of work done":
// sessions, per-agent insights and per-file analyses are each checkpointed
// independently so an interrupted run can resume without redoing completed
// work. All multi-record writes go through a single transaction.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"codeatlas/internal/logging"
)

// ErrSessionNotFound is returned when a session row does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrRetryable marks store failures the caller may retry.
var ErrRetryable = errors.New("retryable store error")

// CheckpointStore persists pipeline state at three granularities:
// session/phase, per-agent insight, and per-file analysis.
type CheckpointStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*CheckpointStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &CheckpointStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Checkpoint store opened: %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

// retryable wraps an underlying store error so callers can classify it.
func retryable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrRetryable, err)
}

// Session is one documentation run.
type Session struct {
	ID                    string
	ProjectPath           string
	Phase                 int // last completed phase, 0 = none
	TotalFiles            int
	AnalyzedFiles         int
	Checkpoint            []byte // opaque serialized checkpoint blob
	CharacterizationTurns int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AgentInsight is the output of one named agent for one turn.
// Keyed by (session, agent); a rerun overwrites, never duplicates.
type AgentInsight struct {
	Agent      string
	Turn       int
	Confidence float64
	Payload    []byte // opaque structured payload
}

// FileAnalysisCheckpoint is the persisted result of analyzing one file.
type FileAnalysisCheckpoint struct {
	Path       string
	Language   string
	LineCount  int
	Importance string // tier label at analysis time
	Purpose    string
	Content    string
	Diagram    string
	Relations  string // serialized related-file links
	Research   []byte // optional Deep Research iteration history
}

// Fact is one structural fact derived from a file, persisted atomically with
// its analysis.
type Fact struct {
	Name   string
	Kind   string
	Detail string
}

// Progress reports analysis progress for a session.
type Progress struct {
	Total  int
	Done   int
	Failed int
}

// CheckpointState is the phase-and-progress snapshot used for resume.
// DomainCount and ModuleCount are the phase-specific completion signals the
// resume algorithm cross-checks against the stored phase marker.
type CheckpointState struct {
	Phase                 int
	Checkpoint            []byte
	TotalFiles            int
	AnalyzedFiles         int
	CharacterizationTurns int
	DomainCount           int
	ModuleCount           int
}
