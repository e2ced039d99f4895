package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *CheckpointStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateSession("s1", "/tmp/project"))

	sess, err := s.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, "/tmp/project", sess.ProjectPath)
	require.Equal(t, 0, sess.Phase)

	_, err = s.GetSession("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestCompletePhaseMonotonic(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSession("s1", "/p"))

	require.NoError(t, s.CompletePhase("s1", 3, []byte(`{"v":1}`)))

	// A stale lower phase write must not move the marker backwards.
	require.NoError(t, s.CompletePhase("s1", 2, []byte(`{"v":2}`)))

	sess, err := s.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, 3, sess.Phase)

	require.ErrorIs(t, s.CompletePhase("missing", 1, nil), ErrSessionNotFound)
}

func TestRecordFileAnalysisIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSession("s1", "/p"))
	require.NoError(t, s.RegisterFiles("s1", []string{"src/a.rs"}))

	cp := FileAnalysisCheckpoint{
		Path:       "src/a.rs",
		Language:   "Rust",
		LineCount:  40,
		Importance: "leaf",
		Purpose:    "parses things",
		Content:    "details",
	}
	facts := []Fact{
		{Name: "parse", Kind: "function", Detail: "fn parse()"},
		{Name: "Token", Kind: "type", Detail: "struct Token"},
	}

	// Same checkpoint replayed twice, as happens when a crash lands between
	// the store write and the phase marker.
	require.NoError(t, s.RecordFileAnalysis("s1", cp, facts))
	require.NoError(t, s.RecordFileAnalysis("s1", cp, facts))

	prog, err := s.AnalysisProgress("s1")
	require.NoError(t, err)
	require.Equal(t, Progress{Total: 1, Done: 1}, prog)

	sess, err := s.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, 1, sess.AnalyzedFiles, "counter must not double-count a replay")

	stored, err := s.LoadFacts("s1", "src/a.rs")
	require.NoError(t, err)
	require.Len(t, stored, 2, "facts must not accumulate on replay")
}

func TestPendingFilesAfterPartialRun(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSession("s1", "/p"))

	all := []string{"a.rs", "b.rs", "c.rs", "d.rs", "e.rs"}
	require.NoError(t, s.RegisterFiles("s1", all))

	for _, p := range []string{"a.rs", "b.rs"} {
		require.NoError(t, s.RecordFileAnalysis("s1", FileAnalysisCheckpoint{
			Path: p, Language: "Rust", Purpose: "x", Content: "y",
		}, nil))
	}

	pending, err := s.PendingFiles("s1", 3, 100, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c.rs", "d.rs", "e.rs"}, pending)

	// Re-registration on resume must not reset completed work.
	require.NoError(t, s.RegisterFiles("s1", all))
	pending, err = s.PendingFiles("s1", 3, 100, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
}

func TestRetryCapExcludesExhaustedFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSession("s1", "/p"))
	require.NoError(t, s.RegisterFiles("s1", []string{"a.rs", "b.rs"}))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.MarkFileFailed("s1", "a.rs", "model exploded"))
	}

	retries, err := s.FileRetries("s1", "a.rs")
	require.NoError(t, err)
	require.Equal(t, 3, retries)

	reason, err := s.FileError("s1", "a.rs")
	require.NoError(t, err)
	require.Equal(t, "model exploded", reason)

	pending, err := s.PendingFiles("s1", 3, 100, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"b.rs"}, pending, "exhausted file must not be retried")

	// A failed file that later succeeds flips cleanly back to analyzed.
	require.NoError(t, s.RecordFileAnalysis("s1", FileAnalysisCheckpoint{
		Path: "a.rs", Language: "Rust", Purpose: "x", Content: "y",
	}, nil))
	prog, err := s.AnalysisProgress("s1")
	require.NoError(t, err)
	require.Equal(t, 1, prog.Done)
	require.Equal(t, 0, prog.Failed)
}

func TestAgentInsightUpsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSession("s1", "/p"))

	first := AgentInsight{Agent: "structure", Turn: 1, Confidence: 0.4, Payload: json.RawMessage(`{"summary":"v1"}`)}
	require.NoError(t, s.RecordAgentInsight("s1", first))

	second := first
	second.Confidence = 0.8
	second.Payload = json.RawMessage(`{"summary":"v2"}`)
	require.NoError(t, s.RecordAgentInsight("s1", second))

	insights, err := s.LoadAgentInsights("s1")
	require.NoError(t, err)
	require.Len(t, insights, 1, "rerun overwrites, never duplicates")
	require.Equal(t, 0.8, insights[0].Confidence)
	require.JSONEq(t, `{"summary":"v2"}`, string(insights[0].Payload))

	completed, err := s.CompletedAgentNames("s1")
	require.NoError(t, err)
	require.True(t, completed["structure"])
	require.False(t, completed["language"])
}

func TestCheckpointStateSignals(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSession("s1", "/p"))

	state, err := s.LoadCheckpointState("s1")
	require.NoError(t, err)
	require.Equal(t, 0, state.ModuleCount)
	require.Equal(t, 0, state.DomainCount)

	require.NoError(t, s.RecordModuleSummary("s1", ModuleSummary{Module: "topdown.architecture", Summary: "layered"}))
	require.NoError(t, s.RecordDomainSummary("s1", DomainSummary{Domain: "src", Summary: "the code", FileCount: 9}))

	// Upserts: same key twice leaves one row.
	require.NoError(t, s.RecordDomainSummary("s1", DomainSummary{Domain: "src", Summary: "revised", FileCount: 9}))

	state, err = s.LoadCheckpointState("s1")
	require.NoError(t, err)
	require.Equal(t, 1, state.ModuleCount)
	require.Equal(t, 1, state.DomainCount)

	domains, err := s.LoadDomainSummaries("s1")
	require.NoError(t, err)
	require.Len(t, domains, 1)
	require.Equal(t, "revised", domains[0].Summary)
}

func TestClearSession(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSession("s1", "/p"))
	require.NoError(t, s.RegisterFiles("s1", []string{"a.rs"}))
	require.NoError(t, s.RecordAgentInsight("s1", AgentInsight{Agent: "structure", Turn: 1, Payload: json.RawMessage(`{}`)}))

	require.NoError(t, s.ClearSession("s1"))

	_, err := s.GetSession("s1")
	require.ErrorIs(t, err, ErrSessionNotFound)

	prog, err := s.AnalysisProgress("s1")
	require.NoError(t, err)
	require.Equal(t, Progress{}, prog)
}
