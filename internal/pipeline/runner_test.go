package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"codeatlas/internal/config"
	"codeatlas/internal/llm"
	"codeatlas/internal/store"
)

// stagedLLM answers every pipeline prompt shape with canned content. The
// confidence it reports for characterization agents is configurable so tests
// can steer refinement, and prompts containing failSubstring fail until the
// model is healed.
type stagedLLM struct {
	mu            sync.Mutex
	calls         int
	confidence    float64
	failSubstring string
}

func (f *stagedLLM) Generate(ctx context.Context, prompt string, schema llm.Schema) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	failSub := f.failSubstring
	f.mu.Unlock()

	if failSub != "" && strings.Contains(prompt, failSub) {
		return nil, fmt.Errorf("model overloaded")
	}

	switch {
	case strings.HasPrefix(prompt, "Describe the directory structure"),
		strings.HasPrefix(prompt, "Identify the languages"),
		strings.HasPrefix(prompt, "Infer the architectural style"),
		strings.HasPrefix(prompt, "Identify the project's notable"),
		strings.HasPrefix(prompt, "Synthesize a concise project profile"):
		return json.Marshal(map[string]interface{}{
			"summary":    "a small library",
			"findings":   []string{"src"},
			"confidence": f.confidence,
		})
	case strings.HasPrefix(prompt, "Derive the project-wide"):
		return json.Marshal(map[string]interface{}{
			"summary": "two modules, cleanly separated",
			"modules": []string{"src"},
		})
	case strings.HasPrefix(prompt, "Document this source file"):
		return json.Marshal(map[string]string{
			"purpose": "single-pass purpose",
			"content": "single-pass content",
		})
	case strings.HasPrefix(prompt, "Synthesize the research"):
		return json.Marshal(map[string]string{
			"findings": "final",
			"purpose":  "researched purpose",
			"content":  "researched content",
		})
	case strings.HasPrefix(prompt, "Plan an investigation"),
		strings.HasPrefix(prompt, "Investigate aspects"):
		return json.Marshal(map[string]interface{}{
			"findings": "round findings",
			"aspects":  []string{"layout"},
		})
	case strings.HasPrefix(prompt, "Summarize the"):
		return json.Marshal(map[string]string{"summary": "domain summary"})
	default:
		return nil, fmt.Errorf("unexpected prompt: %s", prompt)
	}
}

func (f *stagedLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *stagedLLM) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSubstring = ""
}

func newRunnerFixture(t *testing.T, confidence float64) (*Runner, *store.CheckpointStore, *stagedLLM, string) {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"src/utils/helper.rs": "fn pad() {}\n",
		"src/main.rs":         "fn main() {}\n",
	}
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := &stagedLLM{confidence: confidence}
	return NewRunner(st, client, config.Default()), st, client, root
}

func TestRunnerFullPipeline(t *testing.T) {
	runner, st, _, root := newRunnerFixture(t, 0.95)

	require.NoError(t, st.CreateSession("s1", root))
	require.NoError(t, runner.Run(context.Background(), "s1"))

	sess, err := st.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, int(PhaseRefinement), sess.Phase)
	require.Equal(t, 2, sess.TotalFiles)
	require.Equal(t, 2, sess.AnalyzedFiles)

	// Both top-down agents name the same module, so there is exactly one
	// module-keyed row.
	modules, err := st.LoadModuleSummaries("s1")
	require.NoError(t, err)
	require.Len(t, modules, 1)
	require.Equal(t, "src", modules[0].Module)

	domains, err := st.LoadDomainSummaries("s1")
	require.NoError(t, err)
	require.Len(t, domains, 1)
	require.Equal(t, "src", domains[0].Domain)

	// High confidence means refinement stops before its first round.
	require.Equal(t, 0, sess.CharacterizationTurns)
}

func TestRunnerResumeOfCompletedSessionIsIdle(t *testing.T) {
	runner, st, client, root := newRunnerFixture(t, 0.95)

	require.NoError(t, st.CreateSession("s1", root))
	require.NoError(t, runner.Run(context.Background(), "s1"))
	callsAfterFirst := client.callCount()

	// Everything is checkpointed; a second invocation re-walks and rebuilds
	// but makes no model calls.
	require.NoError(t, runner.Run(context.Background(), "s1"))
	require.Equal(t, callsAfterFirst, client.callCount())

	sess, err := st.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, int(PhaseRefinement), sess.Phase)
}

func TestRunnerResumeRetriesFailedFiles(t *testing.T) {
	runner, st, client, root := newRunnerFixture(t, 0.95)
	client.failSubstring = "src/utils/helper.rs"

	require.NoError(t, st.CreateSession("s1", root))
	require.NoError(t, runner.Run(context.Background(), "s1"))

	// The run completes around the failed file.
	prog, err := st.AnalysisProgress("s1")
	require.NoError(t, err)
	require.Equal(t, store.Progress{Total: 2, Done: 1, Failed: 1}, prog)

	retries, err := st.FileRetries("s1", "src/utils/helper.rs")
	require.NoError(t, err)
	require.Equal(t, 1, retries)

	sess, err := st.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, int(PhaseRefinement), sess.Phase)

	// Once the model recovers, resume must re-attempt the failed file even
	// though the bottom_up marker was already written.
	client.heal()
	require.NoError(t, runner.Run(context.Background(), "s1"))

	prog, err = st.AnalysisProgress("s1")
	require.NoError(t, err)
	require.Equal(t, store.Progress{Total: 2, Done: 2, Failed: 0}, prog)

	reason, err := st.FileError("s1", "src/utils/helper.rs")
	require.NoError(t, err)
	require.Empty(t, reason, "recorded failure cleared on success")
}

func TestRunnerRefinementBumpsTurns(t *testing.T) {
	runner, st, _, root := newRunnerFixture(t, 0.5)

	require.NoError(t, st.CreateSession("s1", root))
	require.NoError(t, runner.Run(context.Background(), "s1"))

	sess, err := st.GetSession("s1")
	require.NoError(t, err)

	// Low confidence triggers the single default refinement round, which
	// bumps the turn counter without touching the phase marker.
	require.Equal(t, 1, sess.CharacterizationTurns)
	require.Equal(t, int(PhaseRefinement), sess.Phase)
}

func TestRunnerUnknownSession(t *testing.T) {
	runner, _, _, _ := newRunnerFixture(t, 0.9)
	err := runner.Run(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}
