// Command atlas generates layered documentation for a source tree through a
// resumable six-phase pipeline. All progress is checkpointed to SQLite under
// the target project's .atlas/ directory, so an interrupted run picks up
// where it left off.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codeatlas/internal/config"
	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
	"codeatlas/internal/pipeline"
	"codeatlas/internal/store"
	"codeatlas/internal/ux"
)

var (
	flagWorkspace string
	flagDebug     bool

	log *zap.SugaredLogger
)

func main() {
	root := &cobra.Command{
		Use:   "atlas",
		Short: "Layered codebase documentation with checkpointed resume",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zcfg := zap.NewProductionConfig()
			zcfg.Encoding = "console"
			zcfg.DisableStacktrace = true
			if flagDebug {
				zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			}
			zl, err := zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			log = zl.Sugar()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
			logging.CloseAll()
		},
	}

	root.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", ".",
		"project directory holding the .atlas state")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false,
		"enable debug console output")

	root.AddCommand(runCmd(), resumeCmd(), sessionsCmd(), clearCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [path]",
		Short: "Start a new documentation run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath := flagWorkspace
			if len(args) == 1 {
				projectPath = args[0]
			}
			abs, err := filepath.Abs(projectPath)
			if err != nil {
				return err
			}

			env, err := setup(abs)
			if err != nil {
				return err
			}
			defer env.close()

			sessionID := uuid.NewString()
			if err := env.store.CreateSession(sessionID, abs); err != nil {
				return err
			}
			log.Infow("session created", "session", sessionID, "path", abs)

			return executeRun(cmd.Context(), env, sessionID)
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume an interrupted documentation run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(flagWorkspace)
			if err != nil {
				return err
			}

			env, err := setup(abs)
			if err != nil {
				return err
			}
			defer env.close()

			sessionID := args[0]
			sess, err := env.store.GetSession(sessionID)
			if err != nil {
				if errors.Is(err, store.ErrSessionNotFound) {
					return fmt.Errorf("unknown session %s (try 'atlas sessions')", sessionID)
				}
				return err
			}

			// Report completed vs remaining before doing any new work.
			state, err := env.store.LoadCheckpointState(sessionID)
			if err != nil {
				return err
			}
			progress, err := env.store.AnalysisProgress(sessionID)
			if err != nil {
				return err
			}
			fmt.Println(ux.ResumeReport(sess, progress, pipeline.InferResumePhase(state)))

			return executeRun(cmd.Context(), env, sessionID)
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List documentation sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(flagWorkspace)
			if err != nil {
				return err
			}
			env, err := setup(abs)
			if err != nil {
				return err
			}
			defer env.close()

			sessions, err := env.store.ListSessions()
			if err != nil {
				return err
			}
			fmt.Println(ux.SessionList(sessions))
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Delete a session and all of its checkpointed work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(flagWorkspace)
			if err != nil {
				return err
			}
			env, err := setup(abs)
			if err != nil {
				return err
			}
			defer env.close()

			if err := env.store.ClearSession(args[0]); err != nil {
				return err
			}
			log.Infow("session cleared", "session", args[0])
			return nil
		},
	}
}

// runEnv bundles the per-invocation wiring: config, store, and the scheduled
// LLM client.
type runEnv struct {
	cfg    config.Config
	store  *store.CheckpointStore
	client llm.Client
	slots  *llm.SlotScheduler
}

func (e *runEnv) close() {
	if e.slots != nil {
		e.slots.Stop()
	}
	if e.store != nil {
		e.store.Close()
	}
}

// setup loads config from the workspace, initializes file logging, opens the
// checkpoint store, and builds the slot-scheduled LLM client.
func setup(workspace string) (*runEnv, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(workspace, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
	}); err != nil {
		return nil, err
	}

	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	env := &runEnv{cfg: cfg, store: st}

	if cfg.LLM.APIKey != "" {
		base, err := llm.NewGenAIClient(context.Background(), cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLMTimeout())
		if err != nil {
			st.Close()
			return nil, err
		}
		env.slots = llm.NewSlotScheduler(cfg.Pipeline.MaxConcurrent)
		env.client = &llm.ScheduledClient{Scheduler: env.slots, Client: base}
	}

	return env, nil
}

// executeRun drives the pipeline for one session and prints the final
// summary. SIGINT cancels cleanly: in-flight checkpoint writes finish and the
// run can be resumed later.
func executeRun(parent context.Context, env *runEnv, sessionID string) error {
	if env.client == nil {
		return fmt.Errorf("no API key configured (set ATLAS_API_KEY or llm.api_key in .atlas/config.yaml)")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(env.store, env.client, env.cfg)
	runErr := runner.Run(ctx, sessionID)

	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		log.Warnw("run suspended", "session", sessionID, "reason", runErr)
		fmt.Printf("\nRun suspended. Resume with: atlas resume %s\n", sessionID)
		return nil
	}
	if runErr != nil {
		return runErr
	}

	sess, err := env.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	progress, err := env.store.AnalysisProgress(sessionID)
	if err != nil {
		return err
	}

	var calls int64
	if env.slots != nil {
		calls = env.slots.TotalCalls()
	}
	fmt.Println(ux.RunComplete(sess, progress, calls))
	return nil
}
