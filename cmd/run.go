// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/internal/applog"
	"github.com/mgrantlabs/mgrant-e2e/internal/auth"
	"github.com/mgrantlabs/mgrant-e2e/internal/capture"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
	"github.com/mgrantlabs/mgrant-e2e/internal/modules"
	"github.com/mgrantlabs/mgrant-e2e/internal/network"
	"github.com/mgrantlabs/mgrant-e2e/internal/notify"
	"github.com/mgrantlabs/mgrant-e2e/internal/observability"
	"github.com/mgrantlabs/mgrant-e2e/internal/report"
	"github.com/mgrantlabs/mgrant-e2e/internal/runner"
	"github.com/mgrantlabs/mgrant-e2e/internal/store"
	"github.com/mgrantlabs/mgrant-e2e/internal/triage"
	"github.com/mgrantlabs/mgrant-e2e/internal/vcs"
)

// newRunCmd creates the `run` command, the suite's main entry point.
func newRunCmd(st *appState) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the test suite against the configured MGrant deployment",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := st.v.BindPFlag("suite.manifest", cmd.Flags().Lookup("manifest")); err != nil {
				return err
			}
			return st.v.BindPFlag("suite.profile", cmd.Flags().Lookup("profile"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config now that flags are bound.
			if err := st.reloadConfig(); err != nil {
				return err
			}
			cfg := st.cfg

			if headed, _ := cmd.Flags().GetBool("headed"); headed {
				cfg.Browser.Headless = false
			}
			if workers, _ := cmd.Flags().GetInt("workers"); workers != 1 {
				return fmt.Errorf("modules share one browser session and run strictly sequentially; --workers must be 1, got %d", workers)
			}

			registry := modules.DefaultRegistry()

			if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
				r := runner.New(cfg, registry, logger)
				if err := r.LoadConfiguration(); err != nil {
					return err
				}
				printPlan(cmd.OutOrStdout(), cfg.Suite.Profile, r)
				return nil
			}

			opts, err := buildCollaborators(ctx, cfg, logger)
			if err != nil {
				return err
			}

			r := runner.New(cfg, registry, logger, opts...)
			if err := r.LoadConfiguration(); err != nil {
				r.Cleanup()
				return err
			}

			logger.Info("Starting suite run.",
				zap.String("run_id", r.RunID()),
				zap.String("base_url", cfg.App.BaseURL),
				zap.String("profile", cfg.Suite.Profile))

			rec, runErr := r.Run(ctx)
			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					logger.Warn("Run aborted by signal.", zap.String("run_id", r.RunID()))
				}
				return &exitError{code: ExitFailure, err: runErr}
			}
			if rec.Stats.Failed > 0 {
				return &exitError{
					code: ExitFailure,
					err:  fmt.Errorf("run completed with %d of %d cases failed", rec.Stats.Failed, rec.Stats.Total),
				}
			}

			logger.Info("Suite run passed.",
				zap.String("run_id", r.RunID()),
				zap.Int("passed", rec.Stats.Passed))
			return nil
		},
	}

	runCmd.Flags().StringP("manifest", "m", "", "Path to the test manifest (overrides config)")
	runCmd.Flags().StringP("profile", "p", "", "Execution profile to run (overrides config)")
	runCmd.Flags().Bool("headed", false, "Run the browser with a visible window")
	runCmd.Flags().Bool("dry-run", false, "Print the execution plan without opening a browser")
	runCmd.Flags().Int("workers", 1, "Module concurrency; only 1 is supported")

	return runCmd
}

// buildCollaborators constructs the optional run services the configuration
// enables. Anything that fails here fails the invocation before a browser
// opens.
func buildCollaborators(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]runner.Option, error) {
	probe, err := network.NewClient(network.ClientConfig{
		IgnoreTLSErrors: cfg.Network.IgnoreTLSErrors,
		RequestTimeout:  cfg.Network.ActionTimeout,
		Headers:         cfg.Network.Headers,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building auth probe client: %w", err)
	}

	opts := []runner.Option{
		runner.WithAuthService(auth.NewManager(cfg.App, cfg.Auth, probe, logger)),
	}

	if cfg.Store.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Store.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to run-history database: %w", err)
		}
		runStore, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		opts = append(opts, runner.WithStore(runStore))
	}

	if cfg.Capture.Enabled {
		opts = append(opts, runner.WithCapture(capture.NewProxy(cfg.Capture, logger)))
	}
	if cfg.AppLog.Enabled {
		opts = append(opts, runner.WithLogWatcher(applog.NewWatcher(cfg.AppLog, logger)))
	}

	dispatcher, err := report.NewDispatcher(cfg.Report, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, runner.WithReports(dispatcher))

	if cfg.Notify.GitHub.Enabled {
		opts = append(opts, runner.WithNotifier(notify.NewGitHubNotifier(cfg.Notify.GitHub, logger)))
	}
	if cfg.Triage.Enabled {
		svc, err := triage.NewService(ctx, cfg.Triage, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, runner.WithTriager(svc))
	}

	if info := vcs.Describe(".", logger); info != nil {
		opts = append(opts, runner.WithVCSInfo(info))
	}

	return opts, nil
}

// printPlan renders the dry-run plan: module order, per-module budget and the
// worst-case total.
func printPlan(w io.Writer, profile string, r *runner.Runner) {
	planned, estimate := r.Plan()
	if profile == "" {
		profile = "full"
	}
	fmt.Fprintf(w, "Execution plan (profile %q, %d modules):\n", profile, len(planned))
	for i, p := range planned {
		marker := ""
		if p.Required {
			marker = "  [required]"
		}
		fmt.Fprintf(w, "  %2d. %-20s budget %s%s\n", i+1, p.Name, p.Timeout, marker)
	}
	fmt.Fprintf(w, "Worst-case duration: %s\n", estimate)
}
