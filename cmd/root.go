// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mgrantlabs/mgrant-e2e/internal/config"
	"github.com/mgrantlabs/mgrant-e2e/internal/observability"
)

// Exit codes the process reports to its caller, usually a CI job.
const (
	ExitOK      = 0
	ExitFailure = 1 // test failures or a halted run
	ExitUsage   = 2 // configuration or startup errors
)

// exitError carries a specific exit code through cobra's error return.
// Errors without one default to ExitUsage: if we never got as far as running
// tests, the problem is the invocation, not the application under test.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps the error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitUsage
}

// appState is the configuration shared by the command tree. Each call to
// NewRootCommand gets a fresh one so command executions never leak viper
// state into each other.
type appState struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// NewRootCommand builds a fresh mgrant-e2e command tree.
func NewRootCommand() *cobra.Command {
	st := &appState{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "mgrant-e2e",
		Short: "Browser end-to-end test suite for the MGrant web application",
		Long: `mgrant-e2e drives a single Chrome session through the MGrant
grants-management web application, executing the test modules selected by the
test manifest in their configured precedence order.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := st.loadConfig(); err != nil {
				return err
			}
			observability.InitializeLogger(st.cfg.Logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&st.cfgFile, "config", "",
		"Path to the config file (default: ./mgrant-e2e.yaml)")
	rootCmd.SetVersionTemplate("mgrant-e2e version {{.Version}}\n")

	rootCmd.AddCommand(newRunCmd(st))
	rootCmd.AddCommand(newModulesCmd(st))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig wires viper: file, MGRANT_E2E_* environment overrides and
// defaults, in the usual precedence. A missing config file is fine; defaults
// plus environment carry a complete configuration.
func (st *appState) loadConfig() error {
	v := st.v
	if st.cfgFile != "" {
		v.SetConfigFile(st.cfgFile)
	} else {
		v.SetConfigName("mgrant-e2e")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MGRANT_E2E")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config.SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if st.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg, err := config.NewFromViper(v)
	if err != nil {
		return err
	}
	st.cfg = cfg
	return nil
}

// reloadConfig rebuilds the configuration after a subcommand has bound its
// flags into viper, so flag values override file and environment.
func (st *appState) reloadConfig() error {
	cfg, err := config.NewFromViper(st.v)
	if err != nil {
		return err
	}
	st.cfg = cfg
	return nil
}

// Execute runs the CLI once. The returned error is already logged; main only
// translates it into an exit code.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		observability.Sync()
	}
	return err
}
