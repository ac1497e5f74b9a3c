package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chriserin/ftsync/internal/config"
)

var (
	configPath string
	verbose    bool
	conn       connFlags

	logger *zap.Logger
)

// connFlags override the config file and environment when set on the command line.
type connFlags struct {
	url, username, password, token, project string
	resultVersion, cycle                    string
}

var rootCmd = &cobra.Command{
	Use:           "ftsync",
	Short:         "ftsync keeps Gherkin scenarios linked to remote test cases",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultPath, "Config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&conn.url, "url", "", "Jira base URL")
	pf.StringVar(&conn.username, "username", "", "Jira username")
	pf.StringVar(&conn.password, "password", "", "Jira password")
	pf.StringVar(&conn.token, "token", "", "Bearer token, used instead of username and password")
	pf.StringVar(&conn.project, "project", "", "Project key for new test cases")
	pf.StringVar(&conn.resultVersion, "result-version", "", "Version holding the executions to update")
	pf.StringVar(&conn.cycle, "cycle", "", "Regular expression selecting test cycles")
}

func currentLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// loadConfig resolves file, environment and flags, in increasing precedence, and
// validates the result for mode.
func loadConfig(cmd *cobra.Command, mode config.Mode) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, value string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	override("url", &cfg.Jira.URL, conn.url)
	override("username", &cfg.Jira.Username, conn.username)
	override("password", &cfg.Jira.Password, conn.password)
	override("token", &cfg.Jira.Token, conn.token)
	override("project", &cfg.Jira.Project, conn.project)
	override("result-version", &cfg.Zephyr.ResultVersion, conn.resultVersion)
	override("cycle", &cfg.Zephyr.Cycle, conn.cycle)

	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exactArgs reports wrong arity as a configuration error.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &config.ConfigurationError{Problems: []string{"usage: " + usage}}
		}
		return nil
	}
}

// Exit codes: 1 when a run reported failures, 2 for configuration errors.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)

	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		os.Exit(2)
	}
	os.Exit(1)
}
