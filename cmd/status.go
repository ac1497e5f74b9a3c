package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chriserin/ftsync/internal/config"
	"github.com/chriserin/ftsync/internal/db"
	"github.com/chriserin/ftsync/internal/gateway"
	"github.com/chriserin/ftsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status [<id> <status> [comment]]",
	Short: "Show replayed status counts, or set the status of one test case",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return RunStatusReport(cmd.Context(), cmd.OutOrStdout(), cfg)
		}
		if len(args) < 2 {
			return &config.ConfigurationError{Problems: []string{"usage: ftsync status <id> <status> [comment]"}}
		}
		cfg, err := loadConfig(cmd, config.ModeUpdate)
		if err != nil {
			return err
		}
		return RunStatusUpdate(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], args[1], strings.Join(args[2:], " "))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// RunStatusUpdate sends a single status update, the one-row form of `ftsync update`.
func RunStatusUpdate(ctx context.Context, w io.Writer, cfg *config.Config, rawID, rawStatus, comment string) error {
	id, err := testCaseID(cfg.Codec(), rawID)
	if err != nil {
		return err
	}
	status := gateway.ParseStatus(rawStatus)
	if _, err := status.Code(); err != nil {
		return err
	}

	client, err := connect(ctx, cfg, currentLogger())
	if err != nil {
		return err
	}

	sqlDB, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	prev := ""
	if history, err := db.Executions(ctx, sqlDB, id); err == nil {
		for _, e := range history {
			if e.Error == "" {
				prev = e.Status
				break
			}
		}
	}

	runID, err := db.StartRun(ctx, sqlDB, "status")
	if err != nil {
		return err
	}

	updateErr := client.UpdateStatus(ctx, id, status, comment, "")
	e := db.Execution{RunID: runID, TestCaseID: id, Status: string(status), Comment: comment}
	failures := 0
	if updateErr != nil {
		e.Error = updateErr.Error()
		failures = 1
	}
	if err := multierr.Combine(
		db.RecordExecution(ctx, sqlDB, e),
		db.FinishRun(ctx, sqlDB, runID, failures),
	); err != nil {
		currentLogger().Error("writing journal", zap.Error(err))
	}
	if updateErr != nil {
		return fmt.Errorf("updating %s: %w", id, updateErr)
	}

	ui.StatusConfirm(w, id, prev, string(status))
	return nil
}

func RunStatusReport(ctx context.Context, w io.Writer, cfg *config.Config) error {
	sqlDB, err := requireJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	counts, err := db.StatusCounts(ctx, sqlDB)
	if err != nil {
		return err
	}

	total := 0
	for _, c := range counts {
		total += c.Count
	}
	fmt.Fprintf(w, "Test cases: %d\n", total)
	for _, c := range counts {
		ui.StatusCountLine(w, c.Status, c.Count)
	}

	run, err := db.LastRun(ctx, sqlDB)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ui.LastRunLine(w, run.Mode, run.ID, run.StartedAt, run.Failures)
	return nil
}
