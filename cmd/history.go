package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftsync/internal/config"
	"github.com/chriserin/ftsync/internal/db"
	"github.com/chriserin/ftsync/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "List the journaled status replays of a test case",
	Args:  exactArgs(1, "ftsync history <id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return RunHistory(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func RunHistory(ctx context.Context, w io.Writer, cfg *config.Config, rawID string) error {
	id, err := testCaseID(cfg.Codec(), rawID)
	if err != nil {
		return err
	}

	sqlDB, err := requireJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	entries, err := db.Executions(ctx, sqlDB, id)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "no replays for %s\n", id)
		return nil
	}

	fmt.Fprintln(w, id)
	for _, e := range entries {
		ui.HistoryLine(w, e.ReplayedAt, e.Status, e.Comment, e.Error)
	}
	return nil
}
