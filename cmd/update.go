package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chriserin/ftsync/internal/config"
	"github.com/chriserin/ftsync/internal/db"
	"github.com/chriserin/ftsync/internal/ingest"
	"github.com/chriserin/ftsync/internal/ui"
)

var updateCmd = &cobra.Command{
	Use:   "update <csv>",
	Short: "Replay a status report as execution updates",
	Long: `Each non-blank line of the report is: identifier,status,comment,attachment
The comment may be quoted to hold commas. Relative attachment paths are resolved
against the report's directory.`,
	Args: exactArgs(1, "ftsync update <csv>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.ModeUpdate)
		if err != nil {
			return err
		}
		return RunUpdate(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

// RunUpdate replays the report at csvPath and returns an error when any row failed.
func RunUpdate(ctx context.Context, w io.Writer, cfg *config.Config, csvPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("opening report: %w", err)
	}
	defer f.Close()

	l := currentLogger()
	client, err := connect(ctx, cfg, l)
	if err != nil {
		return err
	}

	sqlDB, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	runID, err := db.StartRun(ctx, sqlDB, "update")
	if err != nil {
		return err
	}
	l = l.With(zap.String("run_id", runID))

	rp := &ingest.Replayer{
		Gateway:       client,
		AttachmentDir: filepath.Dir(csvPath),
		Logger:        l,
		OnResult: func(r ingest.RowResult) {
			rec := r.Record
			ui.ReplayLine(w, r.Line, rec.Identifier, string(rec.Status), r.Err)
			if rec.Identifier == "" {
				return
			}
			e := db.Execution{
				RunID:      runID,
				TestCaseID: rec.Identifier,
				Status:     string(rec.Status),
				Comment:    rec.Comment,
				Attachment: rec.Attachment,
			}
			if r.Err != nil {
				e.Error = r.Err.Error()
			}
			// The journal is written after cancellation too, so it uses its own context.
			if err := db.RecordExecution(context.WithoutCancel(ctx), sqlDB, e); err != nil {
				l.Error("writing journal", zap.Error(err))
			}
		},
	}

	sum := rp.Replay(ctx, f)
	ui.ReplaySummaryLine(w, sum.Replayed(), sum.Failures())

	if err := db.FinishRun(context.WithoutCancel(ctx), sqlDB, runID, sum.Failures()); err != nil {
		l.Error("writing journal", zap.Error(err))
	}

	if sum.Failed() {
		return fmt.Errorf("update finished with %d failures", sum.Failures())
	}
	return nil
}
