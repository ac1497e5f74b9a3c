package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chriserin/ftsync/internal/config"
	"github.com/chriserin/ftsync/internal/db"
	"github.com/chriserin/ftsync/internal/rewrite"
	"github.com/chriserin/ftsync/internal/syncer"
	"github.com/chriserin/ftsync/internal/ui"
)

var (
	workersFlag int
	dryRunFlag  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <path>",
	Short: "Create or update a remote test case for every scenario of a feature file or directory",
	Args:  exactArgs(1, "ftsync sync <path>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.ModeSync)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			cfg.Sync.Workers = workersFlag
			if err := cfg.Validate(config.ModeSync); err != nil {
				return err
			}
		}
		return RunSync(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], dryRunFlag)
	},
}

func init() {
	syncCmd.Flags().IntVar(&workersFlag, "workers", 1, "Scenarios of one file handled at once")
	syncCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Report what would change without calling the remote or editing files")
	rootCmd.AddCommand(syncCmd)
}

// RunSync syncs every feature file at path and returns an error when any file or
// scenario failed. A dry run needs no remote and writes no journal.
func RunSync(ctx context.Context, w io.Writer, cfg *config.Config, path string, dryRun bool) error {
	l := currentLogger()

	s := &syncer.Syncer{
		Rewriter: rewrite.New(),
		Codec:    cfg.Codec(),
		Workers:  cfg.Sync.Workers,
		DryRun:   dryRun,
	}

	var journal *syncJournal
	if !dryRun {
		client, err := connect(ctx, cfg, l)
		if err != nil {
			return err
		}
		s.Gateway = client

		sqlDB, err := openJournal(cfg.Journal)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		runID, err := db.StartRun(ctx, sqlDB, "sync")
		if err != nil {
			return err
		}
		l = l.With(zap.String("run_id", runID))
		journal = &syncJournal{db: sqlDB, runID: runID}
	}
	s.Logger = l

	sum, err := s.SyncPath(ctx, path)
	if err != nil {
		return err
	}

	for _, f := range sum.Files {
		printFile(w, f)
	}
	ui.SyncSummaryLine(w, len(sum.Files), sum.Created(), sum.Updated(), sum.Skipped(), sum.Failures())

	if journal != nil {
		if err := journal.record(context.WithoutCancel(ctx), sum); err != nil {
			l.Error("writing journal", zap.Error(err))
		}
	}

	if sum.Failed() {
		return fmt.Errorf("sync finished with %d failures", sum.Failures())
	}
	return nil
}

func printFile(w io.Writer, f syncer.FileResult) {
	if f.Err != nil {
		ui.FileErrorLine(w, f.Path, f.Err)
		return
	}
	for _, o := range f.Outcomes {
		lbl := scenarioLabel(o)
		ui.ScenarioLine(w, lbl, o.TestCaseID, f.Path, o.Line, o.Scenario, o.DryRun)
		if o.Err != nil {
			ui.ErrorDetail(w, o.Err)
		}
	}
}

func scenarioLabel(o syncer.Outcome) string {
	if o.Err != nil {
		return ui.LabelErr
	}
	switch o.Action {
	case syncer.ActionCreated:
		return ui.LabelNew
	case syncer.ActionUpdated:
		return ui.LabelUpd
	default:
		return ui.LabelSkp
	}
}

type syncJournal struct {
	db    *sql.DB
	runID string
}

// record stores every linked scenario of the run. Header lines are shifted by
// the tags written above them during the run.
func (j *syncJournal) record(ctx context.Context, sum syncer.Summary) error {
	for _, f := range sum.Files {
		for _, o := range f.Outcomes {
			if o.Err != nil || o.Action == syncer.ActionSkipped {
				continue
			}
			line := o.Line + insertedAbove(f.Outcomes, o.Line)
			if err := db.RecordScenario(ctx, j.db, f.Path, o.TestCaseID, o.Scenario, line); err != nil {
				return err
			}
		}
	}
	return db.FinishRun(ctx, j.db, j.runID, sum.Failures())
}

// insertedAbove counts link tags written at or above a header originally at line.
func insertedAbove(outcomes []syncer.Outcome, line int) int {
	n := 0
	for _, o := range outcomes {
		if o.Action == syncer.ActionCreated && o.Err == nil && o.Line <= line {
			n++
		}
	}
	return n
}
