package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftsync/internal/config"
	"github.com/chriserin/ftsync/internal/db"
	"github.com/chriserin/ftsync/internal/ui"
)

var (
	fileFlag       string
	statusFlag     string
	noActivityFlag bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List linked scenarios recorded in the journal",
	Args:  exactArgs(0, "ftsync list [--file <path>]"),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return RunList(cmd.Context(), cmd.OutOrStdout(), cfg, ListFilter{File: fileFlag, Status: statusFlag, NoActivity: noActivityFlag})
	},
}

func init() {
	listCmd.Flags().StringVar(&fileFlag, "file", "", "Only scenarios of this feature file")
	listCmd.Flags().StringVar(&statusFlag, "status", "", "Filter by last replayed status")
	listCmd.Flags().BoolVar(&noActivityFlag, "no-activity", false, "Show only test cases never replayed")
	rootCmd.AddCommand(listCmd)
}

type ListFilter struct {
	File       string
	Status     string
	NoActivity bool
}

func (f ListFilter) keep(s db.LinkedScenario) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.NoActivity && s.Status != db.NoActivity {
		return false
	}
	return true
}

func RunList(ctx context.Context, w io.Writer, cfg *config.Config, filter ListFilter) error {
	sqlDB, err := requireJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if filter.File != "" {
		filter.File = filepath.Clean(filter.File)
	}
	scenarios, err := db.LinkedScenarios(ctx, sqlDB, filter.File)
	if err != nil {
		return err
	}

	type row struct {
		id, location, name, status string
	}
	var results []row
	for _, s := range scenarios {
		if !filter.keep(s) {
			continue
		}
		results = append(results, row{
			id:       s.TestCaseID,
			location: fmt.Sprintf("%s:%d", s.FilePath, s.Line),
			name:     s.Name,
			status:   s.Status,
		})
	}

	// Compute column widths
	idWidth, locWidth, nameWidth := 0, 0, 0
	for _, r := range results {
		idWidth = max(idWidth, len(r.id))
		locWidth = max(locWidth, len(r.location))
		nameWidth = max(nameWidth, len(r.name))
	}

	for _, r := range results {
		ui.ListRow(w, r.id, r.location, r.name, r.status, idWidth, locWidth, nameWidth)
	}

	return nil
}
