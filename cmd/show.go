package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftsync/internal/config"
	"github.com/chriserin/ftsync/internal/db"
	"github.com/chriserin/ftsync/internal/parser"
	"github.com/chriserin/ftsync/internal/tags"
	"github.com/chriserin/ftsync/internal/ui"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the scenario linked to a test case",
	Args:  exactArgs(1, "ftsync show <id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return RunShow(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

// testCaseID accepts a bare id or a full link tag.
func testCaseID(codec tags.Codec, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if id, ok := codec.ParseLinkTag(raw); ok {
		return id, nil
	}
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return "", fmt.Errorf("invalid test case ID: %q", raw)
	}
	return raw, nil
}

func RunShow(ctx context.Context, w io.Writer, cfg *config.Config, rawID string) error {
	codec := cfg.Codec()
	id, err := testCaseID(codec, rawID)
	if err != nil {
		return err
	}

	sqlDB, err := requireJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	linked, err := db.FindScenario(ctx, sqlDB, id)
	if err != nil {
		return err
	}

	// The file is the source of truth; the journal only says where to look.
	content, err := os.ReadFile(linked.FilePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", linked.FilePath, err)
	}

	pf := parser.Compile(linked.FilePath, content)
	var matched *parser.ParsedScenario
	for i := range pf.Scenarios {
		if got, ok := codec.LinkID(pf.Scenarios[i].Tags); ok && got == id {
			matched = &pf.Scenarios[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("test case %s is no longer linked in %s", id, linked.FilePath)
	}

	background := extractBackground(string(content))

	ui.ShowHeader(w, id, fmt.Sprintf("%s:%d", linked.FilePath, matched.Line))
	ui.ShowStatus(w, linked.Status)

	if background != "" {
		fmt.Fprintln(w)
		ui.ShowGherkin(w, background)
	}

	fmt.Fprintln(w)
	ui.ShowGherkin(w, matched.Content)

	return nil
}

// extractBackground finds the Background: section in raw file content
// and returns it as a string, collecting lines until the next keyword or tag.
func extractBackground(content string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	inBackground := false
	var bgLines []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Background:") {
			inBackground = true
			bgLines = append(bgLines, line)
			continue
		}
		if !inBackground {
			continue
		}
		// Stop at the first scenario or tag line
		if _, _, ok := parser.ScenarioHeader(trimmed); ok || strings.HasPrefix(trimmed, "@") {
			break
		}
		bgLines = append(bgLines, line)
	}

	// Trim trailing blank lines
	for len(bgLines) > 0 && strings.TrimSpace(bgLines[len(bgLines)-1]) == "" {
		bgLines = bgLines[:len(bgLines)-1]
	}

	return strings.Join(bgLines, "\n")
}
