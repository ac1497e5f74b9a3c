// Package ui renders result lines for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	newStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	updStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	skpStyle    = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dryStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	headStyle   = lipgloss.NewStyle().Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	statusStyle = map[string]lipgloss.Style{
		"PASS":    newStyle,
		"FAIL":    errStyle,
		"WIP":     dryStyle,
		"BLOCKED": errStyle,
	}
)

// Scenario labels, three characters wide like the rest of the output.
const (
	LabelNew = "new"
	LabelUpd = "upd"
	LabelSkp = "skp"
	LabelErr = "err"
)

func label(l string) string {
	switch l {
	case LabelNew:
		return newStyle.Render(l)
	case LabelUpd:
		return updStyle.Render(l)
	case LabelErr:
		return errStyle.Render(l)
	default:
		return skpStyle.Render(l)
	}
}

// ScenarioLine prints one scenario outcome: label, test case id, location and name.
func ScenarioLine(w io.Writer, lbl, id, path string, line int, name string, dryRun bool) {
	if id == "" {
		id = "-"
	}
	out := fmt.Sprintf("%s  %s  %s:%d  %s", label(lbl), idStyle.Render(id), path, line, name)
	if dryRun {
		out += "  " + dryStyle.Render("(dry run)")
	}
	fmt.Fprintln(w, out)
}

// ErrorDetail prints the cause of the preceding failure line, indented.
func ErrorDetail(w io.Writer, err error) {
	for _, l := range strings.Split(err.Error(), "\n") {
		fmt.Fprintln(w, "     "+errStyle.Render(l))
	}
}

func FileErrorLine(w io.Writer, path string, err error) {
	fmt.Fprintln(w, label(LabelErr)+"  "+path)
	ErrorDetail(w, err)
}

func SyncSummaryLine(w io.Writer, files, created, updated, skipped, failures int) {
	fmt.Fprintf(w, "synced %d files: %d created, %d updated, %d skipped, %d failed\n",
		files, created, updated, skipped, failures)
}

func ReplayLine(w io.Writer, line int, id, status string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s  line %d  %s\n", label(LabelErr), line, idStyle.Render(orDash(id)))
		ErrorDetail(w, err)
		return
	}
	fmt.Fprintf(w, "%s  line %d  %s  %s\n", label(LabelUpd), line, idStyle.Render(id), StatusText(status))
}

func ReplaySummaryLine(w io.Writer, replayed, failures int) {
	fmt.Fprintf(w, "replayed %d rows, %d failed\n", replayed, failures)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// StatusText colors a known status name.
func StatusText(status string) string {
	if st, ok := statusStyle[status]; ok {
		return st.Render(status)
	}
	return skpStyle.Render(status)
}

// ListRow prints one padded row of `ftsync list`.
func ListRow(w io.Writer, id, location, name, status string, idWidth, locWidth, nameWidth int) {
	fmt.Fprintf(w, "%s%s  %s%s  %s%s  %s\n",
		idStyle.Render(id), padding(id, idWidth),
		location, padding(location, locWidth),
		name, padding(name, nameWidth),
		StatusText(status))
}

func padding(s string, width int) string {
	if n := len(s); n < width {
		return strings.Repeat(" ", width-n)
	}
	return ""
}

func ShowHeader(w io.Writer, id, location string) {
	fmt.Fprintln(w, headStyle.Render(id)+"  "+location)
}

func ShowStatus(w io.Writer, status string) {
	fmt.Fprintln(w, "status: "+StatusText(status))
}

var gherkinKeywords = []string{
	"Feature:", "Background:", "Scenario:", "Example:", "Given ", "When ", "Then ", "And ", "But ", "* ",
}

// ShowGherkin prints scenario text with keywords and tags highlighted.
func ShowGherkin(w io.Writer, content string) {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]
		if strings.HasPrefix(trimmed, "@") {
			fmt.Fprintln(w, indent+idStyle.Render(trimmed))
			continue
		}
		styled := trimmed
		for _, kw := range gherkinKeywords {
			if strings.HasPrefix(trimmed, kw) {
				styled = keyStyle.Render(kw) + trimmed[len(kw):]
				break
			}
		}
		fmt.Fprintln(w, indent+styled)
	}
}

func StatusCountLine(w io.Writer, status string, count int) {
	fmt.Fprintf(w, "  %s: %d\n", StatusText(status), count)
}

func LastRunLine(w io.Writer, mode, id, started string, failures int) {
	fmt.Fprintf(w, "last run: %s %s at %s, %d failed\n", mode, skpStyle.Render(id), started, failures)
}

func StatusConfirm(w io.Writer, id, prev, next string) {
	if prev == "" || prev == next {
		fmt.Fprintf(w, "%s  %s\n", idStyle.Render(id), StatusText(next))
		return
	}
	fmt.Fprintf(w, "%s  %s -> %s\n", idStyle.Render(id), StatusText(prev), StatusText(next))
}

func HistoryLine(w io.Writer, at, status, comment, errText string) {
	out := fmt.Sprintf("  %s  %s", at, StatusText(status))
	if comment != "" {
		out += "  " + comment
	}
	if errText != "" {
		out += "  " + errStyle.Render("("+errText+")")
	}
	fmt.Fprintln(w, out)
}
