package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftsync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config template and create the journal in the current directory",
	Args:  exactArgs(0, "ftsync init"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunInit(cmd.OutOrStdout(), configPath)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// RunInit is idempotent: existing files are reported and left alone.
func RunInit(w io.Writer, cfgPath string) error {
	// config file
	if exists(cfgPath) {
		fmt.Fprintf(w, "%s already exists\n", cfgPath)
	} else {
		if err := os.WriteFile(cfgPath, []byte(config.Template), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", cfgPath, err)
		}
		fmt.Fprintf(w, "%s created\n", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// journal
	journalExists := exists(cfg.Journal)
	sqlDB, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	sqlDB.Close()
	if journalExists {
		fmt.Fprintf(w, "%s already exists\n", cfg.Journal)
	} else {
		fmt.Fprintf(w, "%s created\n", cfg.Journal)
	}

	// gitignore
	msgs, err := ensureGitignore(filepath.ToSlash(filepath.Clean(cfg.Journal)))
	if err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	for _, msg := range msgs {
		fmt.Fprintln(w, msg)
	}

	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func ensureGitignore(entry string) ([]string, error) {
	data, err := os.ReadFile(".gitignore")
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(".gitignore", []byte(entry+"\n"), 0o644); err != nil {
			return nil, err
		}
		return []string{".gitignore created", entry + " added to .gitignore"}, nil
	}
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == entry {
			return []string{entry + " already in .gitignore"}, nil
		}
	}

	content := string(data)
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"

	if err := os.WriteFile(".gitignore", []byte(content), 0o644); err != nil {
		return nil, err
	}
	return []string{entry + " added to .gitignore"}, nil
}
