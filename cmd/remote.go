package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/chriserin/ftsync/internal/config"
	"github.com/chriserin/ftsync/internal/db"
	"github.com/chriserin/ftsync/internal/gateway"
)

func newClient(cfg *config.Config, l *zap.Logger) (*gateway.Client, error) {
	return gateway.NewClient(gateway.ClientConfig{
		BaseURL:       cfg.Jira.URL,
		Username:      cfg.Jira.Username,
		Password:      cfg.Jira.Password,
		Token:         cfg.Jira.Token,
		Project:       cfg.Jira.Project,
		IssueType:     cfg.Jira.IssueType,
		BDDField:      cfg.Jira.BDDField,
		ResultVersion: cfg.Zephyr.ResultVersion,
		Cycle:         cfg.CycleRegexp(),
		Timeout:       cfg.Timeout,
		Logger:        l,
	})
}

// connect builds the client and checks the credentials before any work starts.
func connect(ctx context.Context, cfg *config.Config, l *zap.Logger) (*gateway.Client, error) {
	client, err := newClient(cfg, l)
	if err != nil {
		return nil, &config.ConfigurationError{Problems: []string{err.Error()}}
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Jira.URL, err)
	}
	return client, nil
}

func openJournal(path string) (*sql.DB, error) {
	sqlDB, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return sqlDB, nil
}

// requireJournal opens an existing journal for the read-only commands.
func requireJournal(path string) (*sql.DB, error) {
	if !exists(path) {
		return nil, fmt.Errorf("no journal at %s, run `ftsync init` or `ftsync sync` first", path)
	}
	return openJournal(path)
}
