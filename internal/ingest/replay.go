package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chriserin/ftsync/internal/gateway"
)

// StatusUpdater is the part of the gateway the replayer needs.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status gateway.Status, comment, attachment string) error
}

type Replayer struct {
	Gateway StatusUpdater
	// AttachmentDir resolves relative attachment paths, usually the report's directory.
	AttachmentDir string
	// OnResult, when set, is called after each row in file order.
	OnResult func(RowResult)
	Logger   *zap.Logger
}

// RowResult is what happened to one row. Err is a parse, read or gateway failure.
type RowResult struct {
	Row
	Err error
}

type Summary struct {
	Results []RowResult
}

func (s Summary) Replayed() int {
	n := 0
	for _, r := range s.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

func (s Summary) Failures() int {
	return len(s.Results) - s.Replayed()
}

// Failed is the "errors encountered" flag of a replay.
func (s Summary) Failed() bool {
	return s.Failures() > 0
}

func (s Summary) Err() error {
	var err error
	for _, r := range s.Results {
		if r.Err != nil {
			err = multierr.Append(err, fmt.Errorf("line %d: %w", r.Line, r.Err))
		}
	}
	return err
}

// Replay sends every row of r to the gateway in file order. A failed row is
// recorded and the replay moves on to the next one.
func (rp *Replayer) Replay(ctx context.Context, r io.Reader) Summary {
	log := rp.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var sum Summary
	for row, err := range Rows(r) {
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			rec := row.Record
			err = rp.Gateway.UpdateStatus(ctx, rec.Identifier, rec.Status, rec.Comment, rp.attachmentPath(rec.Attachment))
		}

		res := RowResult{Row: row, Err: err}
		sum.Results = append(sum.Results, res)
		if rp.OnResult != nil {
			rp.OnResult(res)
		}
		if err != nil {
			log.Error("replaying status row",
				zap.Int("line", row.Line),
				zap.String("test_case", row.Record.Identifier),
				zap.Error(err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			continue
		}
		log.Info("replayed status",
			zap.Int("line", row.Line),
			zap.String("test_case", row.Record.Identifier),
			zap.String("status", string(row.Record.Status)))
	}
	return sum
}

func (rp *Replayer) attachmentPath(p string) string {
	if p == "" || filepath.IsAbs(p) || rp.AttachmentDir == "" {
		return p
	}
	return filepath.Join(rp.AttachmentDir, p)
}
