// Package syncer keeps the scenarios of feature files linked to remote test cases.
package syncer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chriserin/ftsync/internal/gateway"
	"github.com/chriserin/ftsync/internal/parser"
	"github.com/chriserin/ftsync/internal/tags"
)

var ErrDuplicateScenario = errors.New("duplicate scenario name")

// Rewriter records a link tag above a scenario header in a file.
type Rewriter interface {
	Apply(path, name, tag string) error
}

type Syncer struct {
	Gateway  gateway.Gateway
	Rewriter Rewriter
	Codec    tags.Codec
	// Workers bounds the scenarios of one file handled at once. Zero or one is sequential.
	Workers int
	// DryRun classifies and reports without calling the gateway or touching files.
	DryRun bool
	Logger *zap.Logger
}

func (s *Syncer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// RenderBody joins step texts one per line, in order.
func RenderBody(steps []string) string {
	return strings.Join(steps, "\n")
}

// SyncPath syncs every feature file found at root.
func (s *Syncer) SyncPath(ctx context.Context, root string) (Summary, error) {
	paths, err := FindFeatures(root)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, path := range paths {
		if ctx.Err() != nil {
			sum.Files = append(sum.Files, FileResult{Path: path, Err: ctx.Err()})
			continue
		}
		sum.Files = append(sum.Files, s.SyncFile(ctx, path))
	}
	return sum, nil
}

// SyncFile runs one pass over the scenarios of the feature file at path. A file
// that cannot be read or parsed fails whole, before any remote call. An
// unsupported block (Scenario Outline, Rule) fails as its own outcome while the
// plain scenarios beside it still sync.
func (s *Syncer) SyncFile(ctx context.Context, path string) FileResult {
	log := s.logger().With(zap.String("file", path))
	res := FileResult{Path: path}

	content, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Errorf("reading %s: %w", path, err)
		log.Error("reading feature file", zap.Error(err))
		return res
	}

	pf := parser.Compile(path, content)
	if len(pf.Errors) > 0 {
		var errs error
		for _, pe := range pf.Errors {
			errs = multierr.Append(errs, pe)
		}
		res.ParseErrors = pf.Errors
		res.Err = fmt.Errorf("parsing %s: %w", path, errs)
		log.Error("parsing feature file", zap.Error(errs))
		return res
	}

	if err := checkDuplicates(pf.Scenarios); err != nil {
		res.Err = fmt.Errorf("%s: %w", path, err)
		log.Error("refusing to sync file", zap.Error(err))
		return res
	}

	res.Outcomes = s.Sync(ctx, path, pf.Scenarios)
	if len(pf.Skipped) > 0 {
		res.ParseErrors = pf.Skipped
		for _, pe := range pf.Skipped {
			log.Error("skipping unsupported block", zap.Int("line", pe.Line), zap.String("block", pe.Block))
			res.Outcomes = append(res.Outcomes, Outcome{Scenario: pe.Block, Line: pe.Line, Err: pe})
		}
		slices.SortStableFunc(res.Outcomes, func(a, b Outcome) int { return cmp.Compare(a.Line, b.Line) })
	}
	return res
}

func checkDuplicates(scenarios []parser.ParsedScenario) error {
	seen := make(map[string]int, len(scenarios))
	for _, sc := range scenarios {
		if line, ok := seen[sc.Name]; ok {
			return fmt.Errorf("%w: %q on lines %d and %d", ErrDuplicateScenario, sc.Name, line, sc.Line)
		}
		seen[sc.Name] = sc.Line
	}
	return nil
}

// Sync handles each scenario of one file and returns their outcomes in input order.
// A failure of one scenario never stops the others.
func (s *Syncer) Sync(ctx context.Context, path string, scenarios []parser.ParsedScenario) []Outcome {
	outcomes := make([]Outcome, len(scenarios))

	g := new(errgroup.Group)
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, sc := range scenarios {
		g.Go(func() error {
			outcomes[i] = s.syncScenario(ctx, path, sc)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *Syncer) syncScenario(ctx context.Context, path string, sc parser.ParsedScenario) Outcome {
	link := s.Codec.Classify(sc.Tags)
	out := Outcome{Scenario: sc.Name, Line: sc.Line, Link: link.Kind, TestCaseID: link.ID, DryRun: s.DryRun}
	log := s.logger().With(
		zap.String("file", path),
		zap.String("scenario", sc.Name),
		zap.Int("line", sc.Line))

	if link.Kind == tags.OptedOut {
		out.Action = ActionSkipped
		log.Debug("scenario opted out")
		return out
	}

	if err := ctx.Err(); err != nil {
		out.Action = actionFor(link.Kind)
		out.Err = err
		return out
	}

	body := RenderBody(sc.Steps)

	switch link.Kind {
	case tags.Linked:
		out.Action = ActionUpdated
		if s.DryRun {
			return out
		}
		if err := s.Gateway.Update(ctx, link.ID, sc.Name, body); err != nil {
			out.Err = fmt.Errorf("updating test case %s: %w", link.ID, err)
			log.Error("updating test case", zap.String("test_case", link.ID), zap.Error(err))
			return out
		}
		log.Info("updated test case", zap.String("test_case", link.ID))

	default:
		out.Action = ActionCreated
		if s.DryRun {
			return out
		}
		id, err := s.Gateway.Create(ctx, gateway.NewTestCase{
			Title:       sc.Name,
			Body:        body,
			Description: gateway.GeneratedMarker,
		})
		if err != nil {
			out.Err = fmt.Errorf("creating test case: %w", err)
			log.Error("creating test case", zap.Error(err))
			return out
		}
		out.TestCaseID = id

		if err := s.Rewriter.Apply(path, sc.Name, s.Codec.LinkTag(id)); err != nil {
			out.Err = fmt.Errorf("test case %s created but not linked: %w", id, err)
			log.Error("writing link tag", zap.String("test_case", id), zap.Error(err))
			return out
		}
		log.Info("created test case", zap.String("test_case", id))
	}

	return out
}

func actionFor(k tags.Kind) Action {
	switch k {
	case tags.Linked:
		return ActionUpdated
	case tags.OptedOut:
		return ActionSkipped
	default:
		return ActionCreated
	}
}
