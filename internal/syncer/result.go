package syncer

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/chriserin/ftsync/internal/parser"
	"github.com/chriserin/ftsync/internal/tags"
)

type Action int

const (
	ActionSkipped Action = iota
	ActionCreated
	ActionUpdated
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// Outcome is what happened to one scenario. Err is set when the action failed;
// TestCaseID may still be set when the test case was created but the tag not written.
type Outcome struct {
	Scenario   string
	Line       int
	Link       tags.Kind
	Action     Action
	TestCaseID string
	DryRun     bool
	Err        error
}

type FileResult struct {
	Path        string
	Outcomes    []Outcome
	ParseErrors []parser.ParseError
	Err         error
}

// Failed reports whether the file or any of its scenarios failed.
func (r FileResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return false
}

type Summary struct {
	Files []FileResult
}

func (s Summary) count(a Action) int {
	n := 0
	for _, f := range s.Files {
		for _, o := range f.Outcomes {
			if o.Action == a && o.Err == nil {
				n++
			}
		}
	}
	return n
}

func (s Summary) Created() int { return s.count(ActionCreated) }
func (s Summary) Updated() int { return s.count(ActionUpdated) }
func (s Summary) Skipped() int { return s.count(ActionSkipped) }

// Failures counts failed files plus failed scenarios.
func (s Summary) Failures() int {
	n := 0
	for _, f := range s.Files {
		if f.Err != nil {
			n++
		}
		for _, o := range f.Outcomes {
			if o.Err != nil {
				n++
			}
		}
	}
	return n
}

// Failed is the "errors encountered" flag of a run.
func (s Summary) Failed() bool {
	return s.Failures() > 0
}

// Err combines every failure of the run, or returns nil.
func (s Summary) Err() error {
	var err error
	for _, f := range s.Files {
		if f.Err != nil {
			err = multierr.Append(err, f.Err)
		}
		for _, o := range f.Outcomes {
			if o.Err != nil {
				err = multierr.Append(err, fmt.Errorf("%s:%d %q: %w", f.Path, o.Line, o.Scenario, o.Err))
			}
		}
	}
	return err
}
