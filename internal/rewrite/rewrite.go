// Package rewrite inserts link tags above scenario headers in feature files.
package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chriserin/ftsync/internal/parser"
)

var (
	ErrScenarioNotFound  = errors.New("scenario header not found")
	ErrAmbiguousScenario = errors.New("scenario header matches more than one line")
)

// NotFoundError names the scenario whose header could not be located exactly once.
type NotFoundError struct {
	Scenario string
	Matches  int
}

func (e *NotFoundError) Error() string {
	if e.Matches > 1 {
		return fmt.Sprintf("scenario %q: %d header lines match", e.Scenario, e.Matches)
	}
	return fmt.Sprintf("scenario %q: header not found", e.Scenario)
}

func (e *NotFoundError) Unwrap() error {
	if e.Matches > 1 {
		return ErrAmbiguousScenario
	}
	return ErrScenarioNotFound
}

// IOError reports a failed read or write of a feature file. The file on disk is
// unchanged when it is returned.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ApplyLinkTag inserts tag on its own line directly above the header of the scenario
// called name, using the header's indentation. Every other byte of src is kept.
func ApplyLinkTag(src []byte, name, tag string) ([]byte, error) {
	lines := strings.SplitAfter(string(src), "\n")

	idx, err := findHeader(lines, name)
	if err != nil {
		return nil, err
	}

	header := lines[idx]
	eol := "\n"
	if strings.HasSuffix(header, "\r\n") {
		eol = "\r\n"
	}
	indent := header[:len(header)-len(strings.TrimLeft(header, " \t"))]

	var out bytes.Buffer
	out.Grow(len(src) + len(indent) + len(tag) + len(eol))
	for i, l := range lines {
		if i == idx {
			out.WriteString(indent)
			out.WriteString(tag)
			out.WriteString(eol)
		}
		out.WriteString(l)
	}
	return out.Bytes(), nil
}

// findHeader returns the index of the single line that is the header of the named
// scenario. Lines inside doc strings are never headers.
func findHeader(lines []string, name string) (int, error) {
	found := -1
	matches := 0
	docDelimiter := ""
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if docDelimiter != "" {
			if trimmed == docDelimiter {
				docDelimiter = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, `"""`) {
			docDelimiter = `"""`
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			docDelimiter = "```"
			continue
		}
		if isHeader(trimmed, name) {
			if found < 0 {
				found = i
			}
			matches++
		}
	}
	if matches != 1 {
		return -1, &NotFoundError{Scenario: name, Matches: matches}
	}
	return found, nil
}

// isHeader matches both "Scenario:" and "Example:" headers; the keyword on disk is kept.
func isHeader(trimmed, name string) bool {
	_, header, ok := parser.ScenarioHeader(trimmed)
	return ok && header == name
}

// Rewriter applies link tags to files on disk. Rewrites of the same path are
// serialized; the read-modify-write cycles never interleave.
type Rewriter struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Rewriter {
	return &Rewriter{locks: make(map[string]*sync.Mutex)}
}

func (r *Rewriter) lock(path string) *sync.Mutex {
	key := filepath.Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*sync.Mutex)
	}
	if m, ok := r.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	r.locks[key] = m
	return m
}

// Apply reads path, inserts tag above the named scenario and replaces the file
// atomically.
func (r *Rewriter) Apply(path, name, tag string) error {
	m := r.lock(path)
	m.Lock()
	defer m.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return &IOError{Op: "stat", Path: path, Err: err}
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return &IOError{Op: "read", Path: path, Err: err}
	}

	out, err := ApplyLinkTag(src, name, tag)
	if err != nil {
		return err
	}

	if err := writeFile(path, out, info.Mode().Perm()); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

var writeFile = WriteFileAtomic

// WriteFileAtomic writes content to a temp file beside path and renames it over path.
func WriteFileAtomic(path string, content []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ftsync-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	committed = true
	return nil
}
