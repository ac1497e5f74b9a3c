package ingest

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strings"
)

const maxLineSize = 1 << 20

// Row is one non-blank line of a report.
type Row struct {
	Line   int // 1-based
	Raw    string
	Record Record
}

// ReadError is a failure of the underlying stream. It ends the sequence.
type ReadError struct {
	Line int
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading report after line %d: %v", e.Line, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Rows lazily parses r one line at a time, in file order. Blank lines are
// skipped. A row that fails to parse is yielded with its error and the sequence
// goes on; a read error is yielded once as a *ReadError and ends it. The
// sequence consumes r and cannot be restarted.
func Rows(r io.Reader) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		n := 0
		for sc.Scan() {
			n++
			raw := strings.TrimSuffix(sc.Text(), "\r")
			if strings.TrimSpace(raw) == "" {
				continue
			}
			rec, err := ParseLine(raw)
			if !yield(Row{Line: n, Raw: raw, Record: rec}, err) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Row{Line: n}, &ReadError{Line: n, Err: err})
		}
	}
}
