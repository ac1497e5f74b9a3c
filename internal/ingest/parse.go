// Package ingest parses batch status reports and replays them against the remote system.
package ingest

import (
	"fmt"
	"strings"

	"github.com/chriserin/ftsync/internal/gateway"
)

const (
	delimiter   = ','
	doubleQuote = '"'

	// A row with this many delimiters or more carries delimiters inside its comment.
	quotedThreshold = 4
)

// Record is one status update read from a report row.
type Record struct {
	Identifier string
	Status     gateway.Status
	Comment    string
	Attachment string
}

// MalformedRowError is a row whose fields cannot be told apart.
type MalformedRowError struct {
	Row    string
	Quotes int // double quotes seen in the quoted remainder, -1 when not applicable
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Quotes >= 0 {
		return fmt.Sprintf("malformed row %q: found %d double quotes, expected exactly 2 around the comment", e.Row, e.Quotes)
	}
	return fmt.Sprintf("malformed row %q: %s", e.Row, e.Reason)
}

// StructuralRowError is a quoted comment not followed by a delimiter before the attachment.
type StructuralRowError struct {
	Row           string
	EndQuote      int
	LastDelimiter int
}

func (e *StructuralRowError) Error() string {
	return fmt.Sprintf("malformed row %q: missing delimiter after the quoted comment", e.Row)
}

// ParseLine turns one report row into a Record. Rows with fewer than four
// delimiters are read as four plain fields; rows with more must quote the comment.
func ParseLine(line string) (Record, error) {
	fields := strings.Split(line, string(delimiter))
	if strings.Count(line, string(delimiter)) < quotedThreshold {
		if len(fields) < 4 {
			return Record{}, &MalformedRowError{
				Row:    line,
				Quotes: -1,
				Reason: fmt.Sprintf("expected 4 fields, found %d", len(fields)),
			}
		}
		return newRecord(fields[0], fields[1], unquote(fields[2]), fields[3]), nil
	}

	// The first two fields never contain the delimiter.
	rest := line[len(fields[0])+len(fields[1])+2:]
	comment, attachment, err := parseQuoted(rest)
	if err != nil {
		switch e := err.(type) {
		case *MalformedRowError:
			e.Row = line
		case *StructuralRowError:
			e.Row = line
		}
		return Record{}, err
	}
	return newRecord(fields[0], fields[1], comment, attachment), nil
}

func newRecord(id, status, comment, attachment string) Record {
	return Record{
		Identifier: strings.TrimSpace(id),
		Status:     gateway.ParseStatus(status),
		Comment:    comment,
		Attachment: strings.TrimSpace(attachment),
	}
}

// unquote drops a pair of double quotes wrapping a whole plain comment, so a
// comment reads the same whether or not the writer chose to quote it.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == doubleQuote && s[len(s)-1] == doubleQuote && strings.Count(s, `"`) == 2 {
		return s[1 : len(s)-1]
	}
	return s
}

// parseQuoted extracts the quoted comment and the trailing attachment from the part
// of a row that follows the identifier and status fields.
func parseQuoted(rest string) (comment, attachment string, err error) {
	sc := scanQuotes(rest)
	if err := sc.validate(); err != nil {
		return "", "", err
	}
	return rest[sc.startQuote+1 : sc.endQuote], rest[sc.lastDelimiter+1:], nil
}
