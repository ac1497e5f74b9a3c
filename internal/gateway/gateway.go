// Package gateway is the boundary to the remote test-management system.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// GeneratedMarker is the description placed on every test case this tool creates.
const GeneratedMarker = "Test generated by ftsync (automation)"

// Gateway is the set of remote operations the synchronizer and the status replayer need.
type Gateway interface {
	Create(ctx context.Context, tc NewTestCase) (string, error)
	Exists(ctx context.Context, id string) (bool, error)
	Update(ctx context.Context, id, title, body string) error
	UpdateStatus(ctx context.Context, id string, status Status, comment, attachment string) error
}

type NewTestCase struct {
	Title       string
	Body        string
	Description string
}

// Status is an execution outcome. Names outside the known set must be numeric codes.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusWIP     Status = "WIP"
	StatusBlocked Status = "BLOCKED"
)

var statusCodes = map[Status]int{
	StatusPass:    1,
	StatusFail:    2,
	StatusWIP:     3,
	StatusBlocked: 4,
}

var ErrUnknownStatus = errors.New("unknown execution status")

// ParseStatus normalizes a status name read from a report.
func ParseStatus(s string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(s)))
}

// Code returns the numeric execution status understood by the remote system.
func (s Status) Code() (int, error) {
	if c, ok := statusCodes[s]; ok {
		return c, nil
	}
	if c, err := strconv.Atoi(string(s)); err == nil {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
}

var ErrAuth = errors.New("remote authentication failed")

// RemoteRejectedError is a non-2xx answer from the remote system.
type RemoteRejectedError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteRejectedError) Error() string {
	msg := fmt.Sprintf("%s: remote rejected request: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RemoteRejectedError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrAuth
	}
	return nil
}

// TransportError is a failure to reach the remote system at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRemote reports whether err came from the remote side of the boundary.
func IsRemote(err error) bool {
	var rejected *RemoteRejectedError
	var transport *TransportError
	return errors.As(err, &rejected) || errors.As(err, &transport) || errors.Is(err, ErrAuth)
}
