package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
	Raw    string
}

type fakeJira struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

func (f *fakeJira) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Raw:    string(raw),
	}
	if r.Header.Get("Content-Type") == "application/json" {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeJira) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*ClientConfig)) (*Client, *fakeJira) {
	t.Helper()
	fake := &fakeJira{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := ClientConfig{
		BaseURL:       srv.URL + "/jira/",
		Username:      "bot",
		Password:      "secret",
		Project:       "TP",
		BDDField:      "customfield_10100",
		ResultVersion: "1.2.0",
		Cycle:         regexp.MustCompile(`^Regression`),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c, fake
}

func TestNewClient_RequiresAbsoluteURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.Error(t, err)

	_, err = NewClient(ClientConfig{BaseURL: "jira.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

func TestNewClient_CopiesCallerHTTPClient(t *testing.T) {
	caller := &http.Client{}

	c, err := NewClient(ClientConfig{BaseURL: "http://jira.example.com/", HTTPClient: caller, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.http.Timeout)
	assert.Zero(t, caller.Timeout)
	assert.NotSame(t, caller, c.http)

	c, err = NewClient(ClientConfig{BaseURL: "http://jira.example.com/", HTTPClient: http.DefaultClient, Token: "tok", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.http.Timeout)
	assert.Zero(t, http.DefaultClient.Timeout)
}

func TestClient_Create(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"10001","key":"TP-7"}`)
	}, nil)

	id, err := c.Create(context.Background(), NewTestCase{
		Title:       "Login succeeds",
		Body:        "Given a user\nWhen they log in",
		Description: GeneratedMarker,
	})
	require.NoError(t, err)
	assert.Equal(t, "TP-7", id)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/jira/rest/api/2/issue", reqs[0].Path)
	assert.Contains(t, reqs[0].Auth, "Basic ")

	fields := reqs[0].Body["fields"].(map[string]any)
	assert.Equal(t, "Login succeeds", fields["summary"])
	assert.Equal(t, GeneratedMarker, fields["description"])
	assert.Equal(t, "Given a user\nWhen they log in", fields["customfield_10100"])
	assert.Equal(t, map[string]any{"key": "TP"}, fields["project"])
	assert.Equal(t, map[string]any{"name": "Test"}, fields["issuetype"])
}

func TestClient_Create_WithoutBDDFieldUsesDescription(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"key":"TP-8"}`)
	}, func(cfg *ClientConfig) { cfg.BDDField = "" })

	_, err := c.Create(context.Background(), NewTestCase{Title: "T", Body: "Given x", Description: GeneratedMarker})
	require.NoError(t, err)

	fields := fake.Requests()[0].Body["fields"].(map[string]any)
	assert.Equal(t, GeneratedMarker+"\n\nGiven x", fields["description"])
}

func TestClient_Create_MissingKey(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}, nil)

	_, err := c.Create(context.Background(), NewTestCase{Title: "T"})
	var rejected *RemoteRejectedError
	require.ErrorAs(t, err, &rejected)
}

func TestClient_Create_Rejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors":{"summary":"required"}}`)
	}, nil)

	_, err := c.Create(context.Background(), NewTestCase{})
	var rejected *RemoteRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "required")
	assert.False(t, errors.Is(err, ErrAuth))
	assert.True(t, IsRemote(err))
}

func TestClient_AuthFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, nil)

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestClient_BearerToken(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"bot"}`)
	}, func(cfg *ClientConfig) { cfg.Token = "tok-123" })

	require.NoError(t, c.Ping(context.Background()))
	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer tok-123", reqs[0].Auth)
	assert.Equal(t, "/jira/rest/api/2/myself", reqs[0].Path)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: base})
	require.NoError(t, err)

	err = c.Update(context.Background(), "TP-1", "T", "B")
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, "update test case", transport.Op)
	assert.True(t, IsRemote(err))
}

func TestClient_Exists(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jira/rest/api/2/issue/TP-1":
			_, _ = io.WriteString(w, `{"key":"TP-1"}`)
		case "/jira/rest/api/2/issue/TP-2":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}, nil)

	ok, err := c.Exists(context.Background(), "TP-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), "TP-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Exists(context.Background(), "TP-3")
	require.Error(t, err)
}

func TestClient_Update(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, nil)

	require.NoError(t, c.Update(context.Background(), "TP-5", "New title", "Given a\nThen b"))

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/jira/rest/api/2/issue/TP-5", reqs[0].Path)
	fields := reqs[0].Body["fields"].(map[string]any)
	assert.Equal(t, "New title", fields["summary"])
	assert.Equal(t, "Given a\nThen b", fields["customfield_10100"])
}

func zephyrHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/jira/rest/zapi/latest/zql/executeSearch":
			assert.Equal(t, `issue = "TP-1" AND fixVersion = "1.2.0"`, r.URL.Query().Get("zqlQuery"))
			_, _ = io.WriteString(w, `{"executions":[
				{"id":11,"cycleName":"Regression 1"},
				{"id":12,"cycleName":"Smoke"},
				{"id":13,"cycleName":"Regression 2"}]}`)
		case r.Method == http.MethodPut:
			_, _ = io.WriteString(w, `{}`)
		case r.URL.Path == "/jira/rest/zapi/latest/attachment":
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestClient_UpdateStatus(t *testing.T) {
	c, fake := newTestClient(t, zephyrHandler(t), nil)

	require.NoError(t, c.UpdateStatus(context.Background(), "TP-1", StatusFail, "broken, again", ""))

	reqs := fake.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/jira/rest/zapi/latest/execution/11/execute", reqs[1].Path)
	assert.Equal(t, "/jira/rest/zapi/latest/execution/13/execute", reqs[2].Path)
	assert.Equal(t, map[string]any{"status": "2", "comment": "broken, again"}, reqs[1].Body)
}

func TestClient_UpdateStatus_WithAttachment(t *testing.T) {
	c, fake := newTestClient(t, zephyrHandler(t), func(cfg *ClientConfig) {
		cfg.Cycle = regexp.MustCompile(`^Regression 1$`)
	})
	shot := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(shot, []byte("PNGDATA"), 0o644))

	require.NoError(t, c.UpdateStatus(context.Background(), "TP-1", StatusPass, "ok", shot))

	reqs := fake.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/jira/rest/zapi/latest/attachment", reqs[2].Path)
	assert.Contains(t, reqs[2].Query, "entityId=11")
	assert.Contains(t, reqs[2].Query, "entityType=EXECUTION")
	assert.Contains(t, reqs[2].Raw, "PNGDATA")
	assert.Contains(t, reqs[2].Raw, `filename="shot.png"`)
}

func TestClient_UpdateStatus_MissingAttachment(t *testing.T) {
	c, _ := newTestClient(t, zephyrHandler(t), nil)

	err := c.UpdateStatus(context.Background(), "TP-1", StatusPass, "ok", filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, IsRemote(err))
}

func TestClient_UpdateStatus_NoMatchingCycle(t *testing.T) {
	c, _ := newTestClient(t, zephyrHandler(t), func(cfg *ClientConfig) {
		cfg.Cycle = regexp.MustCompile(`^Nightly`)
	})

	err := c.UpdateStatus(context.Background(), "TP-1", StatusPass, "", "")
	var rejected *RemoteRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusNotFound, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "^Nightly")
}

func TestClient_UpdateStatus_QuotesZQLValues(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/jira/rest/zapi/latest/zql/executeSearch" {
			_, _ = io.WriteString(w, `{"executions":[{"id":11,"cycleName":"Regression 1"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}, func(cfg *ClientConfig) { cfg.ResultVersion = `1.2 "beta"` })

	require.NoError(t, c.UpdateStatus(context.Background(), "TP-1", StatusPass, "", ""))

	reqs := fake.Requests()
	require.NotEmpty(t, reqs)
	q, err := url.ParseQuery(reqs[0].Query)
	require.NoError(t, err)
	assert.Equal(t, `issue = "TP-1" AND fixVersion = "1.2 \"beta\""`, q.Get("zqlQuery"))
}

func TestZQLQuote(t *testing.T) {
	assert.Equal(t, "TP-1", zqlQuote("TP-1"))
	assert.Equal(t, `a\"b`, zqlQuote(`a"b`))
	assert.Equal(t, `a\\b`, zqlQuote(`a\b`))
	assert.Equal(t, `x\" OR issue = \"y`, zqlQuote(`x" OR issue = "y`))
}

func TestClient_UpdateStatus_UnknownStatus(t *testing.T) {
	c, fake := newTestClient(t, zephyrHandler(t), nil)

	err := c.UpdateStatus(context.Background(), "TP-1", Status("MAYBE"), "", "")
	require.ErrorIs(t, err, ErrUnknownStatus)
	assert.Empty(t, fake.Requests())
}

func TestStatus_Code(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusPass, 1},
		{StatusFail, 2},
		{StatusWIP, 3},
		{StatusBlocked, 4},
		{Status("-1"), -1},
		{Status("7"), 7},
	}
	for _, tt := range tests {
		got, err := tt.status.Code()
		require.NoError(t, err, tt.status)
		assert.Equal(t, tt.want, got, tt.status)
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusPass, ParseStatus(" pass "))
	assert.Equal(t, StatusWIP, ParseStatus("WIP"))
}
