package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/chriserin/ftsync/internal/config"
)

type issue struct {
	Summary     string
	Description string
}

type execUpdate struct {
	ExecutionID int
	Status      string
	Comment     string
}

// fakeJira is an in-memory Jira with one Zephyr execution per issue.
type fakeJira struct {
	mu          sync.Mutex
	issues      map[string]*issue
	order       []string
	next        int
	updates     []execUpdate
	attachments []string
	calls       int

	failOn map[string]bool // summaries whose create or update is rejected
	denied bool            // every request answers 401
}

var issueInQuery = regexp.MustCompile(`issue = "([^"]+)"`)

func newFakeJira(t testing.TB) (*fakeJira, *httptest.Server) {
	t.Helper()
	f := &fakeJira{issues: map[string]*issue{}, failOn: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"name": "bot"})
	})
	mux.HandleFunc("POST /rest/api/2/issue", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Fields map[string]any `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		summary, _ := req.Fields["summary"].(string)
		desc, _ := req.Fields["description"].(string)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failOn[summary] {
			http.Error(w, `{"errorMessages":["rejected"]}`, http.StatusBadRequest)
			return
		}
		f.next++
		key := fmt.Sprintf("TP-%d", f.next)
		f.issues[key] = &issue{Summary: summary, Description: desc}
		f.order = append(f.order, key)
		writeJSON(w, map[string]string{"id": strconv.Itoa(10000 + f.next), "key": key})
	})
	mux.HandleFunc("GET /rest/api/2/issue/{key}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.issues[r.PathValue("key")]; !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]string{"key": r.PathValue("key")})
	})
	mux.HandleFunc("PUT /rest/api/2/issue/{key}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Fields map[string]any `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		summary, _ := req.Fields["summary"].(string)

		f.mu.Lock()
		defer f.mu.Unlock()
		is, ok := f.issues[r.PathValue("key")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if f.failOn[summary] {
			http.Error(w, `{"errorMessages":["rejected"]}`, http.StatusBadRequest)
			return
		}
		is.Summary = summary
		is.Description, _ = req.Fields["description"].(string)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /rest/zapi/latest/zql/executeSearch", func(w http.ResponseWriter, r *http.Request) {
		m := issueInQuery.FindStringSubmatch(r.URL.Query().Get("zqlQuery"))
		f.mu.Lock()
		defer f.mu.Unlock()
		var execs []map[string]any
		if m != nil {
			for i, key := range f.order {
				if key == m[1] {
					execs = append(execs, map[string]any{"id": 100 + i, "cycleName": "Regression", "versionName": "1.0"})
				}
			}
		}
		writeJSON(w, map[string]any{"executions": execs})
	})
	mux.HandleFunc("PUT /rest/zapi/latest/execution/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.PathValue("id"))
		var req struct {
			Status  string `json:"status"`
			Comment string `json:"comment"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.updates = append(f.updates, execUpdate{ExecutionID: id, Status: req.Status, Comment: req.Comment})
		f.mu.Unlock()
		writeJSON(w, map[string]string{})
	})
	mux.HandleFunc("POST /rest/zapi/latest/attachment", func(w http.ResponseWriter, r *http.Request) {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		f.mu.Lock()
		f.attachments = append(f.attachments, hdr.Filename)
		f.mu.Unlock()
		writeJSON(w, map[string]string{})
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls++
		denied := f.denied
		f.mu.Unlock()
		if denied {
			_, _ = io.Copy(io.Discard, r.Body)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeJira) reject(summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[summary] = true
}

func (f *fakeJira) deny() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = true
}

func (f *fakeJira) description(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if is, ok := f.issues[key]; ok {
		return is.Description
	}
	return ""
}

func (f *fakeJira) attachmentNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attachments...)
}

// seed adds an issue with an execution, as if created by an earlier run.
func (f *fakeJira) seed(summary string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := fmt.Sprintf("TP-%d", f.next)
	f.issues[key] = &issue{Summary: summary}
	f.order = append(f.order, key)
	return key
}

func (f *fakeJira) issueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issues)
}

func (f *fakeJira) summary(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if is, ok := f.issues[key]; ok {
		return is.Summary
	}
	return ""
}

func (f *fakeJira) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeJira) executionUpdates() []execUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execUpdate(nil), f.updates...)
}

// testConfig points at srv and keeps the journal in dir.
func testConfig(srv *httptest.Server, dir string) *config.Config {
	cfg := config.Default()
	cfg.Jira.URL = srv.URL
	cfg.Jira.Username = "bot"
	cfg.Jira.Password = "secret"
	cfg.Jira.Project = "TP"
	cfg.Zephyr.ResultVersion = "1.0"
	cfg.Zephyr.Cycle = "^Regression"
	cfg.Journal = filepath.Join(dir, ".ftsync", "journal.db")
	return cfg
}
