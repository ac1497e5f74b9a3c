package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const maxErrorBody = 512

type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Token    string

	Project   string
	IssueType string
	// BDDField is the custom field holding the scenario body. When empty the body
	// is written to the description below the generated marker.
	BDDField string

	ResultVersion string
	Cycle         *regexp.Regexp

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to Jira for test cases and to Zephyr (ZAPI) for executions.
// It is safe for concurrent use.
type Client struct {
	cfg    ClientConfig
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

var _ Gateway = (*Client)(nil)

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
	}
	if cfg.IssueType == "" {
		cfg.IssueType = "Test"
	}

	// a caller's client (or http.DefaultClient) is copied, never mutated
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		cp := *cfg.HTTPClient
		hc = &cp
	}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, ts)
	}
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{cfg: cfg, base: base, http: hc, logger: logger}, nil
}

// Ping checks that the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/rest/api/2/myself", nil, nil, nil)
}

func (c *Client) Create(ctx context.Context, tc NewTestCase) (string, error) {
	fields := map[string]any{
		"project":   map[string]string{"key": c.cfg.Project},
		"summary":   tc.Title,
		"issuetype": map[string]string{"name": c.cfg.IssueType},
	}
	c.setBody(fields, tc.Description, tc.Body)

	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := c.do(ctx, "create test case", http.MethodPost, "/rest/api/2/issue", nil, map[string]any{"fields": fields}, &created); err != nil {
		return "", err
	}
	if created.Key == "" {
		return "", &RemoteRejectedError{Op: "create test case", StatusCode: http.StatusBadGateway, Body: "response carried no issue key"}
	}
	c.logger.Debug("created test case", zap.String("test_case", created.Key), zap.String("title", tc.Title))
	return created.Key, nil
}

func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	q := url.Values{"fields": {"summary"}}
	err := c.do(ctx, "get test case", http.MethodGet, "/rest/api/2/issue/"+id, q, nil, nil)
	if err == nil {
		return true, nil
	}
	var rejected *RemoteRejectedError
	if errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (c *Client) Update(ctx context.Context, id, title, body string) error {
	fields := map[string]any{"summary": title}
	c.setBody(fields, GeneratedMarker, body)
	return c.do(ctx, "update test case", http.MethodPut, "/rest/api/2/issue/"+id, nil, map[string]any{"fields": fields}, nil)
}

func (c *Client) setBody(fields map[string]any, description, body string) {
	if c.cfg.BDDField != "" {
		fields["description"] = description
		fields[c.cfg.BDDField] = body
		return
	}
	if description == "" {
		fields["description"] = body
		return
	}
	fields["description"] = description + "\n\n" + body
}

type execution struct {
	ID          int    `json:"id"`
	CycleName   string `json:"cycleName"`
	VersionName string `json:"versionName"`
}

// UpdateStatus sets the status of every execution of id in the configured result
// version whose cycle matches the cycle pattern, then uploads the attachment to each.
func (c *Client) UpdateStatus(ctx context.Context, id string, status Status, comment, attachment string) error {
	code, err := status.Code()
	if err != nil {
		return err
	}

	execs, err := c.findExecutions(ctx, id)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		return &RemoteRejectedError{
			Op:         "update execution",
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("no execution of %s in version %q matches cycle %s", id, c.cfg.ResultVersion, c.cyclePattern()),
		}
	}

	for _, e := range execs {
		payload := map[string]string{"status": strconv.Itoa(code), "comment": comment}
		path := fmt.Sprintf("/rest/zapi/latest/execution/%d/execute", e.ID)
		if err := c.do(ctx, "update execution", http.MethodPut, path, nil, payload, nil); err != nil {
			return err
		}
		if attachment != "" {
			if err := c.attach(ctx, e.ID, attachment); err != nil {
				return err
			}
		}
		c.logger.Debug("updated execution",
			zap.String("test_case", id),
			zap.Int("execution", e.ID),
			zap.String("cycle", e.CycleName),
			zap.String("status", string(status)))
	}
	return nil
}

func (c *Client) cyclePattern() string {
	if c.cfg.Cycle == nil {
		return "(any)"
	}
	return c.cfg.Cycle.String()
}

var zqlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// zqlQuote escapes a value for use inside a double-quoted ZQL string.
func zqlQuote(v string) string {
	return zqlEscaper.Replace(v)
}

func (c *Client) findExecutions(ctx context.Context, id string) ([]execution, error) {
	zql := fmt.Sprintf(`issue = "%s"`, zqlQuote(id))
	if c.cfg.ResultVersion != "" {
		zql += fmt.Sprintf(` AND fixVersion = "%s"`, zqlQuote(c.cfg.ResultVersion))
	}
	q := url.Values{"zqlQuery": {zql}, "maxRecords": {"200"}}

	var res struct {
		Executions []execution `json:"executions"`
	}
	if err := c.do(ctx, "search executions", http.MethodGet, "/rest/zapi/latest/zql/executeSearch", q, nil, &res); err != nil {
		return nil, err
	}

	var matched []execution
	for _, e := range res.Executions {
		if c.cfg.Cycle == nil || c.cfg.Cycle.MatchString(e.CycleName) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (c *Client) attach(ctx context.Context, executionID int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening attachment: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("building attachment upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("building attachment upload: %w", err)
	}

	q := url.Values{"entityId": {strconv.Itoa(executionID)}, "entityType": {"EXECUTION"}}
	req, err := c.newRequest(ctx, http.MethodPost, "/rest/zapi/latest/attachment", q, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")
	return c.send(req, "upload attachment", nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token == "" && c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, op, out)
}

func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteRejectedError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
