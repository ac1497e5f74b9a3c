package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chriserin/ftsync/internal/tags"
)

const DefaultPath = "ftsync.yaml"

type Config struct {
	Jira    JiraConfig    `yaml:"jira"`
	Zephyr  ZephyrConfig  `yaml:"zephyr"`
	Tags    TagsConfig    `yaml:"tags"`
	Sync    SyncConfig    `yaml:"sync"`
	Journal string        `yaml:"journal"`
	Timeout time.Duration `yaml:"timeout"`
}

type JiraConfig struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Token     string `yaml:"token"`
	Project   string `yaml:"project"`
	IssueType string `yaml:"issue_type"`
	BDDField  string `yaml:"bdd_field"`
}

type ZephyrConfig struct {
	ResultVersion string `yaml:"result_version"`
	Cycle         string `yaml:"cycle"`
}

type TagsConfig struct {
	LinkPrefix string `yaml:"link_prefix"`
	OptOut     string `yaml:"opt_out"`
}

type SyncConfig struct {
	Workers int `yaml:"workers"`
}

// Mode selects which settings Validate requires.
type Mode int

const (
	ModeSync Mode = iota
	ModeUpdate
)

// ConfigurationError lists every missing or invalid setting. It is fatal and is
// raised before any file or remote work starts.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.Join(e.Problems, "; ")
}

func Default() *Config {
	codec := tags.Default()
	return &Config{
		Jira:    JiraConfig{IssueType: "Test"},
		Tags:    TagsConfig{LinkPrefix: codec.LinkPrefix, OptOut: codec.OptOut},
		Sync:    SyncConfig{Workers: 1},
		Journal: ".ftsync/journal.db",
		Timeout: 30 * time.Second,
	}
}

// Load reads the YAML file at path when it exists, then applies FTSYNC_*
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("parsing %s: %v", path, err)}}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	setString(&c.Jira.URL, "FTSYNC_URL")
	setString(&c.Jira.Username, "FTSYNC_USERNAME")
	setString(&c.Jira.Password, "FTSYNC_PASSWORD")
	setString(&c.Jira.Token, "FTSYNC_TOKEN")
	setString(&c.Jira.Project, "FTSYNC_PROJECT")
	setString(&c.Jira.BDDField, "FTSYNC_BDD_FIELD")
	setString(&c.Zephyr.ResultVersion, "FTSYNC_RESULT_VERSION")
	setString(&c.Zephyr.Cycle, "FTSYNC_CYCLE")
	setString(&c.Journal, "FTSYNC_JOURNAL")

	var problems []string
	if v := os.Getenv("FTSYNC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("FTSYNC_WORKERS: %q is not a number", v))
		} else {
			c.Sync.Workers = n
		}
	}
	if v := os.Getenv("FTSYNC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("FTSYNC_TIMEOUT: %q is not a duration", v))
		} else {
			c.Timeout = d
		}
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the settings needed by mode. The connection settings, result
// version and cycle included, are required by every mode; sync also needs the
// project, tag names and a worker count.
func (c *Config) Validate(mode Mode) error {
	var problems []string
	missing := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, key+" is required")
		}
	}

	missing("jira.url", c.Jira.URL)
	if c.Jira.Token == "" {
		missing("jira.username", c.Jira.Username)
		missing("jira.password", c.Jira.Password)
	}
	missing("zephyr.result_version", c.Zephyr.ResultVersion)
	missing("zephyr.cycle", c.Zephyr.Cycle)
	if c.Zephyr.Cycle != "" {
		if _, err := regexp.Compile(c.Zephyr.Cycle); err != nil {
			problems = append(problems, fmt.Sprintf("zephyr.cycle: %v", err))
		}
	}

	switch mode {
	case ModeSync:
		missing("jira.project", c.Jira.Project)
		missing("tags.link_prefix", c.Tags.LinkPrefix)
		missing("tags.opt_out", c.Tags.OptOut)
		if c.Sync.Workers < 1 {
			problems = append(problems, "sync.workers must be at least 1")
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// CycleRegexp compiles the cycle selector. Call Validate first.
func (c *Config) CycleRegexp() *regexp.Regexp {
	if c.Zephyr.Cycle == "" {
		return nil
	}
	return regexp.MustCompile(c.Zephyr.Cycle)
}

func (c *Config) Codec() tags.Codec {
	return tags.Codec{LinkPrefix: c.Tags.LinkPrefix, OptOut: c.Tags.OptOut}
}

// Template is written by `ftsync init`.
const Template = `# ftsync configuration. FTSYNC_* environment variables and flags override these values.
jira:
  url: https://jira.example.com
  username: ""
  password: ""   # or set FTSYNC_PASSWORD
  token: ""      # bearer token, used instead of username/password when set
  project: ""
  issue_type: Test
  bdd_field: ""  # custom field id holding the scenario steps, e.g. customfield_10100
zephyr:
  result_version: ""
  cycle: ".*"
tags:
  link_prefix: "@TestCaseId:"
  opt_out: "@NoSync"
sync:
  workers: 1
journal: .ftsync/journal.db
timeout: 30s
`
