// Package config holds the settings of a release pipeline invocation.
//
// Values are layered: built-in defaults, then an optional YAML or TOML file
// (by default $XDG_CONFIG_HOME/relpipe/config.yaml), then the environment
// the CI scheduler exports to every job. Command-line flags are applied by
// the caller on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"relpipe/internal/logging"
)

// DefaultResumeJob is the pipeline job that re-enters the release flow.
const DefaultResumeJob = "Snapchat/camera-kit-distribution@master//camkit_distribution_release_pipeline"

// Service locates one of the remote collaborator APIs.
type Service struct {
	APIURL string `yaml:"api-url,omitempty" toml:"api-url,omitempty"`
	// BrowseHost renders human links (tracker only).
	BrowseHost string `yaml:"browse-host,omitempty" toml:"browse-host,omitempty"`
	// Token is sent as a bearer token. When empty, a short-lived token is
	// issued for TokenAudience on every request.
	Token string `yaml:"token,omitempty" toml:"token,omitempty"`
}

// Config is the explicit configuration of one process invocation.
type Config struct {
	// Pipeline and RunID name the CI pipeline and its run; together they
	// locate the checkpoint.
	Pipeline    string `yaml:"pipeline,omitempty" toml:"pipeline,omitempty"`
	RunID       string `yaml:"run-id,omitempty" toml:"run-id,omitempty"`
	StateBucket string `yaml:"state-bucket" toml:"state-bucket"`
	StateFile   string `yaml:"state-file" toml:"state-file"`
	// StateURI overrides the checkpoint location, e.g. a sqlite:// or
	// file:// URI for local runs.
	StateURI string `yaml:"state-uri,omitempty" toml:"state-uri,omitempty"`

	TestMode    bool   `yaml:"test-mode" toml:"test-mode"`
	InputsDir   string `yaml:"inputs-dir,omitempty" toml:"inputs-dir,omitempty"`
	OutputsDir  string `yaml:"outputs-dir,omitempty" toml:"outputs-dir,omitempty"`
	BuildNumber string `yaml:"build-number,omitempty" toml:"build-number,omitempty"`
	PipelineURL string `yaml:"pipeline-url,omitempty" toml:"pipeline-url,omitempty"`
	PipelineID  string `yaml:"pipeline-id,omitempty" toml:"pipeline-id,omitempty"`

	ReleaseScope string `yaml:"release-scope,omitempty" toml:"release-scope,omitempty"`
	PatchVersion string `yaml:"patch-version,omitempty" toml:"patch-version,omitempty"`

	// Scheduler is the CI command-line client binary.
	Scheduler string `yaml:"scheduler" toml:"scheduler"`
	ResumeJob string `yaml:"resume-job" toml:"resume-job"`
	// TriggerLabel is a launcher job that starts pipelines on the caller's
	// behalf. Empty triggers them directly.
	TriggerLabel string `yaml:"trigger-label,omitempty" toml:"trigger-label,omitempty"`

	PollInterval time.Duration `yaml:"poll-interval" toml:"poll-interval"`
	RetryCap     int           `yaml:"retry-cap" toml:"retry-cap"`

	Tracker       Service  `yaml:"tracker" toml:"tracker"`
	Chat          Service  `yaml:"chat" toml:"chat"`
	TokenAudience string   `yaml:"token-audience" toml:"token-audience"`
	Approvers     []string `yaml:"approvers,omitempty" toml:"approvers,omitempty"`

	LogLevel          string `yaml:"log-level" toml:"log-level"`
	LogFormat         string `yaml:"log-format" toml:"log-format"`
	TelemetryEndpoint string `yaml:"telemetry-endpoint,omitempty" toml:"telemetry-endpoint,omitempty"`
}

// Default returns the production settings before any file or environment
// is applied. Test mode is on unless something turns it off.
func Default() Config {
	return Config{
		StateBucket:  "snapengine-builder-artifacts",
		StateFile:    "release_state.json",
		TestMode:     true,
		Scheduler:    "snapci",
		ResumeJob:    DefaultResumeJob,
		PollInterval: 60 * time.Second,
		RetryCap:     3,
		Tracker: Service{
			APIURL:     "https://to-jira-dot-sc-ats.appspot.com/rest/api/2",
			BrowseHost: "jira.sc-corp.net",
		},
		Chat: Service{
			APIURL: "https://to-slack-dot-sc-ats.appspot.com/api",
		},
		TokenAudience: "sc-ats.appspot.com",
		LogLevel:      logging.LevelInfo,
		LogFormat:     logging.FormatText,
	}
}

// Path returns the default config file location. It respects
// XDG_CONFIG_HOME, falling back to ~/.config/relpipe/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "relpipe", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "relpipe", "config.yaml")
}

// Load builds the configuration from defaults, the file at path and the
// environment. An empty path means Path(); a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = Path()
	}
	if err := cfg.mergeFile(path); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// applyEnv overlays the variables the CI scheduler exports. Lookup is
// os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"CI_PIPELINE_NAME", &c.Pipeline},
		{"CODE_PIPELINE_ID", &c.RunID},
		{"CI_INPUTS", &c.InputsDir},
		{"CI_OUTPUTS", &c.OutputsDir},
		{"BUILD_NUMBER", &c.BuildNumber},
		{"CI_PIPELINE_URL", &c.PipelineURL},
		{"CI_PIPELINE_ID", &c.PipelineID},
		{"release_scope", &c.ReleaseScope},
		{"patch_version_to_release", &c.PatchVersion},
		{"RELPIPE_TRACKER_TOKEN", &c.Tracker.Token},
		{"RELPIPE_CHAT_TOKEN", &c.Chat.Token},
		{"RELPIPE_STATE_URI", &c.StateURI},
		{"RELPIPE_TRIGGER_LABEL", &c.TriggerLabel},
		{"RELPIPE_TELEMETRY_ENDPOINT", &c.TelemetryEndpoint},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	if v, ok := lookup("test_mode"); ok && v != "" {
		c.TestMode = ParseBool(v)
	}
	if v, ok := lookup("RELPIPE_POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse RELPIPE_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v, ok := lookup("RELPIPE_RETRY_CAP"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RELPIPE_RETRY_CAP: %w", err)
		}
		c.RetryCap = n
	}
	return nil
}

// ParseBool reads the flag spellings the CI scheduler passes around.
// Anything else is false.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// StateSaveURI is where committed checkpoints are written. It is empty when
// the run is not identified, which keeps the state process-local.
func (c Config) StateSaveURI() string {
	if c.StateURI != "" {
		return c.StateURI
	}
	if c.Pipeline == "" || c.RunID == "" {
		return ""
	}
	return fmt.Sprintf("gs://%s/%s/%s/%s", c.StateBucket, c.Pipeline, c.RunID, c.StateFile)
}

// Validate rejects settings no invocation can run with.
func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.RetryCap < 1 {
		errs = append(errs, fmt.Errorf("retry cap must be at least 1, got %d", c.RetryCap))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if c.StateFile == "" {
		errs = append(errs, errors.New("state file name is required"))
	}
	if c.Scheduler == "" {
		errs = append(errs, errors.New("scheduler binary is required"))
	}
	return errors.Join(errs...)
}

// Save writes the config as YAML, creating directories as needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
