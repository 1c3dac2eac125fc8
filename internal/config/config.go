package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by the harness.
const EnvPrefix = "RODHARNESS_"

// Environment variables.
const (
	EnvConfig              = EnvPrefix + "CONFIG"
	EnvNoExit              = EnvPrefix + "NO_EXIT"
	EnvWorkerID            = EnvPrefix + "WORKER_ID"
	EnvMaxCalls            = EnvPrefix + "MAX_CALLS"
	EnvLogTypes            = EnvPrefix + "LOGTYPES"
	EnvLogDir              = EnvPrefix + "LOGDIR"
	EnvStackTraces         = EnvPrefix + "STACKTRACES"
	EnvIgnoreChromeVersion = EnvPrefix + "IGNORE_CHROME_VERSION"
	EnvWinSize             = EnvPrefix + "WINSIZE"
	EnvArgs                = EnvPrefix + "ARGS"
	EnvHeadless            = EnvPrefix + "HEADLESS"
	EnvNoControlBanner     = EnvPrefix + "NO_CONTROL_BANNER"
	EnvSkipCleanup         = EnvPrefix + "SKIP_CLEANUP"
	EnvControlURL          = EnvPrefix + "CONTROL_URL"
	EnvLogLevel            = EnvPrefix + "LOG_LEVEL"
)

// Log channels a session can be asked to collect.
const (
	LogBrowser     = "browser"
	LogClient      = "client"
	LogDriver      = "driver"
	LogPerformance = "performance"
	LogServer      = "server"
)

// ValidLogTypes lists every accepted log channel.
var ValidLogTypes = []string{LogBrowser, LogClient, LogDriver, LogPerformance, LogServer}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all harness configuration.
type Config struct {
	Harness HarnessConfig `yaml:"harness"`
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Logging LoggingConfig `yaml:"logging"`
}

// HarnessConfig controls the run lifecycle.
type HarnessConfig struct {
	NoExit      bool   `yaml:"no_exit"`
	WorkerID    string `yaml:"worker_id"` // non-empty when running as one of several workers
	SkipCleanup bool   `yaml:"skip_cleanup"`
	StackTraces bool   `yaml:"stack_traces"`
	TriageDelay string `yaml:"triage_delay"`
}

// BrowserConfig configures how the session's Chrome is started.
type BrowserConfig struct {
	Headless            bool     `yaml:"headless"`
	NoControlBanner     bool     `yaml:"no_control_banner"`
	IgnoreChromeVersion bool     `yaml:"ignore_chrome_version"`
	WindowSize          string   `yaml:"window_size"` // WIDTHxHEIGHT
	Args                []string `yaml:"args"`
	ControlURL          string   `yaml:"control_url"`
	MaxCalls            int      `yaml:"max_calls"` // 0 disables serialization
	Timeout             string   `yaml:"timeout"`
}

// CaptureConfig configures diagnostic capture.
type CaptureConfig struct {
	LogDir   string   `yaml:"log_dir"` // empty disables capture
	LogTypes []string `yaml:"log_types"`
}

// LoggingConfig configures the harness's own logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Harness: HarnessConfig{
			TriageDelay: "50ms",
		},
		Browser: BrowserConfig{
			Timeout: "30s",
		},
		Capture: CaptureConfig{
			LogTypes: []string{LogBrowser, LogDriver},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the file named by RODHARNESS_CONFIG, if any, with environment overrides.
func FromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfig))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Only variables that are set
// take effect.
func (c *Config) applyEnvOverrides() error {
	if v, ok := lookup(EnvNoExit); ok {
		c.Harness.NoExit = ParseBool(v)
	}
	if v, ok := lookup(EnvWorkerID); ok {
		c.Harness.WorkerID = v
	}
	if v, ok := lookup(EnvSkipCleanup); ok {
		c.Harness.SkipCleanup = ParseBool(v)
	}
	if v, ok := lookup(EnvStackTraces); ok {
		c.Harness.StackTraces = ParseBool(v)
	}

	if v, ok := lookup(EnvHeadless); ok {
		c.Browser.Headless = ParseBool(v)
	}
	if v, ok := lookup(EnvNoControlBanner); ok {
		c.Browser.NoControlBanner = ParseBool(v)
	}
	if v, ok := lookup(EnvIgnoreChromeVersion); ok {
		c.Browser.IgnoreChromeVersion = ParseBool(v)
	}
	if v, ok := lookup(EnvWinSize); ok {
		c.Browser.WindowSize = v
	}
	if v, ok := lookup(EnvArgs); ok {
		c.Browser.Args = strings.Fields(v)
	}
	if v, ok := lookup(EnvControlURL); ok {
		c.Browser.ControlURL = v
	}
	if v, ok := lookup(EnvMaxCalls); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalid, EnvMaxCalls, v)
		}
		c.Browser.MaxCalls = n
	}

	if v, ok := lookup(EnvLogDir); ok {
		c.Capture.LogDir = v
	}
	if v, ok := lookup(EnvLogTypes); ok {
		c.Capture.LogTypes = splitList(v)
	}

	if v, ok := lookup(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	return nil
}

// lookup returns a variable's value if it is set to something non-empty.
func lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// splitList parses a comma-separated, case-insensitive list.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseBool interprets an environment flag. Empty, "0", "false", "no" and "off" are false
// (case-insensitive); anything else is true.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, t := range c.Capture.LogTypes {
		if !isValidLogType(t) {
			return fmt.Errorf("%w: LogType %s invalid (valid: %v)", ErrInvalid, t, ValidLogTypes)
		}
	}
	if c.Browser.MaxCalls < 0 {
		return fmt.Errorf("%w: max_calls must not be negative", ErrInvalid)
	}
	if _, _, err := c.WindowSize(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Harness.TriageDelay); c.Harness.TriageDelay != "" && err != nil {
		return fmt.Errorf("%w: triage_delay: %v", ErrInvalid, err)
	}
	if c.Browser.Timeout != "" {
		d, err := time.ParseDuration(c.Browser.Timeout)
		if err != nil {
			return fmt.Errorf("%w: browser timeout: %v", ErrInvalid, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: browser timeout must be positive, got %s", ErrInvalid, c.Browser.Timeout)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.Logging.Level)
	}
	return nil
}

func isValidLogType(t string) bool {
	for _, v := range ValidLogTypes {
		if t == v {
			return true
		}
	}
	return false
}

// WindowSize parses Browser.WindowSize. It returns zeros when no size is configured.
func (c *Config) WindowSize() (width, height int, err error) {
	s := strings.TrimSpace(c.Browser.WindowSize)
	if s == "" {
		return 0, 0, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if ok {
		width, err = strconv.Atoi(w)
		if err == nil {
			height, err = strconv.Atoi(h)
		}
	}
	if !ok || err != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: window size %q, want WIDTHxHEIGHT", ErrInvalid, c.Browser.WindowSize)
	}
	return width, height, nil
}

// IsMultiWorker reports whether this process is one of several parallel workers.
func (c *Config) IsMultiWorker() bool {
	return c.Harness.WorkerID != ""
}

// GetTriageDelay returns the pause before the triage banner is printed.
func (c *Config) GetTriageDelay() time.Duration {
	d, err := time.ParseDuration(c.Harness.TriageDelay)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// GetBrowserTimeout returns the default timeout for browser operations.
func (c *Config) GetBrowserTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
