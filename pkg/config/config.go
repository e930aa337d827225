package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/errors"
)

// Config is the complete webprobe configuration.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Title   string        `yaml:"title"`
	Browser BrowserConfig `yaml:"browser"`
	Report  ReportConfig  `yaml:"report"`
	NATS    NATSConfig    `yaml:"nats"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Checks  []CheckConfig `yaml:"checks"`
}

// BrowserConfig controls the Chrome session used for live runs.
type BrowserConfig struct {
	ExecPath         string           `yaml:"exec_path"`
	Headless         bool             `yaml:"headless"`
	PreciseMemory    bool             `yaml:"precise_memory"`
	UserAgent        string           `yaml:"user_agent"`
	Viewport         browser.Viewport `yaml:"viewport"`
	NavigateTimeout  time.Duration    `yaml:"navigate_timeout"`
	OperationTimeout time.Duration    `yaml:"operation_timeout"`
	EventBuffer      int              `yaml:"event_buffer"`
	Flags            map[string]any   `yaml:"flags"`
}

// SessionConfig converts the browser section to a session config.
func (b BrowserConfig) SessionConfig() browser.SessionConfig {
	return browser.SessionConfig{
		Viewport:      b.Viewport,
		UserAgent:     b.UserAgent,
		Headless:      b.Headless,
		PreciseMemory: b.PreciseMemory,
		EventBuffer:   b.EventBuffer,
	}
}

// ReportConfig controls the rendered artifact.
type ReportConfig struct {
	Path            string `yaml:"path"`
	MetricsPath     string `yaml:"metrics_path"`
	APIPathFragment string `yaml:"api_path_fragment"`
	ErrorLimit      int    `yaml:"error_limit"`
	WarningLimit    int    `yaml:"warning_limit"`
	APICallLimit    int    `yaml:"api_call_limit"`
}

// NATSConfig points at a subject carrying JSON browser events.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	Name     string `yaml:"name"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Path receives JSON logs; empty means stderr.
	Path string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path receives exported spans; empty means stdout.
	Path string `yaml:"path"`
}

const (
	defaultUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	defaultBaseURL     = "http://localhost:3000"
	defaultReportPath  = "webprobe-report.txt"
	defaultNATSSubject = "webprobe.events"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	session := browser.DefaultSessionConfig()
	return &Config{
		BaseURL: defaultBaseURL,
		Title:   "DEVELOPER TESTING REPORT",
		Browser: BrowserConfig{
			Headless:         session.Headless,
			PreciseMemory:    session.PreciseMemory,
			UserAgent:        defaultUserAgent,
			Viewport:         session.Viewport,
			NavigateTimeout:  30 * time.Second,
			OperationTimeout: 10 * time.Second,
			EventBuffer:      session.EventBuffer,
			Flags: map[string]any{
				"disable-blink-features": "AutomationControlled",
			},
		},
		Report: ReportConfig{
			Path:            defaultReportPath,
			APIPathFragment: "/api/",
			ErrorLimit:      10,
			WarningLimit:    10,
			APICallLimit:    20,
		},
		NATS: NATSConfig{
			Subject: defaultNATSSubject,
			Name:    "webprobe",
		},
		Logging: LoggingConfig{Level: "info"},
		Checks:  DefaultChecks(),
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.webprobe/config.yaml, ./webprobe.yaml, then WEBPROBE_* env.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".webprobe", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading user config").
				WithContext("path", userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", "webprobe.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading project config").
			WithContext("path", projectConfigPath)
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading config").
			WithContext("path", path)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	cfg.Report.Path = expandHomeDir(cfg.Report.Path)
	cfg.Report.MetricsPath = expandHomeDir(cfg.Report.MetricsPath)
	cfg.Logging.Path = expandHomeDir(cfg.Logging.Path)
	cfg.Tracing.Path = expandHomeDir(cfg.Tracing.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WEBPROBE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("WEBPROBE_REPORT_PATH"); v != "" {
		cfg.Report.Path = v
	}
	if v := os.Getenv("WEBPROBE_METRICS_PATH"); v != "" {
		cfg.Report.MetricsPath = v
	}
	if v := os.Getenv("WEBPROBE_API_PATH_FRAGMENT"); v != "" {
		cfg.Report.APIPathFragment = v
	}
	if v := os.Getenv("WEBPROBE_CHROME_PATH"); v != "" {
		cfg.Browser.ExecPath = v
	}
	if val, ok := envBool("WEBPROBE_HEADLESS"); ok {
		cfg.Browser.Headless = val
	}
	if v := os.Getenv("WEBPROBE_NAVIGATE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.NavigateTimeout = d
		}
	}
	if v := os.Getenv("WEBPROBE_EVENT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Browser.EventBuffer = n
		}
	}
	if v := os.Getenv("WEBPROBE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("WEBPROBE_NATS_SUBJECT"); v != "" {
		cfg.NATS.Subject = v
	}
	if v := os.Getenv("WEBPROBE_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := os.Getenv("WEBPROBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if val, ok := envBool("WEBPROBE_TRACE"); ok {
		cfg.Tracing.Enabled = val
	}
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Validate checks whether the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Newf(errors.ErrCodeConfigInvalid, format, args...)
	}

	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("base_url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return invalid("browser.viewport must be positive, got %dx%d", c.Browser.Viewport.Width, c.Browser.Viewport.Height)
	}
	if c.Browser.NavigateTimeout <= 0 || c.Browser.OperationTimeout <= 0 {
		return invalid("browser timeouts must be greater than zero")
	}
	if c.Browser.EventBuffer <= 0 {
		return invalid("browser.event_buffer must be greater than zero")
	}
	if strings.TrimSpace(c.Report.Path) == "" {
		return invalid("report.path is required")
	}
	if c.Report.APIPathFragment == "" {
		return invalid("report.api_path_fragment is required")
	}
	if c.Report.ErrorLimit < 0 || c.Report.WarningLimit < 0 || c.Report.APICallLimit < 0 {
		return invalid("report limits must be zero or positive")
	}
	if c.NATS.URL != "" && strings.TrimSpace(c.NATS.Subject) == "" {
		return invalid("nats.subject is required when nats.url is set")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	for i, check := range c.Checks {
		if err := check.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("checks[%d]", i))
		}
	}
	return nil
}

// ResolveURL joins a check path onto the base URL. Absolute URLs pass through.
func (c *Config) ResolveURL(path string) string {
	return JoinURL(c.BaseURL, path)
}

// JoinURL joins path onto base. Absolute URLs pass through unchanged.
func JoinURL(base, path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if path == "" || path == "/" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
