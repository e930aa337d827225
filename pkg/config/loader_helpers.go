package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values leave the base alone
// except for booleans and lists that the raw document sets explicitly.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.Title != "" {
		base.Title = override.Title
	}

	if override.Browser.ExecPath != "" {
		base.Browser.ExecPath = override.Browser.ExecPath
	}
	if boolFieldSet(raw, "browser", "headless") {
		base.Browser.Headless = override.Browser.Headless
	}
	if boolFieldSet(raw, "browser", "precise_memory") {
		base.Browser.PreciseMemory = override.Browser.PreciseMemory
	}
	if override.Browser.UserAgent != "" {
		base.Browser.UserAgent = override.Browser.UserAgent
	}
	if override.Browser.Viewport.Width != 0 {
		base.Browser.Viewport.Width = override.Browser.Viewport.Width
	}
	if override.Browser.Viewport.Height != 0 {
		base.Browser.Viewport.Height = override.Browser.Viewport.Height
	}
	if override.Browser.Viewport.DeviceScaleFactor != 0 {
		base.Browser.Viewport.DeviceScaleFactor = override.Browser.Viewport.DeviceScaleFactor
	}
	if override.Browser.NavigateTimeout != 0 {
		base.Browser.NavigateTimeout = override.Browser.NavigateTimeout
	}
	if override.Browser.OperationTimeout != 0 {
		base.Browser.OperationTimeout = override.Browser.OperationTimeout
	}
	if override.Browser.EventBuffer != 0 {
		base.Browser.EventBuffer = override.Browser.EventBuffer
	}
	if boolFieldSet(raw, "browser", "flags") {
		base.Browser.Flags = make(map[string]any, len(override.Browser.Flags))
		for k, v := range override.Browser.Flags {
			base.Browser.Flags[k] = v
		}
	}

	if override.Report.Path != "" {
		base.Report.Path = override.Report.Path
	}
	if override.Report.MetricsPath != "" {
		base.Report.MetricsPath = override.Report.MetricsPath
	}
	if override.Report.APIPathFragment != "" {
		base.Report.APIPathFragment = override.Report.APIPathFragment
	}
	if boolFieldSet(raw, "report", "error_limit") {
		base.Report.ErrorLimit = override.Report.ErrorLimit
	}
	if boolFieldSet(raw, "report", "warning_limit") {
		base.Report.WarningLimit = override.Report.WarningLimit
	}
	if boolFieldSet(raw, "report", "api_call_limit") {
		base.Report.APICallLimit = override.Report.APICallLimit
	}

	if override.NATS.URL != "" {
		base.NATS.URL = override.NATS.URL
	}
	if override.NATS.Subject != "" {
		base.NATS.Subject = override.NATS.Subject
	}
	if override.NATS.Name != "" {
		base.NATS.Name = override.NATS.Name
	}
	if override.NATS.Token != "" {
		base.NATS.Token = override.NATS.Token
	}
	if override.NATS.Username != "" {
		base.NATS.Username = override.NATS.Username
	}
	if override.NATS.Password != "" {
		base.NATS.Password = override.NATS.Password
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Path != "" {
		base.Logging.Path = override.Logging.Path
	}

	if boolFieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if override.Tracing.Path != "" {
		base.Tracing.Path = override.Tracing.Path
	}

	// A checks list replaces the journey wholesale; an explicit empty list
	// disables every check.
	if boolFieldSet(raw, "checks") {
		base.Checks = append([]CheckConfig{}, override.Checks...)
	}
}

// boolFieldSet reports whether the dotted key path is present in raw. It is
// used for any field whose zero value is meaningful.
func boolFieldSet(raw map[string]any, path ...string) bool {
	if raw == nil || len(path) == 0 {
		return false
	}
	current := raw
	for i, key := range path {
		val, ok := current[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		next, ok := val.(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	return false
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
