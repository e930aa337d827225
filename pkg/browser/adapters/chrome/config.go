package chrome

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the Chrome adapter launches and drives the browser.
type Config struct {
	// ExecPath overrides the Chrome binary; empty means chromedp's lookup.
	ExecPath         string
	NavigateTimeout  time.Duration
	OperationTimeout time.Duration
	// Flags are passed to Chrome as extra command line switches.
	Flags map[string]any
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		NavigateTimeout:  30 * time.Second,
		OperationTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ExecPath) != "" {
		defaults.ExecPath = c.ExecPath
	}
	if c.NavigateTimeout != 0 {
		defaults.NavigateTimeout = c.NavigateTimeout
	}
	if c.OperationTimeout != 0 {
		defaults.OperationTimeout = c.OperationTimeout
	}
	if len(c.Flags) > 0 {
		defaults.Flags = c.Flags
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if c.NavigateTimeout <= 0 {
		return errors.New("navigate_timeout must be greater than zero")
	}
	if c.OperationTimeout <= 0 {
		return errors.New("operation_timeout must be greater than zero")
	}
	for name := range c.Flags {
		if strings.TrimSpace(name) == "" || strings.HasPrefix(name, "-") {
			return errors.New("chrome flags must be given without leading dashes")
		}
	}
	return nil
}
