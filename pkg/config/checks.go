package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/errors"
)

// CheckKind names a built-in check implementation.
type CheckKind string

const (
	CheckPageLoad          CheckKind = "page_load"
	CheckNavigation        CheckKind = "navigation"
	CheckCommandPalette    CheckKind = "command_palette"
	CheckFeatures          CheckKind = "features"
	CheckScrollPerformance CheckKind = "scroll_performance"
	CheckKeyboard          CheckKind = "keyboard"
	CheckCanvas            CheckKind = "canvas"
	CheckMemoryLeak        CheckKind = "memory_leak"
	CheckAPIIntegration    CheckKind = "api_integration"
)

// KnownCheckKinds lists every kind the harness can build, in journey order.
func KnownCheckKinds() []CheckKind {
	return []CheckKind{
		CheckPageLoad,
		CheckNavigation,
		CheckCommandPalette,
		CheckFeatures,
		CheckScrollPerformance,
		CheckKeyboard,
		CheckCanvas,
		CheckMemoryLeak,
		CheckAPIIntegration,
	}
}

func knownKind(kind CheckKind) bool {
	for _, k := range KnownCheckKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// DefaultShortcut opens the command palette when a check sets no shortcut.
const DefaultShortcut = "Meta+K"

// CheckConfig describes one scripted check. Which fields matter depends on Kind.
type CheckConfig struct {
	Kind CheckKind `yaml:"kind"`
	Name string    `yaml:"name"`
	// Path is navigated to before the check runs. Empty stays on the current page.
	Path string `yaml:"path"`
	// Settle is how long to wait after navigation, or after the opening
	// shortcut for command_palette, before measuring.
	Settle time.Duration `yaml:"settle"`
	// Interval is the pause between scripted key presses and scrolls.
	// Zero uses the kind's default.
	Interval time.Duration `yaml:"interval"`

	// command_palette
	Shortcut      string   `yaml:"shortcut"`
	Query         string   `yaml:"query"`
	InputSelector string   `yaml:"input_selector"`
	Selectors     []string `yaml:"selectors"`

	// navigation
	Pages []PageConfig `yaml:"pages"`

	// features
	Probes     []ProbeConfig `yaml:"probes"`
	MinMatches int           `yaml:"min_matches"`

	// memory_leak, which also toggles Shortcut
	Iterations  int     `yaml:"iterations"`
	ThresholdMB float64 `yaml:"threshold_mb"`
}

// PageConfig is one navigation target.
type PageConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// ProbeConfig looks for one feature on a page, either by selectors or by a
// script that evaluates to a boolean.
type ProbeConfig struct {
	Name      string   `yaml:"name"`
	Selectors []string `yaml:"selectors"`
	Script    string   `yaml:"script"`
	MinCount  int      `yaml:"min_count"`
	Required  bool     `yaml:"required"`
}

// DisplayName returns Name, or a name derived from the kind.
func (c CheckConfig) DisplayName() string {
	if strings.TrimSpace(c.Name) != "" {
		return c.Name
	}
	words := strings.Split(string(c.Kind), "_")
	for i, w := range words {
		if w == "api" {
			words[i] = "API"
			continue
		}
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// ShortcutKey splits Shortcut ("Meta+K") into a key and its modifiers. An
// empty Shortcut means DefaultShortcut.
func (c CheckConfig) ShortcutKey() (string, []browser.KeyModifier, error) {
	shortcut := c.Shortcut
	if strings.TrimSpace(shortcut) == "" {
		shortcut = DefaultShortcut
	}
	parts := strings.Split(shortcut, "+")
	key := strings.TrimSpace(parts[len(parts)-1])
	if key == "" {
		return "", nil, fmt.Errorf("shortcut %q has no key", shortcut)
	}
	var mods []browser.KeyModifier
	for _, p := range parts[:len(parts)-1] {
		mod, ok := browser.ParseKeyModifier(p)
		if !ok {
			return "", nil, fmt.Errorf("shortcut %q: unknown modifier %q", shortcut, p)
		}
		mods = append(mods, mod)
	}
	if len(key) == 1 {
		key = strings.ToLower(key)
	}
	return key, mods, nil
}

// Validate checks the fields required by the check's kind.
func (c CheckConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Newf(errors.ErrCodeCheckInvalid, format, args...).
			WithContext("kind", string(c.Kind))
	}
	if !knownKind(c.Kind) {
		return errors.Newf(errors.ErrCodeCheckUnknown, "unknown check kind %q", c.Kind)
	}
	if c.Settle < 0 {
		return invalid("settle must not be negative")
	}
	if c.Interval < 0 {
		return invalid("interval must not be negative")
	}

	switch c.Kind {
	case CheckNavigation:
		if len(c.Pages) == 0 {
			return invalid("navigation needs at least one page")
		}
		for i, p := range c.Pages {
			if strings.TrimSpace(p.Path) == "" {
				return invalid("pages[%d].path is required", i)
			}
		}
	case CheckCommandPalette:
		if _, _, err := c.ShortcutKey(); err != nil {
			return invalid("%v", err)
		}
		if len(c.Selectors) == 0 {
			return invalid("command_palette needs at least one selector")
		}
	case CheckFeatures:
		if len(c.Probes) == 0 {
			return invalid("features needs at least one probe")
		}
		for i, p := range c.Probes {
			if len(p.Selectors) == 0 && strings.TrimSpace(p.Script) == "" {
				return invalid("probes[%d] needs selectors or a script", i)
			}
		}
		if c.MinMatches < 0 || c.MinMatches > len(c.Probes) {
			return invalid("min_matches must be between 0 and %d", len(c.Probes))
		}
	case CheckScrollPerformance:
		if len(c.Selectors) == 0 {
			return invalid("scroll_performance needs an item selector")
		}
	case CheckMemoryLeak:
		if _, _, err := c.ShortcutKey(); err != nil {
			return invalid("%v", err)
		}
		if c.Iterations <= 0 {
			return invalid("iterations must be greater than zero")
		}
		if c.ThresholdMB <= 0 {
			return invalid("threshold_mb must be greater than zero")
		}
	}
	return nil
}

// DefaultChecks returns the standard developer journey against a
// motion-capture style single page app.
func DefaultChecks() []CheckConfig {
	return []CheckConfig{
		{
			Kind: CheckPageLoad,
			Name: "Page Load",
			Path: "/",
		},
		{
			Kind:   CheckNavigation,
			Name:   "Navigation",
			Settle: time.Second,
			Pages: []PageConfig{
				{Name: "Assets", Path: "/assets"},
				{Name: "Hand Rigging", Path: "/hand-rigging"},
				{Name: "Animation", Path: "/animation-retargeting"},
			},
		},
		{
			Kind:     CheckCommandPalette,
			Name:     "Command Palette",
			Settle:   500 * time.Millisecond,
			Interval: 300 * time.Millisecond,
			Shortcut: DefaultShortcut,
			Query:    "asset",
			Selectors: []string{
				`[role="dialog"]`,
				`input[placeholder*="Search"]`,
				`[data-command-palette]`,
			},
			InputSelector: `input`,
		},
		{
			Kind:   CheckFeatures,
			Name:   "Hand Rigging Page",
			Path:   "/hand-rigging",
			Settle: 1500 * time.Millisecond,
			Probes: []ProbeConfig{
				{Name: "upload_button", Selectors: []string{`input[type="file"]`, `button:contains("Upload")`}},
				{Name: "camera_controls", Selectors: []string{`video`, `canvas`}},
				{Name: "mediapipe_script", Script: `typeof window.MediaPipeHands !== "undefined" || typeof Hands !== "undefined"`},
			},
			MinMatches: 2,
		},
		{
			Kind:   CheckFeatures,
			Name:   "Animation Retargeting Page",
			Path:   "/animation-retargeting",
			Settle: 1500 * time.Millisecond,
			Probes: []ProbeConfig{
				{Name: "has_upload", Selectors: []string{`input[type="file"]`}, Required: true},
				{Name: "has_3d_viewer", Selectors: []string{`canvas`}},
				{Name: "has_controls", Selectors: []string{`button`}, MinCount: 3},
			},
			MinMatches: 2,
		},
		{
			Kind:      CheckScrollPerformance,
			Name:      "Assets Page Performance",
			Path:      "/assets",
			Settle:    2 * time.Second,
			Interval:  500 * time.Millisecond,
			Selectors: []string{`[data-asset-card], .asset-card, article, [class*="card"]`},
		},
		{
			Kind:     CheckKeyboard,
			Name:     "Keyboard Shortcuts",
			Path:     "/",
			Settle:   time.Second,
			Interval: 200 * time.Millisecond,
		},
		{
			Kind:   CheckCanvas,
			Name:   "3D Viewer",
			Path:   "/assets",
			Settle: 2 * time.Second,
		},
		{
			Kind:        CheckMemoryLeak,
			Name:        "Memory Leak Detection",
			Path:        "/",
			Settle:      time.Second,
			Interval:    100 * time.Millisecond,
			Shortcut:    DefaultShortcut,
			Iterations:  10,
			ThresholdMB: 10,
		},
		{
			Kind:   CheckAPIIntegration,
			Name:   "API Integration",
			Path:   "/assets",
			Settle: 2 * time.Second,
		},
	}
}
