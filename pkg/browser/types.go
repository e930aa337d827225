package browser

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the shape of an observed browser event.
type EventKind string

const (
	EventConsole  EventKind = "console"
	EventRequest  EventKind = "request"
	EventResponse EventKind = "response"
)

// Event is a single observation emitted by a browser session. Which fields
// are populated depends on Kind: console events carry Severity and Text,
// requests carry URL, Method and ResourceType, responses carry URL, Method,
// Status and the optional timing pair.
type Event struct {
	Kind         EventKind `json:"kind"`
	Time         time.Time `json:"time,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Text         string    `json:"text,omitempty"`
	URL          string    `json:"url,omitempty"`
	Method       string    `json:"method,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Status       *int      `json:"status,omitempty"`
	TimingStart  *float64  `json:"timing_start,omitempty"`
	TimingEnd    *float64  `json:"timing_end,omitempty"`
}

// Viewport defines the browser viewport size.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty" yaml:"device_scale_factor"`
}

// KeyModifier describes a keyboard modifier.
type KeyModifier string

const (
	KeyModifierShift KeyModifier = "shift"
	KeyModifierAlt   KeyModifier = "alt"
	KeyModifierCtrl  KeyModifier = "ctrl"
	KeyModifierMeta  KeyModifier = "meta"
)

// ParseKeyModifier maps a config string to a modifier.
func ParseKeyModifier(raw string) (KeyModifier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "shift":
		return KeyModifierShift, true
	case "alt", "option":
		return KeyModifierAlt, true
	case "ctrl", "control":
		return KeyModifierCtrl, true
	case "meta", "cmd", "command":
		return KeyModifierMeta, true
	}
	return "", false
}

// SessionConfig configures a browser session.
type SessionConfig struct {
	SessionID string   `json:"session_id" yaml:"-"`
	Viewport  Viewport `json:"viewport" yaml:"viewport"`
	UserAgent string   `json:"user_agent,omitempty" yaml:"user_agent"`
	Headless  bool     `json:"headless" yaml:"headless"`
	// PreciseMemory exposes unquantized performance.memory readings.
	PreciseMemory bool `json:"precise_memory" yaml:"precise_memory"`
	// EventBuffer bounds the events channel; overflow is dropped and counted.
	EventBuffer int `json:"event_buffer,omitempty" yaml:"event_buffer"`
}

// DefaultSessionConfig returns the recommended session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Viewport: Viewport{
			Width:             1920,
			Height:            1080,
			DeviceScaleFactor: 1.0,
		},
		Headless:      true,
		PreciseMemory: true,
		EventBuffer:   1024,
	}
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
