package browser

import (
	"context"
	"encoding/json"
)

// Runtime manages browser sessions.
type Runtime interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Close() error
}

// Session is the port implemented by browser runtime adapters.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and returns its JSON-encoded value.
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
	// Count returns how many elements in the current document match selector.
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	// Type sends text to the element matching selector, or to the focused
	// element when selector is empty.
	Type(ctx context.Context, selector, text string) error
	Press(ctx context.Context, key string, modifiers ...KeyModifier) error
	// Events streams console and network observations until Close.
	Events() <-chan Event
	Close() error
}
