package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunFinalized  EventType = "run.finalized"
	EventCheckStarted  EventType = "check.started"
	EventCheckPassed   EventType = "check.passed"
	EventCheckFailed   EventType = "check.failed"
	EventCheckErrored  EventType = "check.errored"
	EventIngestDropped EventType = "ingest.dropped"

	EventBrowserSessionCreated EventType = "browser.session_created"
	EventBrowserSessionClosed  EventType = "browser.session_closed"
	EventBrowserNavigate       EventType = "browser.navigate"
	EventBrowserAction         EventType = "browser.action"
	EventBrowserActionFailed   EventType = "browser.action_failed"
	EventBrowserEventsDropped  EventType = "browser.events_dropped"
)

// DefaultSubscriberBuffer is the channel size handed to each subscriber.
const DefaultSubscriberBuffer = 64

// Event describes run telemetry that terminals and exporters can consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"runId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Check     string         `json:"check,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
	dropped     atomic.Int64
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
// A nil hub discards everything.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, DefaultSubscriberBuffer)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
