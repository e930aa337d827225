package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/webprobe/pkg/telemetry"
)

// Metrics tracks browser driver counters for a run.
type Metrics struct {
	// Session counts
	SessionsCreated atomic.Int64
	SessionsClosed  atomic.Int64
	ActiveSessions  atomic.Int64

	// Operation counts
	NavigateCount atomic.Int64
	EvaluateCount atomic.Int64
	ActionCount   atomic.Int64

	// Action outcomes
	ActionSuccessCount atomic.Int64
	ActionFailureCount atomic.Int64

	// Event stream
	EventsDelivered atomic.Int64
	EventsDropped   atomic.Int64

	NavigateLatencySum   atomic.Int64 // nanoseconds
	NavigateLatencyCount atomic.Int64

	mu    sync.RWMutex
	hub   *telemetry.Hub
	runID string
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// EnableTelemetry wires the metrics collector to a telemetry hub.
func (m *Metrics) EnableTelemetry(hub *telemetry.Hub, runID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hub = hub
	m.runID = runID
	m.mu.Unlock()
}

// RecordSessionCreated increments session creation counter.
func (m *Metrics) RecordSessionCreated(sessionID string) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(1)
	m.ActiveSessions.Add(1)
	m.publishEvent(telemetry.EventBrowserSessionCreated, sessionID, nil)
}

// RecordSessionClosed increments session close counter.
func (m *Metrics) RecordSessionClosed(sessionID string) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(1)
	m.ActiveSessions.Add(-1)
	m.publishEvent(telemetry.EventBrowserSessionClosed, sessionID, nil)
}

// RecordNavigate increments navigation counter.
func (m *Metrics) RecordNavigate(sessionID, url string, latency time.Duration) {
	if m == nil {
		return
	}
	m.NavigateCount.Add(1)
	m.NavigateLatencySum.Add(latency.Nanoseconds())
	m.NavigateLatencyCount.Add(1)
	m.publishEvent(telemetry.EventBrowserNavigate, sessionID, map[string]any{
		"url":        url,
		"latency_ms": latency.Milliseconds(),
	})
}

// RecordEvaluate increments the script evaluation counter.
func (m *Metrics) RecordEvaluate() {
	if m == nil {
		return
	}
	m.EvaluateCount.Add(1)
}

// RecordAction increments action counter and tracks success/failure.
func (m *Metrics) RecordAction(sessionID, action string, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.ActionCount.Add(1)
	eventType := telemetry.EventBrowserAction
	if success {
		m.ActionSuccessCount.Add(1)
	} else {
		m.ActionFailureCount.Add(1)
		eventType = telemetry.EventBrowserActionFailed
	}
	m.publishEvent(eventType, sessionID, map[string]any{
		"action":     action,
		"success":    success,
		"latency_ms": latency.Milliseconds(),
	})
}

// RecordEventDelivered counts an event handed to the session's channel.
func (m *Metrics) RecordEventDelivered() {
	if m == nil {
		return
	}
	m.EventsDelivered.Add(1)
}

// RecordEventDropped counts an event lost to a full channel. Only the first
// drop of a session is published to avoid flooding subscribers.
func (m *Metrics) RecordEventDropped(sessionID string) {
	if m == nil {
		return
	}
	if m.EventsDropped.Add(1) == 1 {
		m.publishEvent(telemetry.EventBrowserEventsDropped, sessionID, nil)
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	avgNavigate := time.Duration(0)
	if count := m.NavigateLatencyCount.Load(); count > 0 {
		avgNavigate = time.Duration(m.NavigateLatencySum.Load() / count)
	}
	successCount := m.ActionSuccessCount.Load()
	failCount := m.ActionFailureCount.Load()
	total := successCount + failCount
	successRate := float64(1.0)
	if total > 0 {
		successRate = float64(successCount) / float64(total)
	}
	return MetricsSnapshot{
		SessionsCreated:    m.SessionsCreated.Load(),
		SessionsClosed:     m.SessionsClosed.Load(),
		ActiveSessions:     m.ActiveSessions.Load(),
		NavigateCount:      m.NavigateCount.Load(),
		EvaluateCount:      m.EvaluateCount.Load(),
		ActionCount:        m.ActionCount.Load(),
		ActionSuccessCount: successCount,
		ActionFailureCount: failCount,
		ActionSuccessRate:  successRate,
		EventsDelivered:    m.EventsDelivered.Load(),
		EventsDropped:      m.EventsDropped.Load(),
		AverageNavigate:    avgNavigate,
	}
}

func (m *Metrics) publishEvent(eventType telemetry.EventType, sessionID string, data map[string]any) {
	m.mu.RLock()
	hub := m.hub
	runID := m.runID
	m.mu.RUnlock()
	if hub == nil {
		return
	}
	hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		SessionID: sessionID,
		Data:      data,
	})
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	SessionsCreated    int64
	SessionsClosed     int64
	ActiveSessions     int64
	NavigateCount      int64
	EvaluateCount      int64
	ActionCount        int64
	ActionSuccessCount int64
	ActionFailureCount int64
	ActionSuccessRate  float64
	EventsDelivered    int64
	EventsDropped      int64
	AverageNavigate    time.Duration
}
