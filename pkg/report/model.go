// Package report aggregates browser observations for a run and turns them
// into a scored, rendered report.
package report

import (
	"strings"
	"time"
)

// Severity is the console channel a message was emitted on.
type Severity string

const (
	SeverityLog     Severity = "log"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityDebug   Severity = "debug"
)

// ParseSeverity normalizes a severity reported by a browser.
// Unknown or empty values fall back to SeverityLog.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info":
		return SeverityInfo
	case "warning", "warn":
		return SeverityWarning
	case "error":
		return SeverityError
	case "debug", "verbose":
		return SeverityDebug
	default:
		return SeverityLog
	}
}

// ConsoleEvent is a message the page wrote to its console.
type ConsoleEvent struct {
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	ObservedAt time.Time `json:"observed_at"`
}

// NetworkEvent is an observed request and, once matched, its response.
type NetworkEvent struct {
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	ResourceType string    `json:"resource_type,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
	Status       *int      `json:"status,omitempty"`
	TimingStart  *float64  `json:"timing_start,omitempty"`
	TimingEnd    *float64  `json:"timing_end,omitempty"`
	// Synthesized marks events built from a response with no recorded request.
	Synthesized bool `json:"synthesized,omitempty"`
}

// Resolved reports whether a response has been matched to the request.
func (e NetworkEvent) Resolved() bool {
	return e.Status != nil
}

// Latency returns timingEnd - timingStart when both are known.
func (e NetworkEvent) Latency() (float64, bool) {
	if e.TimingStart == nil || e.TimingEnd == nil {
		return 0, false
	}
	return *e.TimingEnd - *e.TimingStart, true
}

// TestResult is the outcome of one named check.
type TestResult struct {
	Name       string         `json:"name"`
	Passed     bool           `json:"passed"`
	ObservedAt time.Time      `json:"observed_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Metric is a named measurement carried by a report.
type Metric struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// RunReport is the immutable result of one run.
type RunReport struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Duration      time.Duration  `json:"duration"`
	Results       []TestResult   `json:"results"`
	ConsoleEvents []ConsoleEvent `json:"console_events"`
	NetworkEvents []NetworkEvent `json:"network_events"`
	Metrics       []Metric       `json:"metrics"`
	Rating        int            `json:"rating"`
	Deductions    []Deduction    `json:"deductions,omitempty"`
	Findings      []string       `json:"findings"`
}

// Passed returns the number of passing results.
func (r *RunReport) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Failed returns the number of failing results.
func (r *RunReport) Failed() int {
	return len(r.Results) - r.Passed()
}

// Errors returns console events with error severity.
func (r *RunReport) Errors() []ConsoleEvent {
	return r.bySeverity(SeverityError)
}

// Warnings returns console events with warning severity.
func (r *RunReport) Warnings() []ConsoleEvent {
	return r.bySeverity(SeverityWarning)
}

func (r *RunReport) bySeverity(sev Severity) []ConsoleEvent {
	var out []ConsoleEvent
	for _, ev := range r.ConsoleEvents {
		if ev.Severity == sev {
			out = append(out, ev)
		}
	}
	return out
}

// Metric looks up a metric by name.
func (r *RunReport) Metric(name string) (any, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

// Counts returns the inputs the scorer works from.
func (r *RunReport) Counts() Counts {
	return Counts{
		Errors:   len(r.Errors()),
		Warnings: len(r.Warnings()),
		Failed:   r.Failed(),
		Total:    len(r.Results),
		APICalls: apiCallsMetric(r),
	}
}

func apiCallsMetric(r *RunReport) int {
	v, ok := r.Metric(MetricAPICalls)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}
