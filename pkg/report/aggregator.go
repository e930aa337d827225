package report

import (
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Names of the metrics every report carries.
const (
	MetricAverageResponse = "average_response_ms"
	MetricAPICalls        = "api_calls"
	MetricAPISuccessful   = "api_successful_calls"
)

// RequestKey correlates a response with the request that produced it.
type RequestKey struct {
	URL    string
	Method string
}

func newRequestKey(url, method string) RequestKey {
	return RequestKey{URL: url, Method: normalizeMethod(method)}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(a *Aggregator) {
		if strings.TrimSpace(id) != "" {
			a.runID = id
		}
	}
}

// WithAPIPathFragment changes the URL marker used to spot API calls.
func WithAPIPathFragment(fragment string) Option {
	return func(a *Aggregator) {
		if fragment != "" {
			a.apiFragment = fragment
		}
	}
}

// WithRules replaces the scoring rule table.
func WithRules(rules []Rule) Option {
	return func(a *Aggregator) {
		if len(rules) > 0 {
			a.rules = rules
		}
	}
}

// Aggregator stores everything observed during one run.
// Record methods may be called from any goroutine; after Finalize they are no-ops.
type Aggregator struct {
	mu          sync.Mutex
	runID       string
	now         func() time.Time
	createdAt   time.Time
	apiFragment string
	rules       []Rule

	console []ConsoleEvent
	network []NetworkEvent
	results []TestResult
	metrics []Metric

	// unresolved request positions, most recent last
	pending  map[RequestKey][]int
	errors   int
	warnings int

	final *RunReport
}

// NewAggregator creates an empty aggregator for a single run.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:         time.Now,
		apiFragment: DefaultAPIPathFragment,
		rules:       DefaultRules,
		pending:     make(map[RequestKey][]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.runID == "" {
		a.runID = ulid.Make().String()
	}
	a.createdAt = a.now()
	return a
}

// RunID returns the identifier of the run.
func (a *Aggregator) RunID() string {
	return a.runID
}

// RecordConsole appends a console message.
func (a *Aggregator) RecordConsole(ev ConsoleEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	ev.Severity = ParseSeverity(string(ev.Severity))
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = a.now()
	}
	a.console = append(a.console, ev)
	switch ev.Severity {
	case SeverityError:
		a.errors++
	case SeverityWarning:
		a.warnings++
	}
}

// RecordRequest appends an unresolved network event.
func (a *Aggregator) RecordRequest(ev NetworkEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	ev.Method = normalizeMethod(ev.Method)
	ev.Status = nil
	ev.Synthesized = false
	if ev.RequestedAt.IsZero() {
		ev.RequestedAt = a.now()
	}
	key := newRequestKey(ev.URL, ev.Method)
	a.pending[key] = append(a.pending[key], len(a.network))
	a.network = append(a.network, ev)
}

// RecordResponse resolves the most recent unresolved request for key.
// A response with no matching request is kept as a synthesized event. A nil
// status still consumes the request and stores its timing; Status stays unset.
func (a *Aggregator) RecordResponse(key RequestKey, status *int, timingStart, timingEnd *float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	key = newRequestKey(key.URL, key.Method)
	var st *int
	if status != nil {
		v := *status
		st = &v
	}

	if idx := a.pending[key]; len(idx) > 0 {
		pos := idx[len(idx)-1]
		if len(idx) == 1 {
			delete(a.pending, key)
		} else {
			a.pending[key] = idx[:len(idx)-1]
		}
		ev := &a.network[pos]
		ev.Status = st
		ev.TimingStart = copyFloat(timingStart)
		ev.TimingEnd = copyFloat(timingEnd)
		return
	}

	a.network = append(a.network, NetworkEvent{
		URL:         key.URL,
		Method:      key.Method,
		RequestedAt: a.now(),
		Status:      st,
		TimingEnd:   copyFloat(timingEnd),
		Synthesized: true,
	})
}

// RecordTestResult appends a check outcome. Repeated names are kept in call order.
func (a *Aggregator) RecordTestResult(name string, passed bool, details map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	a.results = append(a.results, TestResult{
		Name:       name,
		Passed:     passed,
		ObservedAt: a.now(),
		Details:    maps.Clone(details),
	})
}

// RecordMetric stores a named measurement. A later value for the same name replaces the earlier one.
func (a *Aggregator) RecordMetric(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil || name == "" {
		return
	}
	for i := range a.metrics {
		if a.metrics[i].Name == name {
			a.metrics[i].Value = value
			return
		}
	}
	a.metrics = append(a.metrics, Metric{Name: name, Value: value})
}

// NetworkEvents returns a copy of the network events recorded so far.
func (a *Aggregator) NetworkEvents() []NetworkEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]NetworkEvent(nil), a.network...)
}

// ConsoleCounts returns the running error and warning totals.
func (a *Aggregator) ConsoleCounts() (errors, warnings int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errors, a.warnings
}

// Finalize freezes the run and returns its report. A zero startedAt means the
// aggregator's creation time. Calling Finalize again returns the same report.
func (a *Aggregator) Finalize(startedAt time.Time) *RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return a.final
	}
	if startedAt.IsZero() {
		startedAt = a.createdAt
	}
	finished := a.now()

	rep := &RunReport{
		RunID:         a.runID,
		StartedAt:     startedAt,
		FinishedAt:    finished,
		Duration:      finished.Sub(startedAt),
		Results:       append([]TestResult(nil), a.results...),
		ConsoleEvents: append([]ConsoleEvent(nil), a.console...),
		NetworkEvents: append([]NetworkEvent(nil), a.network...),
	}

	api := SummarizeAPICalls(rep.NetworkEvents, a.apiFragment)
	var avg any = Undefined
	if v, ok := AverageResponseLatency(rep.NetworkEvents); ok {
		avg = round2(v)
	}
	rep.Metrics = append(rep.Metrics,
		Metric{Name: MetricAverageResponse, Value: avg},
		Metric{Name: MetricAPICalls, Value: len(api.Calls)},
		Metric{Name: MetricAPISuccessful, Value: api.Successful},
	)
	rep.Metrics = append(rep.Metrics, a.metrics...)

	counts := Counts{
		Errors:   a.errors,
		Warnings: a.warnings,
		Failed:   rep.Failed(),
		Total:    len(rep.Results),
		APICalls: len(api.Calls),
	}
	rating := Score(counts, a.rules)
	rep.Rating = rating.Value
	rep.Deductions = rating.Deductions
	rep.Findings = Findings(counts)

	a.final = rep
	a.pending = nil
	return rep
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return "GET"
	}
	return method
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
