package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/errors"
	"github.com/odvcencio/webprobe/pkg/report"
)

const namespace = "webprobe"

// Metrics holds the Prometheus collectors for one run. Each run gets its own
// registry so the exported textfile only describes that run.
type Metrics struct {
	registry *prometheus.Registry

	ChecksTotal     *prometheus.CounterVec
	CheckDuration   *prometheus.HistogramVec
	EventsIngested  *prometheus.CounterVec
	EventsMalformed *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	ConsoleMessages *prometheus.GaugeVec
	NetworkRequests *prometheus.GaugeVec
	ResponseLatency prometheus.Gauge
	Rating          prometheus.Gauge
	NavigateLatency prometheus.Gauge
}

// NewMetrics registers the run collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "check",
				Name:      "results_total",
				Help:      "Total number of check results by outcome",
			},
			[]string{"result"},
		),

		CheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "check",
				Name:      "duration_seconds",
				Help:      "Check execution time in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
			[]string{"check"},
		),

		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "events_total",
				Help:      "Browser events applied to the aggregator",
			},
			[]string{"kind"},
		),

		EventsMalformed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "malformed_total",
				Help:      "Events skipped because they could not be decoded or applied",
			},
			[]string{"source"},
		),

		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "browser",
				Name:      "events_dropped_total",
				Help:      "Events dropped because the session buffer was full",
			},
		),

		ConsoleMessages: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "report",
				Name:      "console_messages",
				Help:      "Console messages captured during the run",
			},
			[]string{"severity"},
		),

		NetworkRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "report",
				Name:      "network_requests",
				Help:      "Network requests observed during the run",
			},
			[]string{"state"},
		),

		ResponseLatency: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "report",
				Name:      "average_response_ms",
				Help:      "Average response latency of timed requests in milliseconds",
			},
		),

		Rating: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "report",
				Name:      "rating",
				Help:      "Overall run rating out of 10",
			},
		),

		NavigateLatency: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "browser",
				Name:      "average_navigate_ms",
				Help:      "Average navigation latency in milliseconds",
			},
		),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCheck records one check outcome.
func (m *Metrics) ObserveCheck(name string, passed bool, seconds float64) {
	result := "failed"
	if passed {
		result = "passed"
	}
	m.ChecksTotal.WithLabelValues(result).Inc()
	m.CheckDuration.WithLabelValues(name).Observe(seconds)
}

// ObserveReport sets the run gauges from a finalized report.
func (m *Metrics) ObserveReport(rep *report.RunReport) {
	if rep == nil {
		return
	}
	counts := map[report.Severity]float64{}
	for _, ev := range rep.ConsoleEvents {
		counts[ev.Severity]++
	}
	for _, sev := range []report.Severity{
		report.SeverityLog, report.SeverityInfo, report.SeverityWarning,
		report.SeverityError, report.SeverityDebug,
	} {
		m.ConsoleMessages.WithLabelValues(string(sev)).Set(counts[sev])
	}

	var resolved, pending float64
	for _, ev := range rep.NetworkEvents {
		if ev.Resolved() {
			resolved++
		} else {
			pending++
		}
	}
	m.NetworkRequests.WithLabelValues("resolved").Set(resolved)
	m.NetworkRequests.WithLabelValues("pending").Set(pending)

	if avg, ok := report.AverageResponseLatency(rep.NetworkEvents); ok {
		m.ResponseLatency.Set(avg)
	}
	m.Rating.Set(float64(rep.Rating))
}

// ObserveBrowser copies the session counters that matter for the run.
func (m *Metrics) ObserveBrowser(snap browser.MetricsSnapshot) {
	m.EventsDropped.Add(float64(snap.EventsDropped))
	m.NavigateLatency.Set(float64(snap.AverageNavigate.Microseconds()) / 1000)
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrap(err, errors.ErrCodeMetricsExport, "writing metrics textfile").
			WithContext("path", path)
	}
	return nil
}
