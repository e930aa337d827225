package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/report"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "harness", slog.LevelInfo).WithRun("run-1").WithCheck("Navigation")

	logger.CheckFinished("Navigation", true, 1500*time.Millisecond)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "check finished", entry["msg"])
	assert.Equal(t, "harness", entry["component"])
	assert.Equal(t, "webprobe", entry["system"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, true, entry["passed"])
	assert.Equal(t, 1500.0, entry["duration_ms"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "ingest", slog.LevelWarn)

	logger.ReportWritten("out.txt", 10)
	assert.Zero(t, buf.Len())

	logger.EventMalformed("events.jsonl", 3, errors.New("unexpected EOF"))
	assert.Contains(t, buf.String(), `"line":3`)
}

func TestLogger_WithContextAddsTraceIDs(t *testing.T) {
	var traces bytes.Buffer
	tp, err := NewTracerProvider("webprobe-test", "test", &traces)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "harness", slog.LevelInfo)
	assert.Same(t, logger, logger.WithContext(context.Background()))

	ctx, span := StartSpan(context.Background(), "check")
	logger.WithContext(ctx).Info("inside span")
	span.End()

	assert.Contains(t, buf.String(), span.SpanContext().TraceID().String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestTracerProvider_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("webprobe-test", "test", &buf)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "check.run")
	SetAttributes(ctx, AttrCheckName.String("Keyboard Navigation"), AttrPassed.Bool(false))
	AddEvent(ctx, "key.pressed", AttrCheckKind.String("keyboard"))
	RecordError(ctx, errors.New("focus lost"))
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "check.run")
	assert.Contains(t, out, "Keyboard Navigation")
	assert.Contains(t, out, "focus lost")

	var nilProvider *TracerProvider
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}

func TestMetrics_ObserveCheck(t *testing.T) {
	m := NewMetrics()
	m.ObserveCheck("Navigation", true, 1.2)
	m.ObserveCheck("Command Palette", false, 0.4)
	m.ObserveCheck("Keyboard Navigation", true, 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("failed")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.CheckDuration))
}

func TestMetrics_ObserveReport(t *testing.T) {
	status := 200
	start, end := 10.0, 60.0
	rep := &report.RunReport{
		ConsoleEvents: []report.ConsoleEvent{
			{Severity: report.SeverityError, Message: "boom"},
			{Severity: report.SeverityWarning, Message: "hmm"},
			{Severity: report.SeverityWarning, Message: "hmm again"},
		},
		NetworkEvents: []report.NetworkEvent{
			{URL: "http://localhost/api/a", Method: "GET", Status: &status, TimingStart: &start, TimingEnd: &end},
			{URL: "http://localhost/api/b", Method: "GET"},
		},
		Rating: 7,
	}

	m := NewMetrics()
	m.ObserveReport(rep)
	m.ObserveReport(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsoleMessages.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsoleMessages.WithLabelValues("warning")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConsoleMessages.WithLabelValues("log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NetworkRequests.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NetworkRequests.WithLabelValues("pending")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.ResponseLatency))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Rating))
}

func TestMetrics_ObserveBrowser(t *testing.T) {
	m := NewMetrics()
	m.ObserveBrowser(browser.MetricsSnapshot{EventsDropped: 4, AverageNavigate: 250 * time.Millisecond})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.NavigateLatency))
}

func TestMetrics_RegistriesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.EventsMalformed.WithLabelValues("replay").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.EventsMalformed.WithLabelValues("replay")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsMalformed.WithLabelValues("replay")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Rating.Set(9)
	m.EventsIngested.WithLabelValues("console").Add(3)

	path := filepath.Join(t.TempDir(), "webprobe.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, "webprobe_report_rating 9"), out)
	assert.Contains(t, out, `webprobe_ingest_events_total{kind="console"} 3`)

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
