package report

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAggregator(clock *fakeClock) *Aggregator {
	return NewAggregator(WithClock(clock.Now), WithRunID("run-test"))
}

func ptr[T any](v T) *T { return &v }

func TestAggregator_ConsoleCountMatchesCalls(t *testing.T) {
	for _, n := range []int{0, 1, 7, 250} {
		t.Run(fmt.Sprintf("%d_events", n), func(t *testing.T) {
			agg := newTestAggregator(newFakeClock())
			for i := 0; i < n; i++ {
				agg.RecordConsole(ConsoleEvent{Severity: SeverityInfo, Message: fmt.Sprintf("msg %d", i)})
			}
			rep := agg.Finalize(time.Time{})
			assert.Len(t, rep.ConsoleEvents, n)
		})
	}
}

func TestAggregator_ConsoleSeverityDefaults(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)

	agg.RecordConsole(ConsoleEvent{Message: "no severity"})
	agg.RecordConsole(ConsoleEvent{Severity: "warn", Message: "alias"})
	agg.RecordConsole(ConsoleEvent{Severity: "bogus", Message: "unknown"})
	agg.RecordConsole(ConsoleEvent{Severity: SeverityError, Message: "boom"})

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.ConsoleEvents, 4)
	assert.Equal(t, SeverityLog, rep.ConsoleEvents[0].Severity)
	assert.Equal(t, SeverityWarning, rep.ConsoleEvents[1].Severity)
	assert.Equal(t, SeverityLog, rep.ConsoleEvents[2].Severity)
	assert.Equal(t, clock.Now(), rep.ConsoleEvents[0].ObservedAt)

	errs, warns := agg.ConsoleCounts()
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, warns)
}

func TestAggregator_RequestResponsePair(t *testing.T) {
	agg := newTestAggregator(newFakeClock())

	agg.RecordRequest(NetworkEvent{URL: "http://localhost:3000/api/items", Method: "GET", ResourceType: "fetch"})
	agg.RecordResponse(RequestKey{URL: "http://localhost:3000/api/items", Method: "GET"}, ptr(200), ptr(100.0), ptr(150.0))

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.NetworkEvents, 1)
	ev := rep.NetworkEvents[0]
	require.NotNil(t, ev.Status)
	assert.Equal(t, 200, *ev.Status)
	assert.False(t, ev.Synthesized)

	avg, ok := AverageResponseLatency(rep.NetworkEvents)
	require.True(t, ok)
	assert.InDelta(t, 50.0, avg, 1e-9)

	api := SummarizeAPICalls(rep.NetworkEvents, "")
	assert.Len(t, api.Calls, 1)
	assert.Equal(t, 1, api.Successful)
}

func TestAggregator_ResponseResolvesMostRecentUnresolved(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	key := RequestKey{URL: "/api/poll", Method: "get"}

	agg.RecordRequest(NetworkEvent{URL: key.URL, Method: "GET"})
	agg.RecordRequest(NetworkEvent{URL: key.URL, Method: "GET"})
	agg.RecordResponse(key, ptr(204), nil, nil)
	agg.RecordResponse(key, ptr(500), nil, nil)

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.NetworkEvents, 2)
	assert.Equal(t, 500, *rep.NetworkEvents[0].Status)
	assert.Equal(t, 204, *rep.NetworkEvents[1].Status)
}

func TestAggregator_StatusSetOnlyOnce(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	key := RequestKey{URL: "/api/once", Method: "POST"}

	agg.RecordRequest(NetworkEvent{URL: key.URL, Method: key.Method})
	agg.RecordResponse(key, ptr(201), nil, nil)
	agg.RecordResponse(key, ptr(409), nil, nil)

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.NetworkEvents, 2)
	assert.Equal(t, 201, *rep.NetworkEvents[0].Status)
	assert.False(t, rep.NetworkEvents[0].Synthesized)
	assert.Equal(t, 409, *rep.NetworkEvents[1].Status)
	assert.True(t, rep.NetworkEvents[1].Synthesized)
}

func TestAggregator_ResponseWithoutStatus(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	key := RequestKey{URL: "/api/items", Method: "GET"}

	agg.RecordRequest(NetworkEvent{URL: key.URL, Method: key.Method})
	agg.RecordResponse(key, nil, ptr(100.0), ptr(150.0))
	agg.RecordResponse(key, ptr(200), nil, nil)

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.NetworkEvents, 2)
	first := rep.NetworkEvents[0]
	assert.False(t, first.Synthesized)
	assert.Nil(t, first.Status, "status is never set after the request was resolved")
	latency, ok := first.Latency()
	require.True(t, ok)
	assert.Equal(t, 50.0, latency)
	assert.True(t, rep.NetworkEvents[1].Synthesized)

	// an unmatched response without status is still kept
	agg2 := newTestAggregator(newFakeClock())
	agg2.RecordResponse(RequestKey{URL: "/api/orphan"}, nil, nil, ptr(10.0))
	events := agg2.NetworkEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].Synthesized)
	assert.Nil(t, events[0].Status)
}

func TestAggregator_UnmatchedResponseIsSynthesized(t *testing.T) {
	agg := newTestAggregator(newFakeClock())

	agg.RecordResponse(RequestKey{URL: "/api/late", Method: "GET"}, ptr(200), nil, ptr(80.0))

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.NetworkEvents, 1)
	ev := rep.NetworkEvents[0]
	assert.True(t, ev.Synthesized)
	require.NotNil(t, ev.Status)
	assert.Equal(t, 200, *ev.Status)
	assert.Nil(t, ev.TimingStart)
	_, ok := ev.Latency()
	assert.False(t, ok)

	avg, _ := rep.Metric(MetricAverageResponse)
	assert.Equal(t, Undefined, avg)
}

func TestAggregator_RequestDefaultsMethod(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	agg.RecordRequest(NetworkEvent{URL: "/x", Status: ptr(200)})
	agg.RecordResponse(RequestKey{URL: "/x"}, ptr(302), nil, nil)

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.NetworkEvents, 1)
	assert.Equal(t, "GET", rep.NetworkEvents[0].Method)
	assert.Equal(t, 302, *rep.NetworkEvents[0].Status)
}

func TestAggregator_DuplicateResultNamesKeptInOrder(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	agg.RecordTestResult("Page Load", true, nil)
	agg.RecordTestResult("Page Load", false, map[string]any{"error": "timeout"})

	rep := agg.Finalize(time.Time{})
	require.Len(t, rep.Results, 2)
	assert.True(t, rep.Results[0].Passed)
	assert.False(t, rep.Results[1].Passed)
	assert.Equal(t, "timeout", rep.Results[1].Details["error"])
}

func TestAggregator_ResultDetailsCopied(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	details := map[string]any{"url": "/a"}
	agg.RecordTestResult("Navigation - A", true, details)
	details["url"] = "/changed"

	rep := agg.Finalize(time.Time{})
	assert.Equal(t, "/a", rep.Results[0].Details["url"])
}

func TestAggregator_FinalizeFreezes(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)
	start := clock.Now()
	agg.RecordConsole(ConsoleEvent{Severity: SeverityError, Message: "first"})

	clock.Advance(3 * time.Second)
	rep := agg.Finalize(start)
	assert.Equal(t, 3*time.Second, rep.Duration)
	assert.Equal(t, "run-test", rep.RunID)

	agg.RecordConsole(ConsoleEvent{Severity: SeverityError, Message: "late"})
	agg.RecordTestResult("late", false, nil)
	agg.RecordMetric("late", 1)

	again := agg.Finalize(start)
	assert.Same(t, rep, again)
	assert.Len(t, again.ConsoleEvents, 1)
	assert.Empty(t, again.Results)
}

func TestAggregator_RecordMetricReplacesByName(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	agg.RecordMetric("initial_load_time", "1.20s")
	agg.RecordMetric("assets_count", 12)
	agg.RecordMetric("initial_load_time", "0.90s")

	rep := agg.Finalize(time.Time{})
	v, ok := rep.Metric("initial_load_time")
	require.True(t, ok)
	assert.Equal(t, "0.90s", v)

	names := make([]string, 0, len(rep.Metrics))
	for _, m := range rep.Metrics {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{MetricAverageResponse, MetricAPICalls, MetricAPISuccessful, "initial_load_time", "assets_count"}, names)
}

func TestAggregator_NetworkEventsSnapshotIsCopy(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	agg.RecordRequest(NetworkEvent{URL: "/api/a"})

	snap := agg.NetworkEvents()
	snap[0].URL = "mutated"
	agg.RecordResponse(RequestKey{URL: "/api/a"}, ptr(200), nil, nil)

	assert.Nil(t, snap[0].Status)
	assert.Equal(t, "/api/a", agg.NetworkEvents()[0].URL)
}

func TestAggregator_ConcurrentRecording(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	const workers, perWorker = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				url := fmt.Sprintf("/api/%d/%d", w, i)
				agg.RecordConsole(ConsoleEvent{Severity: SeverityWarning, Message: url})
				agg.RecordRequest(NetworkEvent{URL: url})
				agg.RecordResponse(RequestKey{URL: url}, ptr(200), ptr(1.0), ptr(2.0))
			}
		}(w)
	}
	wg.Wait()

	rep := agg.Finalize(time.Time{})
	assert.Len(t, rep.ConsoleEvents, workers*perWorker)
	assert.Len(t, rep.NetworkEvents, workers*perWorker)
	for _, ev := range rep.NetworkEvents {
		require.NotNil(t, ev.Status)
		assert.False(t, ev.Synthesized)
	}
}

func TestAggregator_GeneratesRunID(t *testing.T) {
	a := NewAggregator()
	b := NewAggregator()
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestAggregator_FinalizeScoresRun(t *testing.T) {
	agg := newTestAggregator(newFakeClock())
	for i := 0; i < 6; i++ {
		agg.RecordConsole(ConsoleEvent{Severity: SeverityError, Message: "err"})
	}
	agg.RecordTestResult("Page Load", true, nil)

	rep := agg.Finalize(time.Time{})
	assert.Equal(t, 8, rep.Rating)
	assert.Equal(t, []Deduction{{Rule: "console_errors", Count: 6, Points: 2}}, rep.Deductions)
	assert.Equal(t, "Found 6 console errors - needs attention", rep.Findings[0])
	assert.Equal(t, rep.Counts().Errors, 6)
}
