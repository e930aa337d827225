// Package harness runs scripted checks against a browser session and folds
// their outcomes into a run report.
package harness

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/config"
	"github.com/odvcencio/webprobe/pkg/observability"
	"github.com/odvcencio/webprobe/pkg/report"
	"github.com/odvcencio/webprobe/pkg/telemetry"
)

// Check is one scripted step of a run. Run records its own results through
// env; a returned error is recorded as a failed result under Name.
type Check interface {
	Name() string
	Run(ctx context.Context, env *Env) error
}

//go:generate mockgen -package=harness -destination=mock_session_test.go github.com/odvcencio/webprobe/pkg/browser Session

// Env is what a check sees while it runs.
type Env struct {
	Session         browser.Session
	Report          *report.Aggregator
	BaseURL         string
	APIPathFragment string
	Logger          *observability.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	recorded int
	failed   int
}

// URL resolves a check path against the base URL.
func (e *Env) URL(path string) string {
	return config.JoinURL(e.BaseURL, path)
}

// Now reads the runner's clock.
func (e *Env) Now() time.Time {
	return e.now()
}

// Since is the runner-clock time elapsed since t.
func (e *Env) Since(t time.Time) time.Duration {
	return e.now().Sub(t)
}

// Wait pauses for d or until ctx is done.
func (e *Env) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return e.sleep(ctx, d)
}

// Goto navigates to path and then waits settle. It returns how long the
// navigation itself took. An empty path stays on the current page.
func (e *Env) Goto(ctx context.Context, path string, settle time.Duration) (time.Duration, error) {
	var took time.Duration
	if path != "" {
		start := e.now()
		if err := e.Session.Navigate(ctx, e.URL(path)); err != nil {
			return 0, err
		}
		took = e.Since(start)
	}
	return took, e.Wait(ctx, settle)
}

// Record appends a test result to the run.
func (e *Env) Record(name string, passed bool, details map[string]any) {
	e.recorded++
	if !passed {
		e.failed++
	}
	e.Report.RecordTestResult(name, passed, details)
}

// Metric records a named performance value.
func (e *Env) Metric(name string, value any) {
	e.Report.RecordMetric(name, value)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner sequences checks against one session and one aggregator.
type Runner struct {
	session  browser.Session
	agg      *report.Aggregator
	baseURL  string
	fragment string
	logger   *observability.Logger
	metrics  *observability.Metrics
	hub      *telemetry.Hub
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the run logger.
func WithLogger(l *observability.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records check outcomes and the final report into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTelemetry publishes run and check events to hub.
func WithTelemetry(hub *telemetry.Hub) Option {
	return func(r *Runner) {
		r.hub = hub
	}
}

// WithAPIPathFragment sets the substring that marks API calls.
func WithAPIPathFragment(fragment string) Option {
	return func(r *Runner) {
		r.fragment = fragment
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSleep replaces the wait used between scripted actions.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRunner creates a runner for session, recording into agg.
func NewRunner(session browser.Session, agg *report.Aggregator, baseURL string, opts ...Option) *Runner {
	r := &Runner{
		session:  session,
		agg:      agg,
		baseURL:  baseURL,
		fragment: report.DefaultAPIPathFragment,
		logger:   observability.Discard(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes checks in order and finalizes the aggregator. Checks are never
// retried. If ctx is cancelled the run is abandoned: nothing is finalized and
// ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, checks []Check) (*report.RunReport, error) {
	startedAt := r.now()
	runID := r.agg.RunID()
	sessionID := ""
	if r.session != nil {
		sessionID = r.session.ID()
	}
	logger := r.logger.WithRun(runID)

	ctx, span := observability.StartSpan(ctx, "webprobe.run", trace.WithAttributes(
		observability.AttrRunID.String(runID),
		observability.AttrBaseURL.String(r.baseURL),
		observability.AttrSessionID.String(sessionID),
	))
	defer span.End()

	logger.RunStarted(runID, r.baseURL, len(checks))
	r.publish(telemetry.EventRunStarted, runID, sessionID, "", map[string]any{
		"baseUrl": r.baseURL,
		"checks":  len(checks),
	})

	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, r.abandon(ctx, logger, err)
		}
		r.runCheck(ctx, logger, runID, sessionID, check)
	}
	if err := ctx.Err(); err != nil {
		return nil, r.abandon(ctx, logger, err)
	}

	rep := r.agg.Finalize(startedAt)
	if r.metrics != nil {
		r.metrics.ObserveReport(rep)
	}
	span.SetAttributes(observability.AttrRating.Int(rep.Rating))
	logger.RunFinished(runID, rep.Passed(), rep.Failed(), rep.Rating, rep.Duration)
	r.publish(telemetry.EventRunFinalized, runID, sessionID, "", map[string]any{
		"passed": rep.Passed(),
		"failed": rep.Failed(),
		"rating": rep.Rating,
	})
	return rep, nil
}

func (r *Runner) abandon(ctx context.Context, logger *observability.Logger, err error) error {
	observability.RecordError(ctx, err)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, "run abandoned")
	logger.Warn("run abandoned", "error", err.Error())
	return err
}

func (r *Runner) runCheck(ctx context.Context, logger *observability.Logger, runID, sessionID string, check Check) {
	name := check.Name()
	attrs := []trace.SpanStartOption{trace.WithAttributes(observability.AttrCheckName.String(name))}
	if k, ok := check.(interface{ Kind() config.CheckKind }); ok {
		attrs = append(attrs, trace.WithAttributes(observability.AttrCheckKind.String(string(k.Kind()))))
	}
	ctx, span := observability.StartSpan(ctx, "webprobe.check", attrs...)
	defer span.End()

	clog := logger.WithCheck(name).WithContext(ctx)
	r.publish(telemetry.EventCheckStarted, runID, sessionID, name, nil)

	env := &Env{
		Session:         r.session,
		Report:          r.agg,
		BaseURL:         r.baseURL,
		APIPathFragment: r.fragment,
		Logger:          clog,
		now:             r.now,
		sleep:           r.sleep,
	}

	start := r.now()
	err := check.Run(ctx, env)
	elapsed := r.now().Sub(start)

	if err != nil {
		// A cancelled run is abandoned by Run; don't record a result for it.
		if ctx.Err() != nil {
			return
		}
		env.Record(name, false, map[string]any{"error": err.Error()})
		observability.RecordError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
		clog.CheckErrored(name, err)
		r.publish(telemetry.EventCheckErrored, runID, sessionID, name, map[string]any{"error": err.Error()})
	}

	passed := env.failed == 0
	span.SetAttributes(observability.AttrPassed.Bool(passed))
	if r.metrics != nil {
		r.metrics.ObserveCheck(name, passed, elapsed.Seconds())
	}
	clog.CheckFinished(name, passed, elapsed)

	eventType := telemetry.EventCheckPassed
	if !passed {
		eventType = telemetry.EventCheckFailed
	}
	r.publish(eventType, runID, sessionID, name, map[string]any{
		"results":    env.recorded,
		"failed":     env.failed,
		"durationMs": elapsed.Milliseconds(),
	})
}

func (r *Runner) publish(eventType telemetry.EventType, runID, sessionID, check string, data map[string]any) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: r.now(),
		RunID:     runID,
		SessionID: sessionID,
		Check:     check,
		Data:      data,
	})
}
