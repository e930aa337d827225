package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/browser/adapters/chrome"
	"github.com/odvcencio/webprobe/pkg/config"
	webprobeerrors "github.com/odvcencio/webprobe/pkg/errors"
	"github.com/odvcencio/webprobe/pkg/harness"
	"github.com/odvcencio/webprobe/pkg/ingest"
	"github.com/odvcencio/webprobe/pkg/observability"
	"github.com/odvcencio/webprobe/pkg/report"
	"github.com/odvcencio/webprobe/pkg/telemetry"
	"github.com/odvcencio/webprobe/pkg/terminal"
)

// liveRun drives a Chrome session through the configured checks while a pump
// feeds the session's events into the aggregator.
func liveRun(ctx context.Context, cfg *config.Config, recordPath string, logger *observability.Logger, metrics *observability.Metrics, hub *telemetry.Hub, out *terminal.Writer, quiet bool) (*report.RunReport, error) {
	checks, err := harness.BuildChecks(cfg.Checks)
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}

	agg := report.NewAggregator(report.WithAPIPathFragment(cfg.Report.APIPathFragment))
	browserMetrics := browser.NewMetrics()
	browserMetrics.EnableTelemetry(hub, agg.RunID())

	rt, err := chrome.NewRuntime(chrome.Config{
		ExecPath:         cfg.Browser.ExecPath,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		OperationTimeout: cfg.Browser.OperationTimeout,
		Flags:            cfg.Browser.Flags,
	}, browserMetrics)
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	manager := browser.NewManager(rt)
	defer manager.Close()

	sess, err := manager.CreateSession(ctx, cfg.Browser.SessionConfig())
	if err != nil {
		return nil, webprobeerrors.Wrap(err, webprobeerrors.ErrCodeBrowserStart, "starting browser session").
			WithUserMessage("Could not start Chrome").
			WithRemediation(
				"Install Chrome or Chromium, or set browser.exec_path",
				"Check that the browser can run headless on this machine",
			)
	}
	logger = logger.WithSession(sess.ID())

	forwarders, closeForwarders, err := openForwarders(cfg, recordPath, logger)
	if err != nil {
		_ = manager.CloseSession(sess.ID())
		return nil, err
	}
	defer closeForwarders()

	stopProgress := showProgress(hub, out, quiet, len(checks))
	defer stopProgress()

	runner := harness.NewRunner(sess, agg, cfg.BaseURL,
		harness.WithLogger(logger),
		harness.WithMetrics(metrics),
		harness.WithTelemetry(hub),
		harness.WithAPIPathFragment(cfg.Report.APIPathFragment),
	)

	var rep *report.RunReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingest.Pump(gctx, sess.Events(), agg, ingest.Options{
			Logger:   logger,
			Observer: ingest.MetricsObserver{Metrics: metrics},
			Forward:  forwarders,
		})
	})
	g.Go(func() error {
		// Closing the session closes its event channel and ends the pump.
		defer func() { _ = manager.CloseSession(sess.ID()) }()
		var runErr error
		rep, runErr = runner.Run(gctx, checks)
		return runErr
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.ObserveBrowser(browserMetrics.Snapshot())
	return rep, nil
}

// openForwarders builds the record file and NATS publisher a live run copies
// its events to.
func openForwarders(cfg *config.Config, recordPath string, logger *observability.Logger) ([]ingest.Forwarder, func(), error) {
	var (
		forwarders []ingest.Forwarder
		closers    []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if recordPath != "" {
		f, err := os.Create(recordPath)
		if err != nil {
			return nil, nil, webprobeerrors.Wrap(err, webprobeerrors.ErrCodeReportWrite, "creating event log").
				WithContext("path", recordPath)
		}
		forwarders = append(forwarders, ingest.NewJSONLWriter(f))
		closers = append(closers, func() { _ = f.Close() })
	}

	if cfg.NATS.URL != "" {
		conn, err := ingest.DialNATS(cfg.NATS)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		forwarders = append(forwarders, ingest.NewNATSForwarder(conn, cfg.NATS.Subject))
		closers = append(closers, func() {
			if err := conn.Drain(); err != nil {
				logger.Warn("nats drain failed", "error", err.Error())
				conn.Close()
			}
		})
		logger.Info("publishing events", "subject", cfg.NATS.Subject)
	}
	return forwarders, closeAll, nil
}

// showProgress runs a spinner naming the current check until the returned
// stop function is called.
func showProgress(hub *telemetry.Hub, out *terminal.Writer, quiet bool, total int) func() {
	if quiet || !out.Interactive() {
		return func() {}
	}
	events, unsubscribe := hub.Subscribe()
	spinner := terminal.NewSpinnerWithOutput(out.Output(), "Starting browser")
	spinner.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		started := 0
		for ev := range events {
			if ev.Type == telemetry.EventCheckStarted {
				started++
				spinner.SetMessage(progressMessage(ev.Check, started, total))
			}
		}
	}()
	return func() {
		unsubscribe()
		<-done
		spinner.Stop()
	}
}

func progressMessage(check string, n, total int) string {
	return fmt.Sprintf("[%d/%d] %s", n, total, check)
}

// replayRun scores a recorded JSON lines event log. Results are never
// recorded, so the rating reflects console and network findings only.
func replayRun(ctx context.Context, cfg *config.Config, path string, logger *observability.Logger, metrics *observability.Metrics) (*report.RunReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, webprobeerrors.Wrap(err, webprobeerrors.ErrCodeIngestSource, "opening event log").
			WithContext("path", path).
			WithUserMessage("Could not open the event log " + path)
	}
	defer f.Close()

	agg := report.NewAggregator(report.WithAPIPathFragment(cfg.Report.APIPathFragment))
	logger = logger.WithRun(agg.RunID())
	stats, err := ingest.ReplayJSONL(ctx, f, agg, ingest.Options{
		Logger:   logger,
		Observer: ingest.MetricsObserver{Metrics: metrics},
	})
	if err != nil {
		return nil, err
	}
	logStats(logger, "replay finished", stats)

	rep := agg.Finalize(time.Time{})
	metrics.ObserveReport(rep)
	return rep, nil
}

// listenRun scores events received on the NATS subject until the listen
// window closes or the process is interrupted.
func listenRun(ctx context.Context, cfg *config.Config, window time.Duration, logger *observability.Logger, metrics *observability.Metrics, out *terminal.Writer, quiet bool) (*report.RunReport, error) {
	conn, err := ingest.DialNATS(cfg.NATS)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	agg := report.NewAggregator(report.WithAPIPathFragment(cfg.Report.APIPathFragment))
	logger = logger.WithRun(agg.RunID())
	source := ingest.NewNATSSource(conn, cfg.NATS.Subject, ingest.Options{
		Logger:   logger,
		Observer: ingest.MetricsObserver{Metrics: metrics},
	})

	if !quiet {
		out.Info("Listening on %s for %s", cfg.NATS.Subject, window)
	}
	// An interrupt ends the window early; whatever arrived is still scored.
	listenCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	stats, err := source.Run(listenCtx, agg)
	if err != nil {
		return nil, err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Warn("listen interrupted", "window", window.String())
	}
	logStats(logger, "listen finished", stats)

	rep := agg.Finalize(time.Time{})
	metrics.ObserveReport(rep)
	return rep, nil
}

func logStats(logger *observability.Logger, msg string, stats ingest.Stats) {
	attrs := []any{
		"lines", stats.Lines,
		"applied", stats.Applied,
		"malformed", stats.Malformed,
	}
	for kind, n := range stats.ByKind {
		attrs = append(attrs, string(kind), n)
	}
	logger.Info(msg, attrs...)
}
