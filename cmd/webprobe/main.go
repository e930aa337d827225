package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/webprobe/pkg/config"
	webprobeerrors "github.com/odvcencio/webprobe/pkg/errors"
	"github.com/odvcencio/webprobe/pkg/observability"
	"github.com/odvcencio/webprobe/pkg/report"
	"github.com/odvcencio/webprobe/pkg/telemetry"
	"github.com/odvcencio/webprobe/pkg/terminal"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	baseURL    string
	out        string
	metricsOut string
	replay     string
	record     string
	natsURL    string
	listen     time.Duration
	trace      bool
	quiet      bool
	version    bool
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("webprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to a config file (default: ~/.webprobe/config.yaml then ./webprobe.yaml)")
	fs.StringVar(&opts.baseURL, "url", "", "Base URL of the app under test")
	fs.StringVar(&opts.out, "out", "", "Where to write the text report")
	fs.StringVar(&opts.metricsOut, "metrics-out", "", "Write Prometheus metrics in textfile format to this path")
	fs.StringVar(&opts.replay, "replay", "", "Score a recorded JSON lines event log instead of driving a browser")
	fs.StringVar(&opts.record, "record", "", "Record every live browser event to this JSON lines file")
	fs.StringVar(&opts.natsURL, "nats", "", "NATS server URL; live runs publish events, -listen subscribes")
	fs.DurationVar(&opts.listen, "listen", 0, "Score events received on the NATS subject for this long")
	fs.BoolVar(&opts.trace, "trace", false, "Export OpenTelemetry spans")
	fs.BoolVar(&opts.quiet, "quiet", false, "Suppress progress and summary output")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.replay != "" && opts.listen > 0 {
		return opts, errors.New("-replay and -listen cannot be combined")
	}
	if opts.record != "" && (opts.replay != "" || opts.listen > 0) {
		return opts, errors.New("-record only applies to live runs")
	}
	if opts.listen < 0 {
		return opts, errors.New("-listen must be positive")
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	if opts.version {
		fmt.Fprintf(stdout, "webprobe %s (commit %s, built %s)\n", version, commit, buildDate)
		return exitOK
	}

	out := terminal.NewWithOutput(stdout)
	if err := execute(ctx, opts, out, stdout, stderr); err != nil {
		out.Error("%s", userMessage(err))
		if e, ok := webprobeerrors.As(err); ok {
			for _, tip := range e.Remediation {
				out.Dim("  %s", tip)
			}
		}
		return exitCodeForError(err)
	}
	return exitOK
}

func userMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "interrupted"
	}
	if e, ok := webprobeerrors.As(err); ok && e.UserMessage != "" {
		return e.UserMessage
	}
	return err.Error()
}

func execute(ctx context.Context, opts options, out *terminal.Writer, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	if opts.listen > 0 && cfg.NATS.URL == "" {
		return withExitCode(errors.New("-listen needs a NATS server: pass -nats or set nats.url"), exitConfig)
	}

	logger, closeLog, err := openLogger(cfg, stderr)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	defer closeLog()

	stopTracing, err := startTracing(cfg, stdout)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	defer stopTracing()

	metrics := observability.NewMetrics()
	hub := telemetry.NewHub()
	defer hub.Close()

	var rep *report.RunReport
	switch {
	case opts.replay != "":
		rep, err = replayRun(ctx, cfg, opts.replay, logger, metrics)
	case opts.listen > 0:
		rep, err = listenRun(ctx, cfg, opts.listen, logger, metrics, out, opts.quiet)
	default:
		rep, err = liveRun(ctx, cfg, opts.record, logger, metrics, hub, out, opts.quiet)
	}
	if err != nil {
		return err
	}
	return writeOutputs(cfg, rep, logger, metrics, out, opts.quiet)
}

// loadConfig loads the config file hierarchy and applies command line overrides.
func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.out != "" {
		cfg.Report.Path = opts.out
	}
	if opts.metricsOut != "" {
		cfg.Report.MetricsPath = opts.metricsOut
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
	}
	if opts.trace {
		cfg.Tracing.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openLogger(cfg *config.Config, stderr io.Writer) (*observability.Logger, func(), error) {
	level := observability.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Path == "" {
		return observability.NewLoggerTo(stderr, "cli", level), func() {}, nil
	}
	f, err := os.OpenFile(cfg.Logging.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, webprobeerrors.Wrap(err, webprobeerrors.ErrCodeConfigInvalid, "opening log file").
			WithContext("path", cfg.Logging.Path)
	}
	return observability.NewLoggerTo(f, "cli", level), func() { _ = f.Close() }, nil
}

func startTracing(cfg *config.Config, stdout io.Writer) (func(), error) {
	if !cfg.Tracing.Enabled {
		return func() {}, nil
	}
	w := stdout
	var f *os.File
	if cfg.Tracing.Path != "" {
		var err error
		f, err = os.Create(cfg.Tracing.Path)
		if err != nil {
			return nil, webprobeerrors.Wrap(err, webprobeerrors.ErrCodeConfigInvalid, "creating trace file").
				WithContext("path", cfg.Tracing.Path)
		}
		w = f
	}
	tp, err := observability.NewTracerProvider("webprobe", version, w)
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
		if f != nil {
			_ = f.Close()
		}
	}, nil
}

// writeOutputs writes the report artifact and metrics, prints the summary and
// turns failed results into exit code 1.
func writeOutputs(cfg *config.Config, rep *report.RunReport, logger *observability.Logger, metrics *observability.Metrics, out *terminal.Writer, quiet bool) error {
	renderer := report.NewRenderer(cfg.Title)
	renderer.ErrorLimit = cfg.Report.ErrorLimit
	renderer.WarningLimit = cfg.Report.WarningLimit
	renderer.APICallLimit = cfg.Report.APICallLimit
	if cfg.Report.APIPathFragment != "" {
		renderer.APIPathFragment = cfg.Report.APIPathFragment
	}

	if err := renderer.WriteFile(cfg.Report.Path, rep); err != nil {
		return webprobeerrors.Wrap(err, webprobeerrors.ErrCodeReportWrite, "writing report").
			WithContext("path", cfg.Report.Path)
	}
	logger.ReportWritten(cfg.Report.Path, len(renderer.Render(rep)))

	if cfg.Report.MetricsPath != "" {
		if err := metrics.WriteTextfile(cfg.Report.MetricsPath); err != nil {
			return err
		}
	}

	if !quiet {
		out.Summary(rep, cfg.Report.Path)
	}
	if failed := rep.Failed(); failed > 0 {
		return withExitCode(fmt.Errorf("%d of %d checks failed", failed, len(rep.Results)), exitFailures)
	}
	return nil
}
