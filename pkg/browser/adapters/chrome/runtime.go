// Package chrome implements the browser port on top of Chrome via chromedp.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/odvcencio/webprobe/pkg/browser"
)

// Runtime launches one Chrome process per session.
type Runtime struct {
	cfg     Config
	metrics *browser.Metrics
}

// NewRuntime creates a Chrome runtime adapter. metrics may be nil.
func NewRuntime(cfg Config, metrics *browser.Metrics) (*Runtime, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{cfg: merged, metrics: metrics}, nil
}

// NewSession starts Chrome, opens a tab and enables console and network
// domains. The browser lives until the session is closed; ctx only bounds startup.
func (r *Runtime) NewSession(ctx context.Context, sessionCfg browser.SessionConfig) (browser.Session, error) {
	if r == nil {
		return nil, browser.ErrUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(sessionCfg.SessionID) == "" {
		return nil, errors.New("session_id is required")
	}
	buffer := sessionCfg.EventBuffer
	if buffer <= 0 {
		buffer = browser.DefaultSessionConfig().EventBuffer
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(r.cfg, sessionCfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	sess := &Session{
		id:      sessionCfg.SessionID,
		cfg:     r.cfg,
		tabCtx:  tabCtx,
		cancel:  cancel,
		metrics: r.metrics,
		tracker: newTracker(time.Now),
		events:  make(chan browser.Event, buffer),
	}
	chromedp.ListenTarget(tabCtx, sess.listen)

	startCtx, startCancel := context.WithTimeout(tabCtx, r.cfg.NavigateTimeout)
	defer startCancel()
	stop := context.AfterFunc(ctx, startCancel)
	defer stop()

	if err := chromedp.Run(startCtx,
		network.Enable(),
		cdplog.Enable(),
		cdpruntime.Enable(),
	); err != nil {
		cancel()
		return nil, browser.WrapDriverError(browser.CodeUnavailable, "start chrome", fmt.Errorf("%w: %w", browser.ErrUnavailable, err))
	}
	r.metrics.RecordSessionCreated(sess.id)
	return sess, nil
}

// Close releases runtime resources. Sessions own their browser processes.
func (r *Runtime) Close() error {
	return nil
}

func allocatorOptions(cfg Config, sessionCfg browser.SessionConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", sessionCfg.Headless),
		chromedp.WindowSize(sessionCfg.Viewport.Width, sessionCfg.Viewport.Height),
	)
	if sessionCfg.PreciseMemory {
		opts = append(opts, chromedp.Flag("enable-precise-memory-info", true))
	}
	if ua := strings.TrimSpace(sessionCfg.UserAgent); ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for name, value := range cfg.Flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}
