package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/odvcencio/webprobe/pkg/browser"
)

// Session drives one Chrome tab and streams its console and network events.
type Session struct {
	id      string
	cfg     Config
	tabCtx  context.Context
	cancel  context.CancelFunc
	metrics *browser.Metrics
	tracker *tracker

	mu     sync.RWMutex
	closed bool
	events chan browser.Event
}

// ID returns the session identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Events streams observations until the session is closed.
func (s *Session) Events() <-chan browser.Event {
	return s.events
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	err := s.run(ctx, s.cfg.NavigateTimeout, chromedp.Navigate(url))
	if err != nil {
		return s.wrap(browser.CodeNavigation, "navigate "+url, err)
	}
	s.metrics.RecordNavigate(s.id, url, time.Since(start))
	return nil
}

// Evaluate runs expression in the page, awaiting promises, and returns the
// JSON value it produced. An undefined result is returned as null.
func (s *Session) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	var raw []byte
	err := s.run(ctx, s.cfg.OperationTimeout, chromedp.Evaluate(expression, &raw, awaitPromise))
	s.metrics.RecordEvaluate()
	if err != nil {
		return nil, s.wrap(browser.CodeEvaluation, "evaluate", err)
	}
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(raw), nil
}

// Count returns the number of elements matching selector in the current DOM.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var document string
	if err := s.run(ctx, s.cfg.OperationTimeout, chromedp.OuterHTML("html", &document, chromedp.ByQuery)); err != nil {
		return 0, s.wrap(browser.CodeEvaluation, "snapshot document", err)
	}
	return countMatches(document, selector)
}

// Click clicks the first element matching selector once it is visible.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.act(ctx, "click", chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Type sends text to selector, or to the focused element when selector is empty.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	if selector == "" {
		return s.act(ctx, "type", chromedp.KeyEvent(text))
	}
	return s.act(ctx, "type", chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Press dispatches a single key, optionally with modifiers held.
func (s *Session) Press(ctx context.Context, key string, modifiers ...browser.KeyModifier) error {
	var opts []chromedp.KeyOption
	if mods := inputModifiers(modifiers); len(mods) > 0 {
		opts = append(opts, chromedp.KeyModifiers(mods...))
	}
	return s.act(ctx, "press", chromedp.KeyEvent(keySequence(key), opts...))
}

// Close shuts the tab and the browser process. Responses whose body never
// finished are delivered first. Safe to call more than once.
func (s *Session) Close() error {
	for _, ev := range s.tracker.flush() {
		s.emit(ev)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	s.cancel()
	s.metrics.RecordSessionClosed(s.id)
	return nil
}

func (s *Session) act(ctx context.Context, name string, action chromedp.Action) error {
	start := time.Now()
	err := s.run(ctx, s.cfg.OperationTimeout, action)
	s.metrics.RecordAction(s.id, name, err == nil, time.Since(start))
	if err != nil {
		return s.wrap(browser.CodeInput, name, err)
	}
	return nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return browser.ErrSessionClosed
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) wrap(code, message string, err error) error {
	switch {
	case errors.Is(err, browser.ErrSessionClosed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return browser.WrapDriverError(browser.CodeTimeout, message, fmt.Errorf("%w: %w", browser.ErrOperationTimeout, err))
	case s.tabCtx.Err() != nil:
		return browser.WrapDriverError(browser.CodeConnectionLost, message, fmt.Errorf("%w: %w", browser.ErrConnectionLost, err))
	}
	return browser.WrapDriverError(code, message, err)
}

// emit hands an event to the channel without blocking the CDP reader.
func (s *Session) emit(ev browser.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
		s.metrics.RecordEventDelivered()
	default:
		s.metrics.RecordEventDropped(s.id)
	}
}

func (s *Session) listen(ev any) {
	for _, out := range s.tracker.convert(ev) {
		s.emit(out)
	}
}

func awaitPromise(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
	return p.WithAwaitPromise(true)
}
