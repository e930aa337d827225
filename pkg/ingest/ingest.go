// Package ingest feeds browser events into a run aggregator, live from a
// session, from a NATS subject or replayed from a JSON lines log.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/report"
)

var (
	// ErrUnknownKind is returned for events whose kind is not console, request or response.
	ErrUnknownKind = errors.New("unknown event kind")
)

// Sink receives decoded observations. *report.Aggregator implements it.
type Sink interface {
	RecordConsole(report.ConsoleEvent)
	RecordRequest(report.NetworkEvent)
	RecordResponse(key report.RequestKey, status *int, timingStart, timingEnd *float64)
}

var _ Sink = (*report.Aggregator)(nil)

// Observer is told about every event Apply handled or rejected. Both
// methods may be called from any goroutine.
type Observer interface {
	Applied(kind browser.EventKind)
	Rejected(source string, err error)
}

// Apply maps one browser event onto the matching record call. Nothing is
// recorded when an error is returned. A response without a status still
// resolves its request and keeps its timing.
func Apply(sink Sink, ev browser.Event) error {
	switch ev.Kind {
	case browser.EventConsole:
		sink.RecordConsole(report.ConsoleEvent{
			Severity:   report.ParseSeverity(ev.Severity),
			Message:    ev.Text,
			ObservedAt: ev.Time,
		})
	case browser.EventRequest:
		sink.RecordRequest(report.NetworkEvent{
			URL:          ev.URL,
			Method:       ev.Method,
			ResourceType: ev.ResourceType,
			RequestedAt:  ev.Time,
		})
	case browser.EventResponse:
		sink.RecordResponse(report.RequestKey{URL: ev.URL, Method: ev.Method}, ev.Status, ev.TimingStart, ev.TimingEnd)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	return nil
}

// Forwarder receives every session event before it is applied, for
// recording or republishing.
type Forwarder interface {
	Forward(browser.Event) error
}

// Pump applies events from ch until it is closed or ctx is done. Events are
// handed to opts.Forward first; forwarding errors are logged and do not stop
// the pump. Events that cannot be applied are reported and skipped. It
// returns ctx.Err() on cancellation and nil once ch is drained.
func Pump(ctx context.Context, ch <-chan browser.Event, sink Sink, opts Options) error {
	warn := newWarner(opts.Logger, opts.WarnRate)
	defer warn.flush()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			seq++
			for _, fwd := range opts.Forward {
				if err := fwd.Forward(ev); err != nil && opts.Logger != nil {
					opts.Logger.Warn("forward event failed", "error", err.Error())
				}
			}
			normalizeKind(&ev)
			if err := Apply(sink, ev); err != nil {
				warn.warn("session", seq, err)
				if opts.Observer != nil {
					opts.Observer.Rejected("session", err)
				}
				continue
			}
			if opts.Observer != nil {
				opts.Observer.Applied(ev.Kind)
			}
		}
	}
}

// normalizeKind lets logs written by other tools use any case for the kind.
func normalizeKind(ev *browser.Event) {
	ev.Kind = browser.EventKind(strings.ToLower(strings.TrimSpace(string(ev.Kind))))
}
