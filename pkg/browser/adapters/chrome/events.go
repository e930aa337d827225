package chrome

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"

	"github.com/odvcencio/webprobe/pkg/browser"
)

type requestInfo struct {
	url    string
	method string
}

// heldResponse waits for loadingFinished so its timing can cover the body.
type heldResponse struct {
	ev          browser.Event
	requestTime float64
}

// tracker converts CDP events into browser events. Responses carry no
// method, so in-flight requests are remembered by request ID. A response is
// emitted once its body has finished loading, or failed.
type tracker struct {
	mu        sync.Mutex
	requests  map[network.RequestID]requestInfo
	responses map[network.RequestID]heldResponse
	now       func() time.Time
}

func newTracker(now func() time.Time) *tracker {
	if now == nil {
		now = time.Now
	}
	return &tracker{
		requests:  make(map[network.RequestID]requestInfo),
		responses: make(map[network.RequestID]heldResponse),
		now:       now,
	}
}

// convert returns the browser events for a CDP event, or nil when the event
// is not observed.
func (t *tracker) convert(ev any) []browser.Event {
	switch ev := ev.(type) {
	case *cdpruntime.EventConsoleAPICalled:
		return []browser.Event{consoleEvent(ev, t.now())}
	case *cdplog.EventEntryAdded:
		if ev.Entry == nil {
			return nil
		}
		return []browser.Event{logEvent(ev.Entry, t.now())}
	case *network.EventRequestWillBeSent:
		return t.requestWillBeSent(ev)
	case *network.EventResponseReceived:
		return t.responseReceived(ev)
	case *network.EventLoadingFinished:
		return t.loadingFinished(ev)
	case *network.EventLoadingFailed:
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.requests, ev.RequestID)
		if held, ok := t.responses[ev.RequestID]; ok {
			delete(t.responses, ev.RequestID)
			return []browser.Event{held.ev}
		}
	}
	return nil
}

// flush returns responses still waiting for their body, such as streams
// that never finish.
func (t *tracker) flush() []browser.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]browser.Event, 0, len(t.responses))
	for id, held := range t.responses {
		out = append(out, held.ev)
		delete(t.responses, id)
	}
	return out
}

func (t *tracker) requestWillBeSent(ev *network.EventRequestWillBeSent) []browser.Event {
	if ev.Request == nil {
		return nil
	}
	at := wallTime(ev.WallTime, t.now)

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []browser.Event
	// A redirect reuses the request ID; the hop that just finished gets its response first.
	if ev.RedirectResponse != nil {
		prev, ok := t.requests[ev.RequestID]
		if !ok {
			prev = requestInfo{url: ev.RedirectResponse.URL, method: ev.Request.Method}
		}
		out = append(out, responseEvent(prev, ev.RedirectResponse, at))
	}
	t.requests[ev.RequestID] = requestInfo{url: ev.Request.URL, method: ev.Request.Method}
	out = append(out, browser.Event{
		Kind:         browser.EventRequest,
		Time:         at,
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: strings.ToLower(string(ev.Type)),
	})
	return out
}

func (t *tracker) responseReceived(ev *network.EventResponseReceived) []browser.Event {
	if ev.Response == nil {
		return nil
	}
	t.mu.Lock()
	info, ok := t.requests[ev.RequestID]
	delete(t.requests, ev.RequestID)
	t.mu.Unlock()
	if !ok {
		info = requestInfo{url: ev.Response.URL}
	}
	held := heldResponse{ev: responseEvent(info, ev.Response, t.now())}
	if ev.Response.Timing != nil {
		held.requestTime = ev.Response.Timing.RequestTime
	}
	t.mu.Lock()
	t.responses[ev.RequestID] = held
	t.mu.Unlock()
	return nil
}

// loadingFinished emits the held response with TimingEnd moved to the end
// of the body, in milliseconds relative to the request time.
func (t *tracker) loadingFinished(ev *network.EventLoadingFinished) []browser.Event {
	t.mu.Lock()
	held, ok := t.responses[ev.RequestID]
	delete(t.responses, ev.RequestID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	out := held.ev
	if out.TimingStart != nil && held.requestTime > 0 && ev.Timestamp != nil && cdp.MonotonicTimeEpoch != nil {
		finished := ev.Timestamp.Time().Sub(*cdp.MonotonicTimeEpoch).Seconds()
		if end := (finished - held.requestTime) * 1000; end >= *out.TimingStart {
			out.TimingEnd = &end
		}
	}
	return []browser.Event{out}
}

func responseEvent(info requestInfo, resp *network.Response, at time.Time) browser.Event {
	status := int(resp.Status)
	url := info.url
	if url == "" {
		url = resp.URL
	}
	out := browser.Event{
		Kind:   browser.EventResponse,
		Time:   at,
		URL:    url,
		Method: info.method,
		Status: &status,
	}
	if t := resp.Timing; t != nil && t.SendStart >= 0 && t.ReceiveHeadersEnd >= 0 {
		start, end := t.SendStart, t.ReceiveHeadersEnd
		out.TimingStart = &start
		out.TimingEnd = &end
	}
	return out
}

func consoleEvent(ev *cdpruntime.EventConsoleAPICalled, now time.Time) browser.Event {
	at := now
	if ev.Timestamp != nil {
		at = ev.Timestamp.Time()
	}
	parts := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		if s := remoteObjectText(arg); s != "" {
			parts = append(parts, s)
		}
	}
	return browser.Event{
		Kind:     browser.EventConsole,
		Time:     at,
		Severity: consoleSeverity(ev.Type),
		Text:     strings.Join(parts, " "),
	}
}

func logEvent(entry *cdplog.Entry, now time.Time) browser.Event {
	at := now
	if entry.Timestamp != nil {
		at = entry.Timestamp.Time()
	}
	text := entry.Text
	if entry.URL != "" && !strings.Contains(text, entry.URL) {
		text += " (" + entry.URL + ")"
	}
	return browser.Event{
		Kind:     browser.EventConsole,
		Time:     at,
		Severity: string(entry.Level),
		Text:     text,
	}
}

func consoleSeverity(t cdpruntime.APIType) string {
	switch t {
	case cdpruntime.APITypeError, cdpruntime.APITypeAssert:
		return "error"
	case cdpruntime.APITypeWarning:
		return "warning"
	case cdpruntime.APITypeInfo:
		return "info"
	case cdpruntime.APITypeDebug:
		return "debug"
	default:
		return "log"
	}
}

func remoteObjectText(obj *cdpruntime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		if obj.Type == cdpruntime.TypeString {
			var s string
			if err := json.Unmarshal(obj.Value, &s); err == nil {
				return s
			}
		}
		return string(obj.Value)
	}
	if obj.UnserializableValue != "" {
		return string(obj.UnserializableValue)
	}
	return obj.Description
}

func wallTime(ts *cdp.TimeSinceEpoch, now func() time.Time) time.Time {
	if ts == nil {
		return now()
	}
	return ts.Time()
}
