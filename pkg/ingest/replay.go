package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/errors"
	"github.com/odvcencio/webprobe/pkg/observability"
)

const maxLineBytes = 4 << 20

// Stats summarizes one ingestion pass.
type Stats struct {
	Lines     int
	Applied   int
	Malformed int
	ByKind    map[browser.EventKind]int
}

func (s *Stats) count(kind browser.EventKind) {
	if s.ByKind == nil {
		s.ByKind = make(map[browser.EventKind]int)
	}
	s.ByKind[kind]++
	s.Applied++
}

// Options tune ReplayJSONL and NATSSource.
type Options struct {
	Logger   *observability.Logger
	Observer Observer
	// WarnRate bounds malformed-event log lines per second. Zero means 5.
	WarnRate rate.Limit
	// Forward is only used by Pump.
	Forward []Forwarder
}

// ReplayJSONL applies one browser event per line of r. Blank lines are
// ignored; lines that do not decode or apply are skipped and counted.
// Reading stops at EOF, on a read error or when ctx is done.
func ReplayJSONL(ctx context.Context, r io.Reader, sink Sink, opts Options) (Stats, error) {
	var stats Stats
	warn := newWarner(opts.Logger, opts.WarnRate)
	defer warn.flush()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ev, err := decodeEvent([]byte(line))
		if err == nil {
			err = Apply(sink, ev)
		}
		if err != nil {
			stats.Malformed++
			warn.warn("replay", stats.Lines, err)
			if opts.Observer != nil {
				opts.Observer.Rejected("replay", err)
			}
			continue
		}
		stats.count(ev.Kind)
		if opts.Observer != nil {
			opts.Observer.Applied(ev.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, errors.Wrap(err, errors.ErrCodeIngestSource, "reading event log").
			WithContext("line", stats.Lines+1)
	}
	return stats, nil
}

func decodeEvent(data []byte) (browser.Event, error) {
	var ev browser.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return browser.Event{}, errors.Wrap(err, errors.ErrCodeIngestDecode, "decoding event")
	}
	normalizeKind(&ev)
	return ev, nil
}

// JSONLWriter records events one JSON object per line, in the format
// ReplayJSONL reads back. It is safe for concurrent use.
type JSONLWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLWriter wraps w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// Forward implements Forwarder.
func (j *JSONLWriter) Forward(ev browser.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

// warner logs malformed events without flooding the log when a source is
// mostly garbage. Suppressed warnings are summarized on flush.
type warner struct {
	logger  *observability.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int
}

func newWarner(logger *observability.Logger, limit rate.Limit) *warner {
	if limit <= 0 {
		limit = 5
	}
	return &warner{
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (w *warner) warn(source string, line int, err error) {
	if w.logger == nil {
		return
	}
	if !w.limiter.Allow() {
		w.mu.Lock()
		w.suppressed++
		w.mu.Unlock()
		return
	}
	w.logger.EventMalformed(source, line, err)
}

func (w *warner) flush() {
	w.mu.Lock()
	n := w.suppressed
	w.suppressed = 0
	w.mu.Unlock()
	if n > 0 && w.logger != nil {
		w.logger.Warn("malformed event warnings suppressed", "count", n)
	}
}

// MetricsObserver counts applied and rejected events on run metrics.
type MetricsObserver struct {
	Metrics *observability.Metrics
}

// Applied implements Observer.
func (o MetricsObserver) Applied(kind browser.EventKind) {
	o.Metrics.EventsIngested.WithLabelValues(string(kind)).Inc()
}

// Rejected implements Observer.
func (o MetricsObserver) Rejected(source string, _ error) {
	o.Metrics.EventsMalformed.WithLabelValues(source).Inc()
}
