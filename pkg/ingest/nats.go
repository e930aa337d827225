package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/config"
	"github.com/odvcencio/webprobe/pkg/errors"
)

const drainTimeout = 2 * time.Second

// DialNATS connects using the nats section of the configuration.
func DialNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DrainTimeout(drainTimeout),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIngestSource, "nats connect").
			WithContext("url", url)
	}
	return conn, nil
}

// NATSSource applies JSON browser events published on a subject.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	opts    Options
	warn    *warner

	mu    sync.Mutex
	stats Stats
}

// NewNATSSource creates a source reading subject on conn.
func NewNATSSource(conn *nats.Conn, subject string, opts Options) *NATSSource {
	return &NATSSource{
		conn:    conn,
		subject: subject,
		opts:    opts,
		warn:    newWarner(opts.Logger, opts.WarnRate),
	}
}

// Run subscribes and applies messages until ctx is done, then drains the
// subscription so in-flight messages still reach the sink.
func (s *NATSSource) Run(ctx context.Context, sink Sink) (Stats, error) {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		s.handle(sink, msg.Data)
	})
	if err != nil {
		return Stats{}, errors.Wrap(err, errors.ErrCodeIngestSource, "nats subscribe").
			WithContext("subject", s.subject)
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Info("listening for events", "subject", s.subject)
	}

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		_ = sub.Unsubscribe()
	}
	waitDrained(sub, drainTimeout)
	s.warn.flush()
	return s.Stats(), nil
}

// Stats returns a copy of the counters so far.
func (s *NATSSource) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	if s.stats.ByKind != nil {
		out.ByKind = make(map[browser.EventKind]int, len(s.stats.ByKind))
		for k, v := range s.stats.ByKind {
			out.ByKind[k] = v
		}
	}
	return out
}

func (s *NATSSource) handle(sink Sink, data []byte) {
	s.mu.Lock()
	s.stats.Lines++
	seq := s.stats.Lines
	s.mu.Unlock()

	ev, err := decodeEvent(data)
	if err == nil {
		err = Apply(sink, ev)
	}

	s.mu.Lock()
	if err != nil {
		s.stats.Malformed++
	} else {
		s.stats.count(ev.Kind)
	}
	s.mu.Unlock()

	if err != nil {
		s.warn.warn("nats", seq, err)
		if s.opts.Observer != nil {
			s.opts.Observer.Rejected("nats", err)
		}
		return
	}
	if s.opts.Observer != nil {
		s.opts.Observer.Applied(ev.Kind)
	}
}

func waitDrained(sub *nats.Subscription, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// Publisher is the subset of *nats.Conn a NATSForwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes session events so other processes can watch or
// record a live run.
type NATSForwarder struct {
	pub     Publisher
	subject string
}

// NewNATSForwarder creates a forwarder publishing to subject.
func NewNATSForwarder(pub Publisher, subject string) *NATSForwarder {
	return &NATSForwarder{pub: pub, subject: subject}
}

// Forward implements Forwarder.
func (f *NATSForwarder) Forward(ev browser.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := f.pub.Publish(f.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", f.subject, err)
	}
	return nil
}
