package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/odvcencio/webprobe/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	id       string
	closed   int
	closeErr error
}

func (s *stubSession) ID() string { return s.id }
func (s *stubSession) Navigate(context.Context, string) error { return nil }
func (s *stubSession) Count(context.Context, string) (int, error) { return 0, nil }
func (s *stubSession) Click(context.Context, string) error { return nil }
func (s *stubSession) Type(context.Context, string, string) error { return nil }
func (s *stubSession) Press(context.Context, string, ...KeyModifier) error { return nil }
func (s *stubSession) Events() <-chan Event { return nil }
func (s *stubSession) Evaluate(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage("null"), nil
}
func (s *stubSession) Close() error {
	s.closed++
	return s.closeErr
}

type stubRuntime struct {
	sessions []*stubSession
	newErr   error
	closed   bool
}

func (r *stubRuntime) NewSession(_ context.Context, cfg SessionConfig) (Session, error) {
	if r.newErr != nil {
		return nil, r.newErr
	}
	s := &stubSession{id: cfg.SessionID}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *stubRuntime) Close() error {
	r.closed = true
	return nil
}

func TestManager_CreateSessionAssignsID(t *testing.T) {
	rt := &stubRuntime{}
	m := NewManager(rt)

	sess, err := m.CreateSession(context.Background(), DefaultSessionConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())

	got, ok := m.GetSession(sess.ID())
	require.True(t, ok)
	assert.Same(t, sess, got)
}

func TestManager_DuplicateSession(t *testing.T) {
	m := NewManager(&stubRuntime{})
	cfg := DefaultSessionConfig()
	cfg.SessionID = "fixed"

	_, err := m.CreateSession(context.Background(), cfg)
	require.NoError(t, err)
	_, err = m.CreateSession(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestManager_RuntimeError(t *testing.T) {
	boom := errors.New("chrome missing")
	m := NewManager(&stubRuntime{newErr: boom})
	_, err := m.CreateSession(context.Background(), DefaultSessionConfig())
	assert.ErrorIs(t, err, boom)

	var nilManager *Manager
	_, err = nilManager.CreateSession(context.Background(), DefaultSessionConfig())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestManager_CloseSession(t *testing.T) {
	rt := &stubRuntime{}
	m := NewManager(rt)
	sess, err := m.CreateSession(context.Background(), DefaultSessionConfig())
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(sess.ID()))
	assert.Equal(t, 1, rt.sessions[0].closed)
	assert.ErrorIs(t, m.CloseSession(sess.ID()), ErrSessionClosed)
}

func TestManager_CloseAll(t *testing.T) {
	rt := &stubRuntime{}
	m := NewManager(rt)
	for i := 0; i < 3; i++ {
		_, err := m.CreateSession(context.Background(), DefaultSessionConfig())
		require.NoError(t, err)
	}
	rt.sessions[1].closeErr = errors.New("socket gone")
	rt.sessions[2].closeErr = ErrSessionClosed

	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket gone")
	assert.True(t, rt.closed)
	for _, s := range rt.sessions {
		assert.Equal(t, 1, s.closed)
	}
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.Equal(t, 1920, cfg.Viewport.Width)
	assert.Equal(t, 1080, cfg.Viewport.Height)
	assert.True(t, cfg.Headless)
	assert.True(t, cfg.PreciseMemory)
	assert.Positive(t, cfg.EventBuffer)
}

func TestParseKeyModifier(t *testing.T) {
	tests := map[string]KeyModifier{
		"Meta":    KeyModifierMeta,
		"cmd":     KeyModifierMeta,
		"control": KeyModifierCtrl,
		"shift":   KeyModifierShift,
		" alt ":   KeyModifierAlt,
	}
	for raw, want := range tests {
		got, ok := ParseKeyModifier(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseKeyModifier("hyper")
	assert.False(t, ok)
}

func TestDriverErrors(t *testing.T) {
	base := errors.New("websocket closed")
	err := WrapDriverError(CodeConnectionLost, "navigate", base)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsConnectionError(err))
	assert.True(t, IsConnectionError(fmt.Errorf("outer: %w", ErrConnectionLost)))
	assert.False(t, IsConnectionError(NewDriverError(CodeInput, "bad key")))
	assert.False(t, IsConnectionError(nil))
	assert.Equal(t, "browser driver error [input]: bad key", NewDriverError(CodeInput, "bad key").Error())

	assert.True(t, IsTimeout(NewDriverError(CodeTimeout, "evaluate")))
	assert.True(t, IsTimeout(fmt.Errorf("x: %w", ErrOperationTimeout)))
	assert.False(t, IsTimeout(base))
}

func TestMetrics_SnapshotAndTelemetry(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	ch, unsub := hub.Subscribe()
	defer unsub()

	m := NewMetrics()
	m.EnableTelemetry(hub, "run-1")
	m.RecordSessionCreated("s1")
	m.RecordNavigate("s1", "http://localhost:3000", 20*time.Millisecond)
	m.RecordNavigate("s1", "http://localhost:3000/assets", 40*time.Millisecond)
	m.RecordAction("s1", "click", true, time.Millisecond)
	m.RecordAction("s1", "press", false, time.Millisecond)
	m.RecordEvaluate()
	m.RecordEventDelivered()
	m.RecordEventDropped("s1")
	m.RecordEventDropped("s1")
	m.RecordSessionClosed("s1")

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.SessionsCreated)
	assert.Equal(t, int64(0), snap.ActiveSessions)
	assert.Equal(t, int64(2), snap.NavigateCount)
	assert.Equal(t, 30*time.Millisecond, snap.AverageNavigate)
	assert.Equal(t, 0.5, snap.ActionSuccessRate)
	assert.Equal(t, int64(2), snap.EventsDropped)
	assert.Equal(t, int64(1), snap.EvaluateCount)

	var types []telemetry.EventType
	for len(ch) > 0 {
		ev := <-ch
		assert.Equal(t, "run-1", ev.RunID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []telemetry.EventType{
		telemetry.EventBrowserSessionCreated,
		telemetry.EventBrowserNavigate,
		telemetry.EventBrowserNavigate,
		telemetry.EventBrowserAction,
		telemetry.EventBrowserActionFailed,
		telemetry.EventBrowserEventsDropped,
		telemetry.EventBrowserSessionClosed,
	}, types)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSessionCreated("x")
		m.RecordAction("x", "click", true, 0)
		m.RecordEventDropped("x")
	})
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}
