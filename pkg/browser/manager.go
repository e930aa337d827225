package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Manager tracks active browser sessions for a runtime.
type Manager struct {
	runtime  Runtime
	sessions map[string]Session
	mu       sync.Mutex
}

// NewManager creates a Manager backed by the provided runtime.
func NewManager(runtime Runtime) *Manager {
	return &Manager{
		runtime:  runtime,
		sessions: make(map[string]Session),
	}
}

// CreateSession allocates a new browser session. An empty SessionID is
// replaced with a generated one.
func (m *Manager) CreateSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if m == nil || m.runtime == nil {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		cfg.SessionID = NewSessionID()
	}
	m.mu.Lock()
	if _, exists := m.sessions[cfg.SessionID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, cfg.SessionID)
	}
	m.mu.Unlock()

	sess, err := m.runtime.NewSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[cfg.SessionID] = sess
	m.mu.Unlock()
	return sess, nil
}

// GetSession returns a session by ID.
func (m *Manager) GetSession(sessionID string) (Session, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// CloseSession closes and removes a session.
func (m *Manager) CloseSession(sessionID string) error {
	if m == nil {
		return ErrUnavailable
	}
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok || sess == nil {
		return ErrSessionClosed
	}
	return sess.Close()
}

// Close closes all sessions and releases the runtime.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if sess == nil {
			continue
		}
		if err := sess.Close(); err != nil && !errors.Is(err, ErrSessionClosed) {
			errs = append(errs, err)
		}
	}
	if m.runtime != nil {
		if err := m.runtime.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
