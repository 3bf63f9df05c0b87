package halfduplex

import (
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srgg/ptyhalfduplex/pkg/config"
)

// Manager is a concurrent registry of named sessions, not named in spec.md's
// interface table but a natural extension when one process wants to drive
// several scripted slaves at once (a CLI or a test harness).
type Manager struct {
	cfg      *config.Config
	log      *logrus.Logger
	sessions *hashmap.Map[string, *Session]
}

// NewManager creates an empty session registry.
func NewManager(cfg *config.Config, log *logrus.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = cfg.NewLogger()
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		sessions: hashmap.New[string, *Session](),
	}
}

// Spawn creates and starts a new named session. It is an error to reuse a
// name whose session is still active.
func (m *Manager) Spawn(name string, argv []string) (*Session, error) {
	if existing, ok := m.sessions.Get(name); ok && existing.IsActive() {
		return nil, fmt.Errorf("halfduplex: session %q already active", name)
	}

	sess := NewSession(m.cfg, m.log)
	if err := sess.Spawn(argv); err != nil {
		return nil, err
	}
	m.sessions.Set(name, sess)
	return sess, nil
}

// Get returns a named session and whether it is registered.
func (m *Manager) Get(name string) (*Session, bool) {
	return m.sessions.Get(name)
}

// Close closes and removes a named session.
func (m *Manager) Close(name string) error {
	sess, ok := m.sessions.Get(name)
	if !ok {
		return ErrNotActive
	}
	err := sess.Close()
	m.sessions.Del(name)
	return err
}

// Names returns the currently registered session names, in no particular
// order.
func (m *Manager) Names() []string {
	names := make([]string, 0, m.sessions.Len())
	m.sessions.Range(func(name string, _ *Session) bool {
		names = append(names, name)
		return true
	})
	return names
}

// CloseAll closes every registered session, returning the first error
// encountered (if any) while still attempting to close the rest.
func (m *Manager) CloseAll() error {
	var firstErr error
	m.sessions.Range(func(_ string, sess *Session) bool {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}
