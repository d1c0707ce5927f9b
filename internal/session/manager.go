package session

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the live sessions and shares one set of pipeline
// collaborators among them.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it when absent. An empty
// id gets a generated one. The second return reports creation.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		m.mu.RLock()
		s, ok := m.sessions[id]
		m.mu.RUnlock()
		if ok {
			return s, false
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s, false
		}
	}
	s := New(id, m.cfg, m.deps)
	m.sessions[s.ID] = s
	m.deps.Metrics.SessionOpened()
	m.deps.Logger.Info("session created", zap.String("session_id", s.ID))
	return s, true
}

// Get looks up an existing session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List snapshots every session, ordered by id.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the live session count.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	m.deps.Metrics.SessionClosed()
	m.deps.Logger.Info("session removed", zap.String("session_id", id))
	return true
}

// CloseAll closes every session and empties the manager.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		m.deps.Metrics.SessionClosed()
	}
}
