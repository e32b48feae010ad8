// Package chat provides the WebSocket-based caller surface for tutoring
// dialogues.
package chat

import (
	"log/slog"
	"sync"
)

// Manager tracks active chat sessions per user. A user may hold one session
// per browser tab; registering a duplicate tab replaces the old session.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Session
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*Session),
	}
}

// GetActive returns the active session for a user and tab, or nil.
func (m *Manager) GetActive(userID, tabID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tabs, ok := m.active[userID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Register adds a session for a user/tab, closing any session it replaces.
func (m *Manager) Register(userID, tabID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*Session)
	}

	if existing, exists := m.active[userID][tabID]; exists && existing != s {
		existing.closeConn("session replaced")
	}

	m.active[userID][tabID] = s
	slog.Info("chat session registered", "user_id", userID, "tab_id", tabID, "session_id", s.ID())
}

// Unregister removes a session for a user/tab if it is still the current one.
func (m *Manager) Unregister(userID, tabID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tabs, ok := m.active[userID]; ok {
		if current, exists := tabs[tabID]; exists && current == s {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(m.active, userID)
			}
			slog.Info("chat session unregistered", "user_id", userID, "tab_id", tabID)
		}
	}
}
