package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Socket is the part of *websocket.Conn the session manager needs.
type Socket interface {
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks the active chat socket per user and tab session.
// A newer connection for the same session replaces and closes the old one.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]Socket
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]Socket),
	}
}

// Register adds a connection for a user/session. A previous connection for
// the same session is closed after the lock is released.
func (m *SessionManager) Register(userID, sessionID string, conn Socket) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Socket)
	}
	existing, replaced := m.active[userID][sessionID]
	m.active[userID][sessionID] = conn
	m.mu.Unlock()

	if replaced && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	slog.Info("Chat session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the active one.
func (m *SessionManager) Unregister(userID, sessionID string, conn Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession terminates all active sessions for a user.
func (m *SessionManager) CloseSession(userID string) {
	m.mu.Lock()
	sessions := m.active[userID]
	delete(m.active, userID)
	m.mu.Unlock()

	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusNormalClosure, "conversation reset")
		slog.Info("Chat session closed", "user_id", userID, "session_id", sid)
	}
}

// CloseAll terminates every session, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	var conns []Socket
	for userID, sessions := range m.active {
		for _, conn := range sessions {
			conns = append(conns, conn)
		}
		delete(m.active, userID)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
