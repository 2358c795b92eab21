package pty

import (
	"sync"
)

// connection pairs a live Session with the workspace it belongs to, so
// the manager can close every terminal for a workspace on stop/delete.
type connection struct {
	workspaceName string
	session       *Session
}

// Manager tracks every open terminal connection. It implements
// workspace.PTYCloser without importing the workspace package: the
// method signature alone satisfies that interface.
type Manager struct {
	mu       sync.Mutex
	conns    map[int]*connection
	nextID   int
	byWSName map[string]map[int]struct{}
}

// NewManager returns an empty connection tracker.
func NewManager() *Manager {
	return &Manager{
		conns:    make(map[int]*connection),
		byWSName: make(map[string]map[int]struct{}),
	}
}

// register adds session under workspaceName and returns a handle used to
// unregister it when the WebSocket closes.
func (m *Manager) register(workspaceName string, session *Session) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.conns[id] = &connection{workspaceName: workspaceName, session: session}
	if m.byWSName[workspaceName] == nil {
		m.byWSName[workspaceName] = make(map[int]struct{})
	}
	m.byWSName[workspaceName][id] = struct{}{}
	return id
}

func (m *Manager) unregister(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return
	}
	delete(m.conns, id)
	if set := m.byWSName[conn.workspaceName]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byWSName, conn.workspaceName)
		}
	}
}

// CloseConnectionsForWorkspace closes every terminal session open for
// workspaceName. Satisfies workspace.PTYCloser.
func (m *Manager) CloseConnectionsForWorkspace(workspaceName string) {
	m.mu.Lock()
	ids := m.byWSName[workspaceName]
	sessions := make([]*Session, 0, len(ids))
	for id := range ids {
		sessions = append(sessions, m.conns[id].session)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

// ConnectionCount returns the number of open terminal connections, for
// diagnostics (info RPC).
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
