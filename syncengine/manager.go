package syncengine

import (
	"sync"

	"github.com/Polqt/crdtcollab/crdt"
)

// Status is the connection/sync status a Manager tracks per document.
type Status struct {
	Connected    bool
	Syncing      bool
	LastSyncedMS int64
}

// Manager multiplexes one Engine per document a client has open,
// alongside connection/sync bookkeeping that does not belong on the
// engine itself.
type Manager struct {
	mu       sync.Mutex
	clientID crdt.ClientID
	engines  map[string]*Engine
	status   map[string]*Status
}

// NewManager creates a manager for clientID with no documents open.
func NewManager(clientID crdt.ClientID) *Manager {
	return &Manager{
		clientID: clientID,
		engines:  make(map[string]*Engine),
		status:   make(map[string]*Status),
	}
}

// GetOrCreateEngine returns the engine for docID, creating one (and a
// fresh default status) if this is the first time docID is seen.
func (m *Manager) GetOrCreateEngine(docID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[docID]
	if !ok {
		e = NewEngine(m.clientID)
		m.engines[docID] = e
		m.status[docID] = &Status{}
	}
	return e
}

// GetEngine returns the engine for docID, if one exists.
func (m *Manager) GetEngine(docID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[docID]
	return e, ok
}

// RemoveEngine drops all state held for docID.
func (m *Manager) RemoveEngine(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.engines, docID)
	delete(m.status, docID)
}

// HasDocument reports whether docID currently has an engine.
func (m *Manager) HasDocument(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.engines[docID]
	return ok
}

// ActiveDocuments lists every document id with an open engine.
func (m *Manager) ActiveDocuments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.engines))
	for id := range m.engines {
		out = append(out, id)
	}
	return out
}

// SetConnected updates the connected flag for docID's status.
func (m *Manager) SetConnected(docID string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[docID]; ok {
		s.Connected = connected
	}
}

// SetSyncing updates the syncing flag for docID's status.
func (m *Manager) SetSyncing(docID string, syncing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[docID]; ok {
		s.Syncing = syncing
	}
}

// SetLastSyncTime records the wall-clock millisecond timestamp of the
// most recent successful sync for docID.
func (m *Manager) SetLastSyncTime(docID string, ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[docID]; ok {
		s.LastSyncedMS = ms
	}
}

// StatusFor returns a copy of docID's status, or ok=false if docID is
// unknown.
func (m *Manager) StatusFor(docID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[docID]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// RetryAllSent calls RetrySent on every open engine, e.g. after a
// reconnect.
func (m *Manager) RetryAllSent() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		e.RetrySent()
	}
}
