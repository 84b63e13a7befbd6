package server

import (
	"sync"

	"github.com/google/uuid"
)

// ConnectionID opaquely identifies one accepted connection. It is
// never compared for order, unlike crdt.ClientID/OpID.
type ConnectionID string

// NewConnectionID mints a fresh, globally unique connection id.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

// ConnectionStatus is a connection's lifecycle state.
type ConnectionStatus int

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusDisconnected
	StatusTerminated
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// OutgoingMessage is anything a connection's outbound loop drains and
// writes to the wire; in this implementation it is always a
// ServerMessage, but is named separately to mirror the originating
// design's explicit outgoing-message enum.
type OutgoingMessage = ServerMessage

// ClientConnection is server-side state for one accepted connection:
// identity, permission/auth state, its outbound queue, and lifecycle
// status.
type ClientConnection struct {
	ID          ConnectionID
	UserID      string
	DisplayName string

	mu         sync.Mutex
	status     ConnectionStatus
	docID      string // "" when not joined to a document
	authed     bool
	lastAckIDs []WireOpId
	strikes    int

	outbound chan OutgoingMessage
}

// NewClientConnection creates a connection in the Connecting state
// with a buffered outbound queue.
func NewClientConnection() *ClientConnection {
	return &ClientConnection{
		ID:       NewConnectionID(),
		status:   StatusConnecting,
		outbound: make(chan OutgoingMessage, 256),
	}
}

// Send enqueues msg for the outbound loop. Returns ErrNotConnected if
// the connection is not currently Connected. The status check and the
// channel send happen under the same lock held by Disconnect, so a
// concurrent Disconnect can never close the channel in between and
// turn this into a send on a closed channel.
func (c *ClientConnection) Send(msg OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return ErrNotConnected
	}
	select {
	case c.outbound <- msg:
		return nil
	default:
		// Outbound queue is full; drop rather than block the fan-out
		// path on one slow peer.
		return nil
	}
}

// Outbound exposes the channel the connection's write goroutine drains.
func (c *ClientConnection) Outbound() <-chan OutgoingMessage {
	return c.outbound
}

// MarkAuthenticated transitions Connecting → Connected and records the
// authenticated identity.
func (c *ClientConnection) MarkAuthenticated(userID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authed = true
	c.UserID = userID
	c.DisplayName = displayName
	c.status = StatusConnected
}

// IsAuthenticated reports whether Auth has already succeeded.
func (c *ClientConnection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

// Status returns the connection's current lifecycle state.
func (c *ClientConnection) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetDocument records which document this connection is joined to, or
// clears it with docID == "".
func (c *ClientConnection) SetDocument(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docID = docID
}

// Document returns the document this connection is currently joined
// to, or "" if none.
func (c *ClientConnection) Document() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docID
}

// RecordAck remembers the most recently acknowledged op ids.
func (c *ClientConnection) RecordAck(ids []WireOpId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAckIDs = ids
}

// RecordStrike increments the connection's protocol-error strike count
// (malformed frames, messages sent in the wrong state) and returns the
// new total, per the three-strikes close policy.
func (c *ClientConnection) RecordStrike() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strikes++
	return c.strikes
}

// Strikes reports the connection's current protocol-error strike count.
func (c *ClientConnection) Strikes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strikes
}

// Disconnect transitions to Disconnected and closes the outbound
// channel so the write goroutine exits. Holds the same lock Send uses
// for its status check and channel send, so the two can never
// interleave into a send on a closed channel.
func (c *ClientConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDisconnected || c.status == StatusTerminated {
		return
	}
	c.status = StatusDisconnected
	close(c.outbound)
}

// Terminate marks the connection permanently closed.
func (c *ClientConnection) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusTerminated
}

// ConnectionManager tracks every accepted connection, which document
// each belongs to, and which connections belong to each user (a single
// authenticated user may have several concurrent connections, e.g.
// multiple open tabs).
type ConnectionManager struct {
	mu sync.RWMutex

	connections map[ConnectionID]*ClientConnection
	byDocument  map[string]map[ConnectionID]struct{}
	byUser      map[string]map[ConnectionID]struct{}
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[ConnectionID]*ClientConnection),
		byDocument:  make(map[string]map[ConnectionID]struct{}),
		byUser:      make(map[string]map[ConnectionID]struct{}),
	}
}

// Add registers a newly accepted connection.
func (m *ConnectionManager) Add(c *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// Remove detaches a connection from its document and user index, and
// drops it from the manager entirely.
func (m *ConnectionManager) Remove(id ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return
	}
	m.detachDocumentLocked(id, c.Document())
	m.detachUserLocked(id, c.UserID)
	delete(m.connections, id)
}

// Get returns the connection for id, if still registered.
func (m *ConnectionManager) Get(id ConnectionID) (*ClientConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	return c, ok
}

// JoinDocument moves a connection's document membership to docID,
// leaving any prior document.
func (m *ConnectionManager) JoinDocument(id ConnectionID, docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return
	}
	m.detachDocumentLocked(id, c.Document())
	c.SetDocument(docID)
	if m.byDocument[docID] == nil {
		m.byDocument[docID] = make(map[ConnectionID]struct{})
	}
	m.byDocument[docID][id] = struct{}{}
	if m.byUser[c.UserID] == nil {
		m.byUser[c.UserID] = make(map[ConnectionID]struct{})
	}
	m.byUser[c.UserID][id] = struct{}{}
}

// LeaveDocument clears a connection's document membership.
func (m *ConnectionManager) LeaveDocument(id ConnectionID, docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return
	}
	m.detachDocumentLocked(id, docID)
	c.SetDocument("")
}

func (m *ConnectionManager) detachDocumentLocked(id ConnectionID, docID string) {
	if docID == "" {
		return
	}
	set := m.byDocument[docID]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.byDocument, docID)
	}
}

func (m *ConnectionManager) detachUserLocked(id ConnectionID, userID string) {
	if userID == "" {
		return
	}
	set := m.byUser[userID]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.byUser, userID)
	}
}

// PeersOn returns every connection currently joined to docID except
// excludeID.
func (m *ConnectionManager) PeersOn(docID string, excludeID ConnectionID) []*ClientConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ClientConnection
	for id := range m.byDocument[docID] {
		if id == excludeID {
			continue
		}
		if c, ok := m.connections[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// UsersOn returns the distinct set of users currently joined to docID.
func (m *ConnectionManager) UsersOn(docID string) []UserInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []UserInfo
	for id := range m.byDocument[docID] {
		c, ok := m.connections[id]
		if !ok || seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		out = append(out, UserInfo{UserID: c.UserID, DisplayName: c.DisplayName})
	}
	return out
}

// ConnectionsForUser returns every connection id recorded for userID.
func (m *ConnectionManager) ConnectionsForUser(userID string) []ConnectionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byUser[userID]
	out := make([]ConnectionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// TotalConnections reports the number of currently registered
// connections.
func (m *ConnectionManager) TotalConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// TotalDocuments reports the number of documents with at least one
// joined connection.
func (m *ConnectionManager) TotalDocuments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byDocument)
}

// CountOnDocument reports how many connections are currently joined to
// docID, for admission control.
func (m *ConnectionManager) CountOnDocument(docID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byDocument[docID])
}
