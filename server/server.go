// Package server implements the collaborative-editing session server:
// one accept loop per listener, a goroutine pair per connection, and a
// single command loop that serializes fan-out to peers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Polqt/crdtcollab/clock"
	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/metrics"
	"github.com/Polqt/crdtcollab/presence"
	"github.com/Polqt/crdtcollab/store"
	"github.com/Polqt/crdtcollab/transport"
)

// CollaborationServer accepts WebSocket connections, authenticates
// them, and routes document-editing traffic between peers.
type CollaborationServer struct {
	config Config
	auth   AuthProvider
	log    zerolog.Logger

	store       store.OperationStore
	connections *ConnectionManager
	docSessions *documentSessions

	presenceMu sync.Mutex
	presence   map[string]*presence.Manager

	metrics *metrics.Collector

	commands chan serverCommand

	httpServer *http.Server

	addrMu   sync.Mutex
	addr     string
	addrDone chan struct{}
}

// maxProtocolStrikes is the three-strikes threshold: a connection
// survives malformed frames and wrong-state messages until its strike
// count reaches this value, and the strike that reaches it closes it.
const maxProtocolStrikes = 3

// errTooManyStrikes signals readLoop to stop and tear the connection
// down after it crosses maxProtocolStrikes.
var errTooManyStrikes = errors.New("server: connection exceeded protocol strike limit")

// New creates a server with the default AcceptAllAuthProvider.
func New(cfg Config, st store.OperationStore, coll *metrics.Collector, log zerolog.Logger) *CollaborationServer {
	return NewWithAuth(cfg, AcceptAllAuthProvider{}, st, coll, log)
}

// NewWithAuth creates a server using a caller-supplied AuthProvider.
func NewWithAuth(cfg Config, auth AuthProvider, st store.OperationStore, coll *metrics.Collector, log zerolog.Logger) *CollaborationServer {
	return &CollaborationServer{
		config:      cfg,
		auth:        auth,
		log:         log,
		store:       st,
		connections: NewConnectionManager(),
		docSessions: newDocumentSessions(),
		presence:    make(map[string]*presence.Manager),
		metrics:     coll,
		commands:    make(chan serverCommand, 1024),
		addrDone:    make(chan struct{}),
	}
}

// Addr blocks until Run has bound its listener, then returns its
// address in host:port form. Mainly useful in tests that start the
// server on port 0 and need the ephemeral port it was actually given.
func (s *CollaborationServer) Addr() string {
	<-s.addrDone
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

func (s *CollaborationServer) presenceFor(docID string) *presence.Manager {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	p, ok := s.presence[docID]
	if !ok {
		p = presence.NewManager()
		s.presence[docID] = p
	}
	return p
}

// ShutdownHandle holds the cancel function of Run's internal context.
// Run returns it only once Run itself has stopped; a running server is
// stopped by cancelling the ctx passed to Run.
type ShutdownHandle struct {
	cancel context.CancelFunc
}

// Shutdown signals Run to stop accepting new connections and drain.
func (h ShutdownHandle) Shutdown() {
	h.cancel()
}

// Run starts the HTTP listener and the command loop, blocking until
// ctx is cancelled or the listener fails. ServeMux routes are mounted
// at "/ws" (the WebSocket upgrade) and "/health".
func (s *CollaborationServer) Run(ctx context.Context) (ShutdownHandle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	handle := ShutdownHandle{cancel: cancel}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.serveWS(runCtx, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	s.httpServer = &http.Server{Addr: s.config.SocketAddr(), Handler: mux}

	listener, err := net.Listen("tcp", s.config.SocketAddr())
	if err != nil {
		cancel()
		return handle, fmt.Errorf("server: listen: %w", err)
	}
	s.addrMu.Lock()
	s.addr = listener.Addr().String()
	s.addrMu.Unlock()
	close(s.addrDone)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.commandLoop(runCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("collaboration server listening")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	go func() {
		<-runCtx.Done()
		_ = s.httpServer.Shutdown(context.Background())
	}()

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		return handle, err
	case <-runCtx.Done():
		<-errCh
		wg.Wait()
		return handle, nil
	}
}

func (s *CollaborationServer) serveWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if s.connections.TotalConnections() >= s.config.MaxTotalConnections {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := transport.Accept(w, r, transport.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	client := NewClientConnection()
	s.connections.Add(client)
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range client.Outbound() {
			if err := conn.WriteJSON(ctx, msg); err != nil {
				return
			}
		}
	}()

	s.readLoop(ctx, conn, client)

	client.Disconnect()
	wg.Wait()
	s.commands <- cmdDisconnected{connID: client.ID, docID: client.Document(), userID: client.UserID}
	s.connections.Remove(client.ID)
	_ = conn.Close()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Dec()
	}
}

func (s *CollaborationServer) readLoop(ctx context.Context, conn *transport.Conn, client *ClientConnection) {
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(ctx, &msg); err != nil {
			if client.RecordStrike() >= maxProtocolStrikes {
				s.log.Warn().Str("connection", string(client.ID)).Err(err).
					Msg("closing connection after repeated malformed frames")
				return
			}
			continue
		}
		if err := s.handleMessage(ctx, conn, client, msg); err != nil {
			if errors.Is(err, errTooManyStrikes) {
				s.log.Warn().Str("connection", string(client.ID)).Msg("closing connection after repeated protocol errors")
				return
			}
			s.log.Warn().Err(err).Str("connection", string(client.ID)).Msg("message handling failed")
		}
	}
}

// protocolViolation sends an Error message for a malformed frame or a
// message sent in the wrong connection state, and returns a
// *MessageError so handleMessage can count it toward the three-strikes
// limit. Business-level failures (capacity, storage) use a plain
// client.Send instead, since those are not protocol corruption.
func (s *CollaborationServer) protocolViolation(client *ClientConnection, code, message string) error {
	_ = client.Send(ServerMessage{Type: ServerMsgError, Code: code, Message: message})
	return &MessageError{Code: code, Message: message}
}

// handleMessage dispatches one client message by type and applies the
// three-strikes policy to whatever protocolViolation reports.
func (s *CollaborationServer) handleMessage(ctx context.Context, conn *transport.Conn, client *ClientConnection, msg ClientMessage) error {
	var herr error
	switch msg.Type {
	case ClientMsgAuth:
		herr = s.handleAuth(ctx, client, msg)
	case ClientMsgJoin:
		herr = s.handleJoin(client, msg)
	case ClientMsgLeave:
		herr = s.handleLeave(client, msg)
	case ClientMsgOps:
		herr = s.handleOps(client, msg)
	case ClientMsgAck:
		client.RecordAck(msg.OpIDs)
		return nil
	case ClientMsgPresence:
		herr = s.handlePresence(client, msg)
	case ClientMsgSyncRequest:
		herr = s.handleSyncRequest(client, msg)
	case ClientMsgPing:
		return client.Send(ServerMessage{Type: ServerMsgPong})
	default:
		herr = s.protocolViolation(client, ErrCodeMessageError, fmt.Sprintf("unknown message type %q", msg.Type))
	}

	var msgErr *MessageError
	if errors.As(herr, &msgErr) {
		if client.RecordStrike() >= maxProtocolStrikes {
			_ = client.Send(ServerMessage{
				Type:    ServerMsgError,
				Code:    ErrCodeMessageError,
				Message: "too many protocol errors, closing connection",
			})
			return errTooManyStrikes
		}
	}
	return herr
}

func (s *CollaborationServer) handleAuth(ctx context.Context, client *ClientConnection, msg ClientMessage) error {
	if client.IsAuthenticated() {
		return s.protocolViolation(client, ErrCodeAlreadyAuthenticated, "already authenticated")
	}
	user, err := s.auth.Authenticate(ctx, msg.Token)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AuthFailures.Inc()
		}
		return client.Send(ServerMessage{Type: ServerMsgAuthError, Message: err.Error()})
	}
	client.MarkAuthenticated(user.UserID, user.DisplayName)
	s.commands <- cmdAuthenticated{connID: client.ID, user: user}
	return client.Send(ServerMessage{Type: ServerMsgAuthSuccess, UserID: user.UserID, DisplayName: user.DisplayName})
}

func (s *CollaborationServer) handleJoin(client *ClientConnection, msg ClientMessage) error {
	if !client.IsAuthenticated() {
		return s.protocolViolation(client, ErrCodeNotAuthenticated, "not authenticated")
	}
	if s.connections.CountOnDocument(msg.DocID) >= s.config.MaxConnectionsPerDoc {
		return client.Send(ServerMessage{Type: ServerMsgError, Code: ErrCodeMessageError, Message: "document at connection capacity"})
	}

	if prev := client.Document(); prev != "" {
		s.commands <- cmdLeaveDocument{connID: client.ID, docID: prev}
	}
	s.connections.JoinDocument(client.ID, msg.DocID)
	s.docSessions.getOrCreate(msg.DocID)

	users := s.connections.UsersOn(msg.DocID)
	if err := client.Send(ServerMessage{Type: ServerMsgJoined, DocID: msg.DocID, Users: users}); err != nil {
		return err
	}
	s.commands <- cmdJoinDocument{connID: client.ID, docID: msg.DocID}
	return nil
}

func (s *CollaborationServer) handleLeave(client *ClientConnection, msg ClientMessage) error {
	if client.Document() != msg.DocID {
		return s.protocolViolation(client, ErrCodeNotInDocument, "not in that document")
	}
	s.connections.LeaveDocument(client.ID, msg.DocID)
	s.commands <- cmdLeaveDocument{connID: client.ID, docID: msg.DocID}
	return nil
}

func (s *CollaborationServer) handleOps(client *ClientConnection, msg ClientMessage) error {
	docID := client.Document()
	if docID == "" {
		return s.protocolViolation(client, ErrCodeNotInDocument, "not in a document")
	}

	ops := make([]crdt.CrdtOp, 0, len(msg.Ops))
	for _, wireOp := range msg.Ops {
		op, err := wireOp.ToCrdtOp()
		if err != nil {
			return s.protocolViolation(client, ErrCodeMessageError, err.Error())
		}
		ops = append(ops, op)
	}

	// Append before fan-out, so a reconnecting peer's SyncRequest
	// always observes ops already broadcast.
	s.docSessions.getOrCreate(docID).addOps(ops)
	if _, err := s.store.SaveOperations(docID, ops); err != nil {
		return client.Send(ServerMessage{Type: ServerMsgError, Code: ErrCodeMessageError, Message: err.Error()})
	}
	if s.metrics != nil {
		s.metrics.OpsPersisted.Add(float64(len(ops)))
	}

	ackIDs := make([]WireOpId, 0, len(ops))
	for _, op := range ops {
		ackIDs = append(ackIDs, WireOpIdFrom(op.ID()))
	}
	if err := client.Send(ServerMessage{Type: ServerMsgAck, OpIDs: ackIDs}); err != nil {
		return err
	}

	s.commands <- cmdBroadcastOps{docID: docID, ops: ops, senderID: client.ID}
	return nil
}

func (s *CollaborationServer) handlePresence(client *ClientConnection, msg ClientMessage) error {
	docID := client.Document()
	if docID == "" || msg.State == nil {
		return s.protocolViolation(client, ErrCodeNotInDocument, "not in a document")
	}
	s.commands <- cmdBroadcastPresence{docID: docID, userID: client.UserID, state: *msg.State, senderID: client.ID}
	return nil
}

func (s *CollaborationServer) handleSyncRequest(client *ClientConnection, msg ClientMessage) error {
	docID := client.Document()
	if docID == "" {
		return s.protocolViolation(client, ErrCodeNotInDocument, "not in a document")
	}
	since := clock.NewVectorClock()
	if msg.Since != nil {
		m, err := msg.Since.ToMap()
		if err != nil {
			return s.protocolViolation(client, ErrCodeMessageError, err.Error())
		}
		since = clock.VectorClockFromMap(m)
	}
	s.commands <- cmdSyncRequest{connID: client.ID, docID: docID, since: since}
	return nil
}

// commandLoop applies every queued serverCommand in order: fan-out of
// ops, presence, join/leave notices and sync replies. Join and leave
// change ConnectionManager's membership on the connection's read
// goroutine before the command is queued. It runs on its own goroutine
// for the server's whole lifetime.
func (s *CollaborationServer) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			s.applyCommand(cmd)
		}
	}
}

func (s *CollaborationServer) applyCommand(cmd serverCommand) {
	switch c := cmd.(type) {
	case cmdAuthenticated:
		// No further state to mutate beyond what handleAuth already
		// recorded on the connection itself.
		_ = c

	case cmdJoinDocument:
		client, ok := s.connections.Get(c.connID)
		if !ok {
			return
		}
		p := s.presenceFor(c.docID)
		p.UpdateUser(client.UserID, client.DisplayName, 0)
		for _, peer := range s.connections.PeersOn(c.docID, c.connID) {
			_ = peer.Send(ServerMessage{
				Type: ServerMsgUserJoined,
				User: &UserInfo{UserID: client.UserID, DisplayName: client.DisplayName},
			})
		}

	case cmdLeaveDocument:
		client, ok := s.connections.Get(c.connID)
		userID := ""
		if ok {
			userID = client.UserID
		}
		s.presenceFor(c.docID).RemoveUser(userID)
		for _, peer := range s.connections.PeersOn(c.docID, c.connID) {
			_ = peer.Send(ServerMessage{Type: ServerMsgUserLeft, UserID: userID})
		}

	case cmdBroadcastOps:
		wireOps := make([]WireCrdtOp, 0, len(c.ops))
		for _, op := range c.ops {
			wo, err := WireCrdtOpFrom(op)
			if err != nil {
				continue
			}
			wireOps = append(wireOps, wo)
		}
		peers := s.connections.PeersOn(c.docID, c.senderID)
		for _, peer := range peers {
			_ = peer.Send(ServerMessage{Type: ServerMsgOps, Ops: wireOps})
		}
		if s.metrics != nil && len(peers) > 0 {
			s.metrics.OpsBroadcast.Add(float64(len(wireOps) * len(peers)))
		}

	case cmdBroadcastPresence:
		for _, peer := range s.connections.PeersOn(c.docID, c.senderID) {
			_ = peer.Send(ServerMessage{Type: ServerMsgPresence, UserID: c.userID, State: &c.state})
		}

	case cmdDisconnected:
		if c.docID == "" {
			return
		}
		s.presenceFor(c.docID).RemoveUser(c.userID)
		for _, peer := range s.connections.PeersOn(c.docID, c.connID) {
			_ = peer.Send(ServerMessage{Type: ServerMsgUserLeft, UserID: c.userID})
		}

	case cmdSyncRequest:
		client, ok := s.connections.Get(c.connID)
		if !ok {
			return
		}
		session := s.docSessions.getOrCreate(c.docID)
		ops := session.opsSince(c.since)
		wireOps := make([]WireCrdtOp, 0, len(ops))
		for _, op := range ops {
			wo, err := WireCrdtOpFrom(op)
			if err != nil {
				continue
			}
			wireOps = append(wireOps, wo)
		}
		clockWire := WireVectorClockFrom(session.clockSnapshot().Snapshot())
		_ = client.Send(ServerMessage{Type: ServerMsgSyncResponse, Ops: wireOps, Clock: &clockWire})
	}
}
