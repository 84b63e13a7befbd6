package server_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/metrics"
	"github.com/Polqt/crdtcollab/server"
	"github.com/Polqt/crdtcollab/store"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0
	st := store.NewMemoryStore()
	coll := metrics.NewCollector(prometheus.NewRegistry())
	srv := server.New(cfg, st, coll, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _, _ = srv.Run(ctx) }()

	return "ws://" + srv.Addr() + "/ws"
}

func dialAndAuth(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.NoError(t, wsjson.Write(ctx, conn, server.ClientMessage{
		Type:  server.ClientMsgAuth,
		Token: token,
	}))

	var reply server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	require.Equal(t, server.ServerMsgAuthSuccess, reply.Type)
	require.Equal(t, token, reply.UserID)
	return conn
}

func joinDoc(t *testing.T, conn *websocket.Conn, docID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, server.ClientMessage{Type: server.ClientMsgJoin, DocID: docID}))

	var reply server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	require.Equal(t, server.ServerMsgJoined, reply.Type)
}

func TestCollaborationServerAuthenticatesAndJoins(t *testing.T) {
	url := startTestServer(t)
	conn := dialAndAuth(t, url, "alice")
	joinDoc(t, conn, "doc-1")
}

// TestCollaborationServerBroadcastsOpsToOtherPeersOnly exercises
// invariant 8 (the session server fans operations out to every other
// connection on a document, never back to the sender).
func TestCollaborationServerBroadcastsOpsToOtherPeersOnly(t *testing.T) {
	url := startTestServer(t)

	alice := dialAndAuth(t, url, "alice")
	joinDoc(t, alice, "doc-1")

	bob := dialAndAuth(t, url, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Bob joining fires a user_joined notice to Alice; drain it before
	// asserting on the ops broadcast below.
	joinDoc(t, bob, "doc-1")
	var userJoined server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, alice, &userJoined))
	require.Equal(t, server.ServerMsgUserJoined, userJoined.Type)

	op := crdt.TextInsert{
		IDValue:    crdt.OpID{ClientID: 1, Seq: 1},
		NodeID:     "n",
		ParentOpID: crdt.RootSentinel,
		Char:       'h',
	}
	wire, err := server.WireCrdtOpFrom(op)
	require.NoError(t, err)

	require.NoError(t, wsjson.Write(ctx, alice, server.ClientMessage{
		Type: server.ClientMsgOps,
		Ops:  []server.WireCrdtOp{wire},
	}))

	var ack server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, alice, &ack))
	require.Equal(t, server.ServerMsgAck, ack.Type)

	var forwarded server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, bob, &forwarded))
	require.Equal(t, server.ServerMsgOps, forwarded.Type)
	require.Len(t, forwarded.Ops, 1)

	back, err := forwarded.Ops[0].ToCrdtOp()
	require.NoError(t, err)
	require.Equal(t, op, back)

	// The sender's next message is the reply to its own ping, not an
	// echo of the ops it sent.
	require.NoError(t, wsjson.Write(ctx, alice, server.ClientMessage{Type: server.ClientMsgPing}))
	var next server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, alice, &next))
	require.Equal(t, server.ServerMsgPong, next.Type)
}

// TestCollaborationServerSyncRequestReplaysMissedOps exercises S5/S6:
// a client that reconnects and asks for everything since an earlier
// vector clock receives the ops it missed.
func TestCollaborationServerSyncRequestReplaysMissedOps(t *testing.T) {
	url := startTestServer(t)

	alice := dialAndAuth(t, url, "alice")
	joinDoc(t, alice, "doc-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	op := crdt.TextInsert{
		IDValue:    crdt.OpID{ClientID: 1, Seq: 1},
		NodeID:     "n",
		ParentOpID: crdt.RootSentinel,
		Char:       'h',
	}
	wire, err := server.WireCrdtOpFrom(op)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, alice, server.ClientMessage{Type: server.ClientMsgOps, Ops: []server.WireCrdtOp{wire}}))

	var ack server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, alice, &ack))
	require.Equal(t, server.ServerMsgAck, ack.Type)

	bob := dialAndAuth(t, url, "bob")
	joinDoc(t, bob, "doc-1")

	require.NoError(t, wsjson.Write(ctx, bob, server.ClientMessage{Type: server.ClientMsgSyncRequest, DocID: "doc-1"}))

	var synced server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, bob, &synced))
	require.Equal(t, server.ServerMsgSyncResponse, synced.Type)
	require.Len(t, synced.Ops, 1)

	back, err := synced.Ops[0].ToCrdtOp()
	require.NoError(t, err)
	require.Equal(t, op, back)
}

// TestCollaborationServerClosesConnectionAfterThreeProtocolStrikes
// exercises the three-strikes policy: a connection survives repeated
// wrong-state messages up to twice, but the third closes it.
func TestCollaborationServerClosesConnectionAfterThreeProtocolStrikes(t *testing.T) {
	url := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusInternalError, "")

	// Joining before authenticating is a protocol violation; it does not
	// close the connection on its own.
	for i := 0; i < 2; i++ {
		require.NoError(t, wsjson.Write(ctx, conn, server.ClientMessage{Type: server.ClientMsgJoin, DocID: "doc-1"}))
		var reply server.ServerMessage
		require.NoError(t, wsjson.Read(ctx, conn, &reply))
		require.Equal(t, server.ServerMsgError, reply.Type)
		require.Equal(t, server.ErrCodeNotAuthenticated, reply.Code)
	}

	// The third strike gets its own error reply, followed by a
	// closing notice, and then the connection goes away.
	require.NoError(t, wsjson.Write(ctx, conn, server.ClientMessage{Type: server.ClientMsgJoin, DocID: "doc-1"}))

	var violation server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &violation))
	require.Equal(t, server.ServerMsgError, violation.Type)
	require.Equal(t, server.ErrCodeNotAuthenticated, violation.Code)

	var closing server.ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &closing))
	require.Equal(t, server.ServerMsgError, closing.Type)

	var afterClose server.ServerMessage
	require.Error(t, wsjson.Read(ctx, conn, &afterClose))
}

func TestWireCrdtOpSurvivesJSONThroughClientMessage(t *testing.T) {
	op := crdt.TextInsert{
		IDValue:    crdt.OpID{ClientID: 1, Seq: 1},
		NodeID:     "n",
		ParentOpID: crdt.RootSentinel,
		Char:       'x',
	}
	wire, err := server.WireCrdtOpFrom(op)
	require.NoError(t, err)

	msg := server.ClientMessage{Type: server.ClientMsgOps, Ops: []server.WireCrdtOp{wire}}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded server.ClientMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Ops, 1)

	back, err := decoded.Ops[0].ToCrdtOp()
	require.NoError(t, err)
	require.Equal(t, op, back)
}
