// Package transport adapts the session server's framed message
// protocol onto a WebSocket connection.
package transport

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// AcceptOptions configures the WebSocket upgrade.
type AcceptOptions struct {
	// InsecureSkipVerify disables the Origin check, for local
	// development against a non-browser client.
	InsecureSkipVerify bool
}

// Conn is a framed JSON connection over a WebSocket, carrying whatever
// message shapes the caller reads/writes (server.ClientMessage /
// server.ServerMessage).
type Conn struct {
	ws *websocket.Conn
}

// Accept upgrades an incoming HTTP request to a WebSocket connection.
func Accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (*Conn, error) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: opts.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return &Conn{ws: wsConn}, nil
}

// ReadJSON decodes the next message into v.
func (c *Conn) ReadJSON(ctx context.Context, v any) error {
	return wsjson.Read(ctx, c.ws, v)
}

// WriteJSON encodes v and sends it as a single WebSocket message.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	return wsjson.Write(ctx, c.ws, v)
}

// Ping sends a WebSocket ping and waits for the pong.
func (c *Conn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

// Close closes the connection with a normal-closure status.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "closing")
}

// CloseWithError closes the connection, reporting reason to the peer.
func (c *Conn) CloseWithError(reason string) error {
	return c.ws.Close(websocket.StatusInternalError, reason)
}
