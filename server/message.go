package server

import (
	"encoding/json"
	"fmt"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/presence"
)

// WireVersion is the protocol version number of the wire format; bump
// on any breaking wire-format change. No message or stored op in this
// package carries it.
const WireVersion = 1

// WireOpId is the wire form of an OpID: the client id travels as a
// string for forward-compatibility even though the in-memory ClientID
// is a 64-bit integer.
type WireOpId struct {
	ClientID string `json:"client_id"`
	Seq      uint64 `json:"seq"`
}

// ToOpID parses a wire OpID into its in-memory form.
func (w WireOpId) ToOpID() (crdt.OpID, error) {
	var clientID uint64
	if _, err := fmt.Sscanf(w.ClientID, "%d", &clientID); err != nil {
		return crdt.OpID{}, fmt.Errorf("server: invalid client_id %q: %w", w.ClientID, err)
	}
	return crdt.OpID{ClientID: crdt.ClientID(clientID), Seq: w.Seq}, nil
}

// WireOpIdFrom renders id in its wire form.
func WireOpIdFrom(id crdt.OpID) WireOpId {
	return WireOpId{ClientID: fmt.Sprintf("%d", uint64(id.ClientID)), Seq: id.Seq}
}

// WireVectorClock is the wire form of a vector clock: client ids as
// strings, mirroring WireOpId.
type WireVectorClock struct {
	Clocks map[string]uint64 `json:"clocks"`
}

// WireVectorClockFrom renders a plain client→seq map in its wire form.
func WireVectorClockFrom(m map[uint64]uint64) WireVectorClock {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[fmt.Sprintf("%d", k)] = v
	}
	return WireVectorClock{Clocks: out}
}

// ToMap parses a wire vector clock back into a plain client→seq map.
func (w WireVectorClock) ToMap() (map[uint64]uint64, error) {
	out := make(map[uint64]uint64, len(w.Clocks))
	for k, v := range w.Clocks {
		var client uint64
		if _, err := fmt.Sscanf(k, "%d", &client); err != nil {
			return nil, fmt.Errorf("server: invalid client id %q in vector clock: %w", k, err)
		}
		out[client] = v
	}
	return out, nil
}

// WireCrdtOp is the wire form of a CrdtOp: an OpID, a type tag, and an
// opaque payload whose shape is determined by the type tag.
type WireCrdtOp struct {
	ID      WireOpId        `json:"id"`
	OpType  crdt.OpType     `json:"op_type"`
	Payload json.RawMessage `json:"payload"`
}

// WireCrdtOpFrom renders op in its wire form.
func WireCrdtOpFrom(op crdt.CrdtOp) (WireCrdtOp, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return WireCrdtOp{}, fmt.Errorf("server: encode op: %w", err)
	}
	return WireCrdtOp{ID: WireOpIdFrom(op.ID()), OpType: op.OpType(), Payload: payload}, nil
}

// ToCrdtOp decodes the wire op back into its concrete CrdtOp variant.
// The op_type/payload pair is the single source of truth for which
// concrete type the payload unmarshals into; WireCrdtOp.ID is not a
// separate encoding of identity, it is carried for cheap inspection
// without a full decode.
func (w WireCrdtOp) ToCrdtOp() (crdt.CrdtOp, error) {
	envelope, err := json.Marshal(struct {
		Type    crdt.OpType     `json:"op_type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: w.OpType, Payload: w.Payload})
	if err != nil {
		return nil, fmt.Errorf("server: re-encode wire op: %w", err)
	}
	return crdt.UnmarshalOpJSON(envelope)
}

// WirePresenceState is the wire form of a user's presence.
type WirePresenceState struct {
	Cursor       *presence.Position       `json:"cursor,omitempty"`
	Selection    *presence.SelectionRange `json:"selection,omitempty"`
	Typing       bool                     `json:"typing"`
	ScrollOffset int                      `json:"scroll_offset"`
}

// UserInfo describes a peer for Joined/UserJoined payloads.
type UserInfo struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// Known error codes sent in a ServerMessage Error payload.
const (
	ErrCodeAlreadyAuthenticated = "already_authenticated"
	ErrCodeNotAuthenticated     = "not_authenticated"
	ErrCodeNotInDocument        = "not_in_document"
	ErrCodeMessageError         = "message_error"
)

// ClientMessage is the tagged union of every message a client may
// send, realized as a flat envelope: Type selects which fields are
// meaningful, matching the wire shape field-for-field.
type ClientMessage struct {
	Type string `json:"type"`

	Token string `json:"token,omitempty"`

	DocID string `json:"doc_id,omitempty"`

	Ops []WireCrdtOp `json:"ops,omitempty"`

	OpIDs []WireOpId `json:"op_ids,omitempty"`

	State *WirePresenceState `json:"state,omitempty"`

	Since *WireVectorClock `json:"since,omitempty"`
}

const (
	ClientMsgAuth        = "auth"
	ClientMsgJoin        = "join"
	ClientMsgLeave       = "leave"
	ClientMsgOps         = "ops"
	ClientMsgAck         = "ack"
	ClientMsgPresence    = "presence"
	ClientMsgSyncRequest = "sync_request"
	ClientMsgPing        = "ping"
)

// ServerMessage is the tagged union of every message the server may
// send, realized the same way as ClientMessage.
type ServerMessage struct {
	Type string `json:"type"`

	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	DocID string     `json:"doc_id,omitempty"`
	Users []UserInfo `json:"users,omitempty"`
	User  *UserInfo  `json:"user,omitempty"`

	Ops   []WireCrdtOp `json:"ops,omitempty"`
	OpIDs []WireOpId   `json:"op_ids,omitempty"`

	State *WirePresenceState `json:"state,omitempty"`

	Clock *WireVectorClock `json:"clock,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	ServerMsgAuthSuccess   = "auth_success"
	ServerMsgAuthError     = "auth_error"
	ServerMsgJoined        = "joined"
	ServerMsgUserJoined    = "user_joined"
	ServerMsgUserLeft      = "user_left"
	ServerMsgOps           = "ops"
	ServerMsgAck           = "ack"
	ServerMsgPresence      = "presence"
	ServerMsgSyncResponse  = "sync_response"
	ServerMsgError         = "error"
	ServerMsgPong          = "pong"
)
