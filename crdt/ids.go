// Package crdt implements the replicated data types that back
// collaborative document editing: an RGA sequence for text, and LWW
// registers/maps for per-attribute and per-block state.
package crdt

import "github.com/google/uuid"

// ClientID identifies one replica. It is opaque and totally ordered on
// its integer value.
type ClientID uint64

// OpID names one operation ever produced by the system: the client
// that produced it, and that client's monotone per-client sequence
// number. Sequence numbers start at 1; the zero value (0,0) is the
// reserved root sentinel used as the parent of top-of-document
// inserts.
type OpID struct {
	ClientID ClientID
	Seq      uint64
}

// RootSentinel is the reserved OpID standing in for "no parent" / "top
// of document".
var RootSentinel = OpID{ClientID: 0, Seq: 0}

// IsRoot reports whether id is the root sentinel.
func (id OpID) IsRoot() bool {
	return id == RootSentinel
}

// Less implements the OpID total order: by sequence, then by client
// id. This differs deliberately from Timestamp's ordering (physical,
// logical, client), which governs LWW instead.
func (id OpID) Less(other OpID) bool {
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return id.ClientID < other.ClientID
}

// NodeID opaquely names a document node (a paragraph, run, or block)
// that CRDT operations reference. The document schema that interprets
// these identifiers is out of scope for this core.
type NodeID string

// NewNodeID generates a fresh opaque node identifier.
func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}
