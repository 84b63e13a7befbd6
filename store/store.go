// Package store persists operations and snapshots on the server side,
// one instance per document collection, behind a single contract with
// an in-memory and a SQLite-backed realization.
package store

import (
	"errors"

	"github.com/Polqt/crdtcollab/clock"
	"github.com/Polqt/crdtcollab/crdt"
)

// ErrNotFound names the condition of addressing a document the store
// has never seen. Neither realization in this package returns it:
// OperationsSince and the other read paths return an empty result for
// an unknown document, and DeleteDocument of an unknown document
// succeeds as a no-op.
var ErrNotFound = errors.New("store: document not found")

// Version is a monotonically increasing per-document operation
// counter.
type Version uint64

// StoredOperation is one persisted operation, tagged with the version
// it was assigned and a snapshot of the document's vector clock at the
// time it was saved.
type StoredOperation struct {
	Version Version
	Op      crdt.CrdtOp
	Clock   map[uint64]uint64
}

// Snapshot is a compacted point-in-time save of a document, carrying
// an opaque byte payload the caller defines the shape of (e.g. an
// encoded RGA/LWW state).
type Snapshot struct {
	Version Version
	Clock   map[uint64]uint64
	Bytes   []byte
}

// StorageStats is a cheap, non-authoritative usage estimate for a
// store implementation, independent of the prometheus counters in
// package metrics.
type StorageStats struct {
	DocumentCount  int
	TotalOperations int
	EstimatedBytes  int
}

// OperationStore is the server-side persistence contract every
// document's operation history and snapshots are kept behind. Reads
// are safe for concurrent use; writes to the same document are
// serialized by the implementation.
type OperationStore interface {
	SaveOperation(docID string, op crdt.CrdtOp) (Version, error)
	SaveOperations(docID string, ops []crdt.CrdtOp) ([]Version, error)
	OperationsSince(docID string, version Version) ([]StoredOperation, error)
	LatestVersion(docID string) (Version, error)
	SaveSnapshot(docID string, snap Snapshot) error
	LatestSnapshot(docID string) (*Snapshot, error)
	DeleteDocument(docID string) error
	DocumentExists(docID string) bool
}

// vectorClockSnapshot is a small helper used by MemoryStore: fold op's
// OpID into clk and return the resulting plain map.
func vectorClockSnapshot(clk *clock.VectorClock, op crdt.CrdtOp) map[uint64]uint64 {
	id := op.ID()
	clk.Increment(uint64(id.ClientID), id.Seq)
	return clk.Snapshot()
}
