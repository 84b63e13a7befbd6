package server

import (
	"sync"

	"github.com/Polqt/crdtcollab/clock"
	"github.com/Polqt/crdtcollab/crdt"
)

// documentSession is a lightweight per-document op cache, independent
// of the durable store, kept so SyncRequest can be answered fast even
// when the durable store is the in-memory one. Operations are
// appended here before fan-out, so a reconnecting client's
// SyncRequest always observes ops that have already been broadcast.
type documentSession struct {
	mu    sync.RWMutex
	ops   []crdt.CrdtOp
	clock *clock.VectorClock
}

func newDocumentSession() *documentSession {
	return &documentSession{clock: clock.NewVectorClock()}
}

// addOps appends ops to the session's cache and folds each into the
// session's clock.
func (d *documentSession) addOps(ops []crdt.CrdtOp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		d.ops = append(d.ops, op)
		id := op.ID()
		d.clock.Increment(uint64(id.ClientID), id.Seq)
	}
}

// opsSince returns every cached op not reflected in since.
func (d *documentSession) opsSince(since *clock.VectorClock) []crdt.CrdtOp {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []crdt.CrdtOp
	for _, op := range d.ops {
		id := op.ID()
		if id.Seq > since.Get(uint64(id.ClientID)) {
			out = append(out, op)
		}
	}
	return out
}

func (d *documentSession) clockSnapshot() *clock.VectorClock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clock.Clone()
}

// documentSessions owns one documentSession per active document,
// created on first join.
type documentSessions struct {
	mu       sync.Mutex
	sessions map[string]*documentSession
}

func newDocumentSessions() *documentSessions {
	return &documentSessions{sessions: make(map[string]*documentSession)}
}

func (d *documentSessions) getOrCreate(docID string) *documentSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[docID]
	if !ok {
		s = newDocumentSession()
		d.sessions[docID] = s
	}
	return s
}
