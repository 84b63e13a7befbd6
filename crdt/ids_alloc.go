package crdt

import "sync/atomic"

// IDAllocator issues a strictly increasing, per-client sequence of
// OpIDs. One allocator is owned per (client, document) pairing — the
// same scope a sync engine instance owns — so every CRDT structure
// touched while editing that document draws OpIDs from a single
// shared counter, preserving system-wide OpID uniqueness (I1/I2).
type IDAllocator struct {
	clientID ClientID
	seq      atomic.Uint64
}

// NewIDAllocator creates an allocator for clientID starting before the
// first sequence number (the first Next() call returns seq 1).
func NewIDAllocator(clientID ClientID) *IDAllocator {
	return &IDAllocator{clientID: clientID}
}

// ClientID returns the owning client.
func (a *IDAllocator) ClientID() ClientID {
	return a.clientID
}

// Next allocates and returns the next OpID for this client.
func (a *IDAllocator) Next() OpID {
	seq := a.seq.Add(1)
	return OpID{ClientID: a.clientID, Seq: seq}
}

// LastIssued returns the most recently allocated sequence number, or 0
// if none has been issued yet.
func (a *IDAllocator) LastIssued() uint64 {
	return a.seq.Load()
}

// FastForward advances the allocator so the next Next() call returns
// seq+1, without ever moving it backwards. Used when restoring an
// allocator's state after a restart.
func (a *IDAllocator) FastForward(seq uint64) {
	for {
		cur := a.seq.Load()
		if seq <= cur {
			return
		}
		if a.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
