package crdt

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Polqt/crdtcollab/clock"
)

// OpLog is an append-only, deduplicating log of every CrdtOp a replica
// has accepted, with an OpID index for O(1) membership tests and an
// owned vector clock advanced on each accepted append.
type OpLog struct {
	mu     sync.RWMutex
	ops    []CrdtOp
	index  map[OpID]int
	vclock *clock.VectorClock
}

// NewOpLog creates an empty log.
func NewOpLog() *OpLog {
	return &OpLog{
		index:  make(map[OpID]int),
		vclock: clock.NewVectorClock(),
	}
}

// Add appends op if its OpID is new. Returns false if a op with the
// same OpID was already present (I2: no duplicate OpIDs).
func (l *OpLog) Add(op CrdtOp) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := op.ID()
	if _, exists := l.index[id]; exists {
		return false
	}
	l.index[id] = len(l.ops)
	l.ops = append(l.ops, op)
	l.vclock.Increment(uint64(id.ClientID), id.Seq)
	return true
}

// Get returns the op with the given id, if present.
func (l *OpLog) Get(id OpID) (CrdtOp, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return l.ops[pos], true
}

// Contains reports whether id has already been added.
func (l *OpLog) Contains(id OpID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// OpsSince returns every op whose sequence exceeds what since has
// recorded for that op's client — the catch-up primitive.
func (l *OpLog) OpsSince(since *clock.VectorClock) []CrdtOp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []CrdtOp
	for _, op := range l.ops {
		id := op.ID()
		if id.Seq > since.Get(uint64(id.ClientID)) {
			out = append(out, op)
		}
	}
	return out
}

// Clock returns a snapshot of the log's vector clock.
func (l *OpLog) Clock() *clock.VectorClock {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.vclock.Clone()
}

// Len reports the number of ops in the log.
func (l *OpLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

// IsEmpty reports whether the log holds no ops.
func (l *OpLog) IsEmpty() bool {
	return l.Len() == 0
}

// Iter returns a copy of every op in append order.
func (l *OpLog) Iter() []CrdtOp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CrdtOp, len(l.ops))
	copy(out, l.ops)
	return out
}

// OpsForClient returns every op in the log produced by client, in
// append order.
func (l *OpLog) OpsForClient(client ClientID) []CrdtOp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []CrdtOp
	for _, op := range l.ops {
		if op.ID().ClientID == client {
			out = append(out, op)
		}
	}
	return out
}

// LatestSeq returns the highest sequence number seen from client.
func (l *OpLog) LatestSeq(client ClientID) uint64 {
	return l.Clock().Get(uint64(client))
}

// wireLog is the serialized shape of an OpLog: the op sequence plus
// its clock. The index is never serialized; it is rebuilt on load.
type wireLog struct {
	Ops   []opEnvelope      `json:"ops"`
	Clock map[uint64]uint64 `json:"clock"`
}

// ToJSON serializes the log's op sequence and clock.
func (l *OpLog) ToJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	envs := make([]opEnvelope, 0, len(l.ops))
	for _, op := range l.ops {
		env, err := EncodeOp(op)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	w := wireLog{Ops: envs, Clock: l.vclock.Snapshot()}
	return json.Marshal(w)
}

// OpLogFromJSON reconstructs a log (including its index) from bytes
// produced by ToJSON.
func OpLogFromJSON(data []byte) (*OpLog, error) {
	var w wireLog
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("crdt: decode op log: %w", err)
	}
	l := NewOpLog()
	for _, env := range w.Ops {
		op, err := DecodeOp(env)
		if err != nil {
			return nil, err
		}
		id := op.ID()
		l.index[id] = len(l.ops)
		l.ops = append(l.ops, op)
	}
	l.vclock = clock.VectorClockFromMap(w.Clock)
	return l, nil
}
