// Package syncengine batches locally-produced operations for
// transmission, tracks which ones are in flight, and replays remote
// operations into a replica's operation log.
package syncengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Polqt/crdtcollab/clock"
	"github.com/Polqt/crdtcollab/crdt"
)

const (
	// DefaultBatchWindowMS is how long a client waits to accumulate
	// local ops into a single batch before sending what it has.
	DefaultBatchWindowMS = 50
	// DefaultMaxBatchSize caps the number of ops per outgoing batch.
	DefaultMaxBatchSize = 100
)

// Engine batches and tracks one client's ops against one document.
type Engine struct {
	mu sync.Mutex

	clientID crdt.ClientID
	alloc    *crdt.IDAllocator

	pending []crdt.CrdtOp
	sentOps map[crdt.OpID]crdt.CrdtOp

	opLog  *crdt.OpLog
	vclock *clock.VectorClock

	batchSeq     uint64
	batchWindow  int
	maxBatchSize int
}

// NewEngine creates an engine for clientID, owning a fresh IDAllocator,
// operation log, and vector clock for one document.
func NewEngine(clientID crdt.ClientID) *Engine {
	return &Engine{
		clientID:     clientID,
		alloc:        crdt.NewIDAllocator(clientID),
		sentOps:      make(map[crdt.OpID]crdt.CrdtOp),
		opLog:        crdt.NewOpLog(),
		vclock:       clock.NewVectorClock(),
		batchWindow:  DefaultBatchWindowMS,
		maxBatchSize: DefaultMaxBatchSize,
	}
}

// SetBatchWindow overrides the default batch window, in milliseconds.
// The engine itself does not sleep on this value; it is advisory for
// the transport loop driving GetPendingBatch on a timer.
func (e *Engine) SetBatchWindow(ms int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchWindow = ms
}

// BatchWindow returns the current batch window in milliseconds.
func (e *Engine) BatchWindow() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchWindow
}

// SetMaxBatchSize overrides the default per-batch op cap.
func (e *Engine) SetMaxBatchSize(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxBatchSize = n
}

// Allocator exposes the engine's IDAllocator so callers can mint OpIDs
// for ops before queuing them.
func (e *Engine) Allocator() *crdt.IDAllocator {
	return e.alloc
}

// QueueLocal appends a locally-produced op to the pending queue,
// advances the vector clock for this client, and appends it to the
// operation log.
func (e *Engine) QueueLocal(op crdt.CrdtOp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, op)
	id := op.ID()
	e.vclock.Increment(uint64(id.ClientID), id.Seq)
	e.opLog.Add(op)
}

// GetPendingBatch pops up to maxBatchSize ops off the front of
// pending, moves each into sentOps, and returns them tagged with the
// current vector clock and a fresh batch sequence number. Returns
// ok=false if pending is empty.
func (e *Engine) GetPendingBatch() (crdt.OpBatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return crdt.OpBatch{}, false
	}
	n := e.maxBatchSize
	if n <= 0 || n > len(e.pending) {
		n = len(e.pending)
	}
	batchOps := make([]crdt.CrdtOp, n)
	copy(batchOps, e.pending[:n])
	e.pending = e.pending[n:]

	for _, op := range batchOps {
		e.sentOps[op.ID()] = op
	}

	e.batchSeq++
	return crdt.NewOpBatch(e.batchSeq, batchOps, e.vclock.Clone()), true
}

// HandleAck removes each acknowledged id from sentOps. Unknown ids are
// silently ignored.
func (e *Engine) HandleAck(ids []crdt.OpID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.sentOps, id)
	}
}

// ApplyRemote attempts to add each remote op to the operation log. For
// every op that was genuinely new, the vector clock component for its
// client is advanced (a no-op under max semantics if already current).
// Returns the ids that were actually applied, for the caller to use
// when projecting these ops onto its local document state.
func (e *Engine) ApplyRemote(ops []crdt.CrdtOp) []crdt.OpID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var applied []crdt.OpID
	for _, op := range ops {
		if !e.opLog.Add(op) {
			continue
		}
		id := op.ID()
		e.vclock.Increment(uint64(id.ClientID), id.Seq)
		applied = append(applied, id)
	}
	return applied
}

// RetrySent drains sentOps back onto the front of pending, in
// unspecified order — the receiver re-establishes a stable order by
// OpID regardless of resend order. Afterward sentOps is empty.
func (e *Engine) RetrySent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sentOps) == 0 {
		return
	}
	resend := make([]crdt.CrdtOp, 0, len(e.sentOps))
	for _, op := range e.sentOps {
		resend = append(resend, op)
	}
	e.sentOps = make(map[crdt.OpID]crdt.CrdtOp)
	e.pending = append(resend, e.pending...)
}

// PendingCount reports the number of ops awaiting send.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// SentCount reports the number of ops in flight.
func (e *Engine) SentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sentOps)
}

// Clock returns a snapshot of what this engine has observed.
func (e *Engine) Clock() *clock.VectorClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vclock.Clone()
}

// OpLog exposes the underlying operation log, e.g. for SyncRequest
// fulfilment via OpsSince.
func (e *Engine) OpLog() *crdt.OpLog {
	return e.opLog
}

// SaveState captures client id, clock, log, pending queue, and
// batch_seq. sentOps is deliberately excluded: on restore, any ops
// that were in flight revert to pending so they are not silently lost.
func (e *Engine) SaveState() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logBytes, err := e.opLog.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("syncengine: save op log: %w", err)
	}

	// In-flight ops are written ahead of the pending queue, where
	// RetrySent would put them, so a restored engine sends them again.
	queued := make([]crdt.CrdtOp, 0, len(e.sentOps)+len(e.pending))
	for _, op := range e.sentOps {
		queued = append(queued, op)
	}
	queued = append(queued, e.pending...)
	pending := make([][]byte, 0, len(queued))
	for _, op := range queued {
		raw, err := crdt.MarshalOpJSON(op)
		if err != nil {
			return nil, fmt.Errorf("syncengine: save pending op: %w", err)
		}
		pending = append(pending, raw)
	}

	state := struct {
		ClientID uint64            `json:"client_id"`
		LastSeq  uint64            `json:"last_seq"`
		Clock    map[uint64]uint64 `json:"clock"`
		Log      json.RawMessage   `json:"log"`
		Pending  []json.RawMessage `json:"pending"`
		BatchSeq uint64            `json:"batch_seq"`
	}{
		ClientID: uint64(e.clientID),
		LastSeq:  e.alloc.LastIssued(),
		Clock:    e.vclock.Snapshot(),
		Log:      logBytes,
		BatchSeq: e.batchSeq,
	}
	for _, raw := range pending {
		state.Pending = append(state.Pending, raw)
	}
	return json.Marshal(state)
}

// RestoreState rebuilds an Engine from bytes produced by SaveState.
func RestoreState(data []byte) (*Engine, error) {
	var state struct {
		ClientID uint64            `json:"client_id"`
		LastSeq  uint64            `json:"last_seq"`
		Clock    map[uint64]uint64 `json:"clock"`
		Log      json.RawMessage   `json:"log"`
		Pending  []json.RawMessage `json:"pending"`
		BatchSeq uint64            `json:"batch_seq"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("syncengine: decode state: %w", err)
	}

	opLog, err := crdt.OpLogFromJSON(state.Log)
	if err != nil {
		return nil, fmt.Errorf("syncengine: restore op log: %w", err)
	}

	clientID := crdt.ClientID(state.ClientID)
	alloc := crdt.NewIDAllocator(clientID)
	alloc.FastForward(state.LastSeq)

	pending := make([]crdt.CrdtOp, 0, len(state.Pending))
	for _, raw := range state.Pending {
		op, err := crdt.UnmarshalOpJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("syncengine: restore pending op: %w", err)
		}
		pending = append(pending, op)
	}

	return &Engine{
		clientID:     clientID,
		alloc:        alloc,
		sentOps:      make(map[crdt.OpID]crdt.CrdtOp),
		opLog:        opLog,
		vclock:       clock.VectorClockFromMap(state.Clock),
		pending:      pending,
		batchSeq:     state.BatchSeq,
		batchWindow:  DefaultBatchWindowMS,
		maxBatchSize: DefaultMaxBatchSize,
	}, nil
}
