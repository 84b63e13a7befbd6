package crdt

import "github.com/Polqt/crdtcollab/clock"

// OpType tags the concrete variant of a CrdtOp for wire/storage
// encoding.
type OpType string

const (
	OpTextInsert  OpType = "text_insert"
	OpTextDelete  OpType = "text_delete"
	OpFormatSet   OpType = "format_set"
	OpBlockInsert OpType = "block_insert"
	OpBlockDelete OpType = "block_delete"
	OpBlockMove   OpType = "block_move"
	OpBlockUpdate OpType = "block_update"
)

// CrdtOp is the tagged union of every operation this core accepts.
// It is realized as an interface with an unexported marker method so
// the only implementations are the variant structs below — a closed
// sum type.
type CrdtOp interface {
	isCrdtOp()
	// ID returns this operation's own OpID.
	ID() OpID
	// OpType reports the concrete variant, for wire/storage tagging.
	OpType() OpType
	// IsInsert reports whether this op introduces new material.
	IsInsert() bool
	// IsDelete reports whether this op tombstones existing material.
	IsDelete() bool
	// TargetID returns the OpID of the material this op acts on, if
	// any (delete/move/update variants); ok is false for inserts.
	TargetID() (id OpID, ok bool)
}

// BlockDataKind tags which concrete payload BlockData carries. The
// document-schema crate that defines the real block payload types is
// out of scope for this core; these three variants are the minimal
// opaque shapes needed to exercise BlockInsert/BlockUpdate end to end.
type BlockDataKind string

const (
	BlockKindParagraph BlockDataKind = "paragraph"
	BlockKindImage      BlockDataKind = "image"
	BlockKindTable      BlockDataKind = "table"
)

// BlockData is an opaque block payload, treated as an inert value by
// this core.
type BlockData struct {
	Kind      BlockDataKind `json:"kind"`
	Paragraph *ParagraphData `json:"paragraph,omitempty"`
	Image     *ImageData     `json:"image,omitempty"`
	Table     *TableData     `json:"table,omitempty"`
}

type ParagraphData struct {
	Style string `json:"style"`
}

type ImageData struct {
	Src    string `json:"src"`
	Alt    string `json:"alt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type TableData struct {
	Rows       int               `json:"rows"`
	Cols       int               `json:"cols"`
	Properties map[string]string `json:"properties,omitempty"`
}

// TextInsert inserts a character after parent in the RGA of NodeID.
type TextInsert struct {
	IDValue    OpID   `json:"id"`
	NodeID     NodeID `json:"node_id"`
	ParentOpID OpID   `json:"parent_op_id"`
	Char       rune   `json:"char"`
}

func (TextInsert) isCrdtOp()                  {}
func (o TextInsert) ID() OpID                 { return o.IDValue }
func (TextInsert) OpType() OpType             { return OpTextInsert }
func (TextInsert) IsInsert() bool             { return true }
func (TextInsert) IsDelete() bool             { return false }
func (TextInsert) TargetID() (OpID, bool)     { return OpID{}, false }

// TextDelete tombstones the character named by TargetOpID.
type TextDelete struct {
	IDValue      OpID `json:"id"`
	TargetOpID   OpID `json:"target_id"`
}

func (TextDelete) isCrdtOp()              {}
func (o TextDelete) ID() OpID             { return o.IDValue }
func (TextDelete) OpType() OpType         { return OpTextDelete }
func (TextDelete) IsInsert() bool         { return false }
func (TextDelete) IsDelete() bool         { return true }
func (o TextDelete) TargetID() (OpID, bool) { return o.TargetOpID, true }

// FormatSet applies an LWW attribute write over the inclusive
// [StartOpID, EndOpID] range of NodeID.
type FormatSet struct {
	IDValue   OpID            `json:"id"`
	NodeID    NodeID          `json:"node_id"`
	StartOpID OpID            `json:"start_op_id"`
	EndOpID   OpID            `json:"end_op_id"`
	Attribute string          `json:"attribute"`
	Value     any             `json:"value"`
	Timestamp clock.Timestamp `json:"timestamp"`
}

func (FormatSet) isCrdtOp()              {}
func (o FormatSet) ID() OpID             { return o.IDValue }
func (FormatSet) OpType() OpType         { return OpFormatSet }
func (FormatSet) IsInsert() bool         { return false }
func (FormatSet) IsDelete() bool         { return false }
func (FormatSet) TargetID() (OpID, bool) { return OpID{}, false }

// BlockInsert inserts a block child after AfterSibling under ParentOpID.
type BlockInsert struct {
	IDValue      OpID      `json:"id"`
	ParentOpID   OpID      `json:"parent_op_id"`
	AfterSibling OpID      `json:"after_sibling"`
	NodeID       NodeID    `json:"node_id"`
	Data         BlockData `json:"data"`
}

func (BlockInsert) isCrdtOp()                {}
func (o BlockInsert) ID() OpID               { return o.IDValue }
func (BlockInsert) OpType() OpType           { return OpBlockInsert }
func (BlockInsert) IsInsert() bool           { return true }
func (BlockInsert) IsDelete() bool           { return false }
func (BlockInsert) TargetID() (OpID, bool)   { return OpID{}, false }

// BlockDelete tombstones the block named by TargetOpID.
type BlockDelete struct {
	IDValue    OpID `json:"id"`
	TargetOpID OpID `json:"target_id"`
}

func (BlockDelete) isCrdtOp()                {}
func (o BlockDelete) ID() OpID               { return o.IDValue }
func (BlockDelete) OpType() OpType           { return OpBlockDelete }
func (BlockDelete) IsInsert() bool           { return false }
func (BlockDelete) IsDelete() bool           { return true }
func (o BlockDelete) TargetID() (OpID, bool) { return o.TargetOpID, true }

// BlockMove relocates the block named by TargetOpID to be a child of
// NewParent, positioned after AfterSibling.
type BlockMove struct {
	IDValue      OpID `json:"id"`
	TargetOpID   OpID `json:"target_id"`
	NewParent    OpID `json:"new_parent"`
	AfterSibling OpID `json:"after_sibling"`
}

func (BlockMove) isCrdtOp()                {}
func (o BlockMove) ID() OpID               { return o.IDValue }
func (BlockMove) OpType() OpType           { return OpBlockMove }
func (BlockMove) IsInsert() bool           { return false }
func (BlockMove) IsDelete() bool           { return false }
func (o BlockMove) TargetID() (OpID, bool) { return o.TargetOpID, true }

// BlockUpdate is an LWW update of the block payload named by TargetOpID.
type BlockUpdate struct {
	IDValue    OpID            `json:"id"`
	TargetOpID OpID            `json:"target_id"`
	Data       BlockData       `json:"data"`
	Timestamp  clock.Timestamp `json:"timestamp"`
}

func (BlockUpdate) isCrdtOp()                {}
func (o BlockUpdate) ID() OpID               { return o.IDValue }
func (BlockUpdate) OpType() OpType           { return OpBlockUpdate }
func (BlockUpdate) IsInsert() bool           { return false }
func (BlockUpdate) IsDelete() bool           { return false }
func (o BlockUpdate) TargetID() (OpID, bool) { return o.TargetOpID, true }

// ConflictsWith reports whether a and b are concurrent writes to the
// same material: same target (for delete/move/update) or same node
// (for inserts into the same parent). This is informational — the
// CRDT layer always converges regardless — and nothing in this module's
// apply paths consults it.
func ConflictsWith(a, b CrdtOp) bool {
	if a.ID() == b.ID() {
		return false
	}
	switch x := a.(type) {
	case TextInsert:
		if y, ok := b.(TextInsert); ok {
			return x.NodeID == y.NodeID && x.ParentOpID == y.ParentOpID
		}
	case BlockInsert:
		if y, ok := b.(BlockInsert); ok {
			return x.ParentOpID == y.ParentOpID
		}
	}
	at, aok := a.TargetID()
	bt, bok := b.TargetID()
	if aok && bok {
		return at == bt
	}
	return false
}

// OpBatch is an ordered group of ops handed to a transport together,
// tagged with the vector clock at the time the batch was built.
type OpBatch struct {
	Seq   uint64
	Ops   []CrdtOp
	Clock *clock.VectorClock
}

// NewOpBatch creates a batch from ops with the given sequence and
// clock snapshot.
func NewOpBatch(seq uint64, ops []CrdtOp, vc *clock.VectorClock) OpBatch {
	return OpBatch{Seq: seq, Ops: ops, Clock: vc}
}

// IsEmpty reports whether the batch carries no operations.
func (b OpBatch) IsEmpty() bool {
	return len(b.Ops) == 0
}

// Len reports the number of operations in the batch.
func (b OpBatch) Len() int {
	return len(b.Ops)
}
