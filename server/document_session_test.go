package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/crdtcollab/clock"
	"github.com/Polqt/crdtcollab/crdt"
)

func insertOp(client crdt.ClientID, seq uint64) crdt.CrdtOp {
	return crdt.TextInsert{
		IDValue:    crdt.OpID{ClientID: client, Seq: seq},
		NodeID:     "n",
		ParentOpID: crdt.RootSentinel,
		Char:       'a',
	}
}

func TestDocumentSessionOpsSinceFiltersByClock(t *testing.T) {
	s := newDocumentSession()
	s.addOps([]crdt.CrdtOp{insertOp(1, 1), insertOp(1, 2), insertOp(2, 1)})

	since := clock.NewVectorClock()
	since.Set(1, 1)
	got := s.opsSince(since)

	require.Len(t, got, 2)
	ids := []crdt.OpID{got[0].ID(), got[1].ID()}
	assert.Contains(t, ids, crdt.OpID{ClientID: 1, Seq: 2})
	assert.Contains(t, ids, crdt.OpID{ClientID: 2, Seq: 1})
}

func TestDocumentSessionsGetOrCreateIsPerDocument(t *testing.T) {
	ds := newDocumentSessions()
	a := ds.getOrCreate("doc-1")
	b := ds.getOrCreate("doc-1")
	c := ds.getOrCreate("doc-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestDocumentSessionClockSnapshotReflectsAddedOps(t *testing.T) {
	s := newDocumentSession()
	s.addOps([]crdt.CrdtOp{insertOp(5, 3)})
	snap := s.clockSnapshot().Snapshot()
	assert.Equal(t, uint64(3), snap[5])
}
