package store

import (
	"sync"
	"testing"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opAt(client, seq uint64) crdt.CrdtOp {
	id := crdt.OpID{ClientID: crdt.ClientID(client), Seq: seq}
	return crdt.TextInsert{IDValue: id, NodeID: "n", ParentOpID: crdt.RootSentinel, Char: 'a'}
}

func TestMemoryStoreSaveOperationAssignsIncreasingVersions(t *testing.T) {
	s := NewMemoryStore()
	v1, err := s.SaveOperation("doc-1", opAt(1, 1))
	require.NoError(t, err)
	v2, err := s.SaveOperation("doc-1", opAt(1, 2))
	require.NoError(t, err)

	assert.Equal(t, Version(1), v1)
	assert.Equal(t, Version(2), v2)
}

func TestMemoryStoreOperationsSinceFiltersAndDefaultsEmpty(t *testing.T) {
	s := NewMemoryStore()
	s.SaveOperation("doc-1", opAt(1, 1))
	s.SaveOperation("doc-1", opAt(1, 2))

	ops, err := s.OperationsSince("doc-1", 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, Version(2), ops[0].Version)

	ops, err = s.OperationsSince("never-seen", 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestMemoryStoreVectorClockTracksPerClientMax(t *testing.T) {
	s := NewMemoryStore()
	s.SaveOperation("doc-1", opAt(1, 5))
	s.SaveOperation("doc-1", opAt(2, 3))

	ops, err := s.OperationsSince("doc-1", 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.EqualValues(t, 5, ops[1].Clock[1])
	assert.EqualValues(t, 3, ops[1].Clock[2])
}

func TestMemoryStoreLatestVersionDefaultsToZero(t *testing.T) {
	s := NewMemoryStore()
	v, err := s.LatestVersion("never-seen")
	require.NoError(t, err)
	assert.Equal(t, Version(0), v)
}

func TestMemoryStoreSnapshotOverwritesPrior(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.SaveSnapshot("doc-1", Snapshot{Version: 1, Bytes: []byte("first")}))
	require.NoError(t, s.SaveSnapshot("doc-1", Snapshot{Version: 2, Bytes: []byte("second")}))

	snap, err := s.LatestSnapshot("doc-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, Version(2), snap.Version)
	assert.Equal(t, []byte("second"), snap.Bytes)
}

func TestMemoryStoreDeleteAndExists(t *testing.T) {
	s := NewMemoryStore()
	s.SaveOperation("doc-1", opAt(1, 1))
	assert.True(t, s.DocumentExists("doc-1"))

	require.NoError(t, s.DeleteDocument("doc-1"))
	assert.False(t, s.DocumentExists("doc-1"))
}

func TestMemoryStoreThreadSafety(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for client := 1; client <= 4; client++ {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()
			for seq := 1; seq <= 10; seq++ {
				_, err := s.SaveOperation("doc-shared", opAt(uint64(client), uint64(seq)))
				assert.NoError(t, err)
			}
		}(client)
	}
	wg.Wait()

	ops, err := s.OperationsSince("doc-shared", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 40)

	versions := make(map[Version]bool, 40)
	for _, op := range ops {
		assert.False(t, versions[op.Version], "duplicate version assigned under concurrent writers")
		versions[op.Version] = true
	}
}
