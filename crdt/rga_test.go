package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRGAConcurrentInsertSamePosition(t *testing.T) {
	r := NewRGA[string]()
	require.NoError(t, r.Insert(RootSentinel, "x", OpID{ClientID: 1, Seq: 1}))

	// two clients concurrently insert after the same parent
	require.NoError(t, r.Insert(OpID{ClientID: 1, Seq: 1}, "a", OpID{ClientID: 1, Seq: 2}))
	require.NoError(t, r.Insert(OpID{ClientID: 1, Seq: 1}, "b", OpID{ClientID: 2, Seq: 1}))

	assert.Equal(t, []string{"x", "b", "a"}, r.ToSlice())
}

func TestRGAThreeWayConcurrentInsertConverges(t *testing.T) {
	build := func(order []OpID) *RGA[string] {
		r := NewRGA[string]()
		values := map[OpID]string{
			{ClientID: 1, Seq: 1}: "a",
			{ClientID: 2, Seq: 1}: "b",
			{ClientID: 3, Seq: 1}: "c",
		}
		for _, id := range order {
			require.NoError(t, r.ApplyInsert(RootSentinel, values[id], id))
		}
		return r
	}

	a := build([]OpID{{1, 1}, {2, 1}, {3, 1}})
	b := build([]OpID{{3, 1}, {1, 1}, {2, 1}})
	c := build([]OpID{{2, 1}, {3, 1}, {1, 1}})

	want := []string{"a", "b", "c"}
	assert.Equal(t, want, a.ToSlice())
	assert.Equal(t, want, b.ToSlice())
	assert.Equal(t, want, c.ToSlice())
}

func TestRGADeleteIsTombstoneNotRemoval(t *testing.T) {
	r := NewRGA[string]()
	id := OpID{ClientID: 1, Seq: 1}
	require.NoError(t, r.Insert(RootSentinel, "a", id))
	assert.True(t, r.Delete(id))

	assert.Empty(t, r.ToSlice())
	assert.True(t, r.Contains(id))
	_, tombstoned, found := r.GetNode(id)
	assert.True(t, found)
	assert.True(t, tombstoned)
}

func TestRGADeleteIdempotent(t *testing.T) {
	r := NewRGA[string]()
	id := OpID{ClientID: 1, Seq: 1}
	require.NoError(t, r.Insert(RootSentinel, "a", id))
	assert.True(t, r.ApplyDelete(id))
	assert.True(t, r.ApplyDelete(id))
	assert.False(t, r.Delete(OpID{ClientID: 9, Seq: 9}))
}

func TestRGAInsertMissingParentErrors(t *testing.T) {
	r := NewRGA[string]()
	err := r.Insert(OpID{ClientID: 9, Seq: 9}, "a", OpID{ClientID: 1, Seq: 1})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestRGAApplyInsertIdempotent(t *testing.T) {
	r := NewRGA[string]()
	id := OpID{ClientID: 1, Seq: 1}
	require.NoError(t, r.ApplyInsert(RootSentinel, "a", id))
	require.NoError(t, r.ApplyInsert(RootSentinel, "b", id))
	v, _, _ := r.GetNode(id)
	assert.Equal(t, "a", v)
}

func TestRGAMergeConverges(t *testing.T) {
	left := NewRGA[string]()
	right := NewRGA[string]()

	require.NoError(t, left.Insert(RootSentinel, "a", OpID{1, 1}))
	require.NoError(t, right.Insert(RootSentinel, "b", OpID{2, 1}))

	require.NoError(t, left.Merge(right))
	require.NoError(t, right.Merge(left))

	assert.Equal(t, left.ToSlice(), right.ToSlice())
}
