package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerUpdateUserAssignsColorRoundRobin(t *testing.T) {
	m := NewManager()
	m.SetColors([]string{"red", "green"})

	a := m.UpdateUser("alice", "Alice", 0)
	b := m.UpdateUser("bob", "Bob", 0)
	c := m.UpdateUser("carol", "Carol", 0)

	assert.Equal(t, "red", a.Color)
	assert.Equal(t, "green", b.Color)
	assert.Equal(t, "red", c.Color)
}

func TestManagerUpdateUserKeepsColorAcrossRepeatedUpdates(t *testing.T) {
	m := NewManager()
	first := m.UpdateUser("alice", "Alice", 0)
	second := m.UpdateUser("alice", "Alice", 100)

	assert.Equal(t, first.Color, second.Color)
}

func TestManagerUpdateCursorUnknownUserErrors(t *testing.T) {
	m := NewManager()
	err := m.UpdateCursor("nobody", Position{NodeID: "n", Offset: 1}, 0)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestManagerCleanupIdleEvictsPastThreshold(t *testing.T) {
	m := NewManager()
	m.SetIdleThreshold(1000)
	m.UpdateUser("alice", "Alice", 0)
	m.UpdateUser("bob", "Bob", 5000)

	evicted := m.CleanupIdle(5000)
	assert.ElementsMatch(t, []string{"alice"}, evicted)

	_, ok := m.Get("alice")
	assert.False(t, ok)
	_, ok = m.Get("bob")
	assert.True(t, ok)
}

func TestManagerRemoteCursorsExcludesSelfAndUnset(t *testing.T) {
	m := NewManager()
	m.UpdateUser("alice", "Alice", 0)
	m.UpdateUser("bob", "Bob", 0)
	m.UpdateUser("carol", "Carol", 0)

	require.NoError(t, m.UpdateCursor("alice", Position{NodeID: "n", Offset: 1}, 0))
	require.NoError(t, m.UpdateCursor("bob", Position{NodeID: "n", Offset: 2}, 0))

	cursors := m.RemoteCursors("alice")
	assert.Contains(t, cursors, "bob")
	assert.NotContains(t, cursors, "alice")
	assert.NotContains(t, cursors, "carol")
}

func TestManagerRemoveUserKeepsColorAssignmentForRejoin(t *testing.T) {
	m := NewManager()
	m.SetColors([]string{"red", "green"})
	before := m.UpdateUser("alice", "Alice", 0)
	m.RemoveUser("alice")

	_, ok := m.Get("alice")
	assert.False(t, ok)

	after := m.UpdateUser("alice", "Alice", 0)
	assert.Equal(t, before.Color, after.Color)
}

func TestManagerRemoveUserDoesNotReassignItsColorToSomeoneElse(t *testing.T) {
	m := NewManager()
	m.SetColors([]string{"red", "green"})
	m.UpdateUser("alice", "Alice", 0) // red
	m.RemoveUser("alice")

	bob := m.UpdateUser("bob", "Bob", 0)
	assert.Equal(t, "green", bob.Color)
}
