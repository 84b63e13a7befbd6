package crdt

import (
	"testing"

	"github.com/Polqt/crdtcollab/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(physical uint64) clock.Timestamp {
	return clock.Timestamp{Physical: physical}
}

func TestLWWRegisterLaterTimestampWins(t *testing.T) {
	r := NewLWWRegister[string]()
	assert.True(t, r.Set("first", ts(10), 1))
	assert.False(t, r.Set("stale", ts(5), 2))
	assert.True(t, r.Set("second", ts(20), 1))

	v, _, _, ok := r.Get()
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestLWWRegisterTieBrokenByWriter(t *testing.T) {
	r := NewLWWRegister[string]()
	assert.True(t, r.Set("low-writer", ts(10), 1))
	assert.True(t, r.Set("high-writer", ts(10), 5))
	assert.False(t, r.Set("late-low-writer", ts(10), 2))

	v, _, writer, _ := r.Get()
	assert.Equal(t, "high-writer", v)
	assert.Equal(t, ClientID(5), writer)
}

func TestLWWRegisterMergeCommutative(t *testing.T) {
	a := NewLWWRegister[string]()
	b := NewLWWRegister[string]()
	a.Set("from-a", ts(10), 1)
	b.Set("from-b", ts(20), 2)

	a.Merge(b)
	b.Merge(a)

	va, _, _, _ := a.Get()
	vb, _, _, _ := b.Get()
	assert.Equal(t, va, vb)
	assert.Equal(t, "from-b", va)
}

func TestLWWMapSetAndRemove(t *testing.T) {
	m := NewLWWMap[string, string]()
	assert.True(t, m.Set("bold", "true", ts(10), 1))
	v, ok := m.Get("bold")
	require.True(t, ok)
	assert.Equal(t, "true", v)

	assert.True(t, m.Remove("bold", ts(20), 1))
	_, ok = m.Get("bold")
	assert.False(t, ok)
	assert.True(t, m.ContainsKey("bold"))
}

func TestLWWMapConcurrentSetVsRemove(t *testing.T) {
	a := NewLWWMap[string, string]()
	b := NewLWWMap[string, string]()

	a.Set("color", "red", ts(10), 1)
	b.Remove("color", ts(10), 2)

	a.Merge(b)
	b.Merge(a)

	va, oka := a.Get("color")
	vb, okb := b.Get("color")
	assert.Equal(t, oka, okb)
	assert.Equal(t, va, vb)
}

func TestFormattingAttributesMergeShallow(t *testing.T) {
	bTrue := true
	a := FormattingAttributes{Bold: &bTrue}
	color := "blue"
	b := FormattingAttributes{Color: &color}

	merged := a.MergeShallow(b)
	require.NotNil(t, merged.Bold)
	assert.True(t, *merged.Bold)
	require.NotNil(t, merged.Color)
	assert.Equal(t, "blue", *merged.Color)
}
