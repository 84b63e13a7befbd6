package crdt

import (
	"sync"

	"github.com/Polqt/crdtcollab/clock"
)

// LWWRegister is a last-writer-wins register over a value of type T.
// An update is accepted iff (incoming timestamp, incoming writer) is
// strictly greater than (current timestamp, current writer) in
// lexicographic order.
type LWWRegister[T any] struct {
	mu        sync.RWMutex
	value     T
	timestamp clock.Timestamp
	writer    ClientID
	set       bool
}

// NewLWWRegister creates a zero-valued, never-written register.
func NewLWWRegister[T any]() *LWWRegister[T] {
	return &LWWRegister[T]{}
}

// Set applies val as having been written by writer at ts, applying the
// last-writer-wins acceptance rule. Returns whether the write was
// accepted.
func (r *LWWRegister[T]) Set(val T, ts clock.Timestamp, writer ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(val, ts, writer)
}

func (r *LWWRegister[T]) applyLocked(val T, ts clock.Timestamp, writer ClientID) bool {
	if r.set {
		if !shouldAccept(ts, writer, r.timestamp, r.writer) {
			return false
		}
	}
	r.value = val
	r.timestamp = ts
	r.writer = writer
	r.set = true
	return true
}

// shouldAccept reports whether (ts, writer) strictly dominates
// (curTs, curWriter) in lexicographic order.
func shouldAccept(ts clock.Timestamp, writer ClientID, curTs clock.Timestamp, curWriter ClientID) bool {
	if ts.Less(curTs) {
		return false
	}
	if curTs.Less(ts) {
		return true
	}
	return writer > curWriter
}

// Get returns the current value, its timestamp, and whether the
// register has ever been written.
func (r *LWWRegister[T]) Get() (value T, ts clock.Timestamp, writer ClientID, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.timestamp, r.writer, r.set
}

// Merge pulls in another replica's register state under the same
// acceptance rule.
func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) {
	val, ts, writer, ok := other.Get()
	if !ok {
		return
	}
	r.Set(val, ts, writer)
}

// LWWMap is a keyed collection of LWW registers over Option<Value>;
// an absent value represents a tombstone, retained to settle
// concurrent set-vs-remove races.
type LWWMap[K comparable, V any] struct {
	mu        sync.RWMutex
	registers map[K]*LWWRegister[*V]
}

// NewLWWMap creates an empty map.
func NewLWWMap[K comparable, V any]() *LWWMap[K, V] {
	return &LWWMap[K, V]{registers: make(map[K]*LWWRegister[*V])}
}

func (m *LWWMap[K, V]) registerFor(key K) *LWWRegister[*V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registers[key]
	if !ok {
		r = NewLWWRegister[*V]()
		m.registers[key] = r
	}
	return r
}

// Set records value for key as written by writer at ts. Returns
// whether the write was accepted.
func (m *LWWMap[K, V]) Set(key K, value V, ts clock.Timestamp, writer ClientID) bool {
	v := value
	return m.registerFor(key).Set(&v, ts, writer)
}

// Remove tombstones key as written by writer at ts. Returns whether
// the removal was accepted.
func (m *LWWMap[K, V]) Remove(key K, ts clock.Timestamp, writer ClientID) bool {
	return m.registerFor(key).Set(nil, ts, writer)
}

// Get returns the visible value for key, or ok=false if absent or
// tombstoned.
func (m *LWWMap[K, V]) Get(key K) (value V, ok bool) {
	m.mu.RLock()
	r, exists := m.registers[key]
	m.mu.RUnlock()
	if !exists {
		return value, false
	}
	v, _, _, set := r.Get()
	if !set || v == nil {
		return value, false
	}
	return *v, true
}

// ContainsKey reports whether key has ever been set (tombstoned or
// not).
func (m *LWWMap[K, V]) ContainsKey(key K) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registers[key]
	return ok
}

// HasValue reports whether key is present and not tombstoned.
func (m *LWWMap[K, V]) HasValue(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the visible (non-tombstoned) keys.
func (m *LWWMap[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []K
	for k, r := range m.registers {
		if _, _, _, set := r.Get(); set {
			if v, _, _, _ := r.Get(); v != nil {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Len reports the number of visible (non-tombstoned) entries.
func (m *LWWMap[K, V]) Len() int {
	return len(m.Keys())
}

// TotalKeys reports the number of entries including tombstones, used
// by out-of-band compaction.
func (m *LWWMap[K, V]) TotalKeys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registers)
}

// Merge applies every entry of other into m using its stored timestamp
// and writer.
func (m *LWWMap[K, V]) Merge(other *LWWMap[K, V]) {
	other.mu.RLock()
	entries := make(map[K]*LWWRegister[*V], len(other.registers))
	for k, r := range other.registers {
		entries[k] = r
	}
	other.mu.RUnlock()

	for k, r := range entries {
		v, ts, writer, ok := r.Get()
		if !ok {
			continue
		}
		m.registerFor(k).Set(v, ts, writer)
	}
}

// FormattingAttributes is a fixed-field alternative to full per-key LWW
// for the common case of merging a small, known set of formatting
// flags (bold/italic/underline/...). Unlike LWWMap, the merge is a
// shallow field-by-field overwrite rather than timestamp-compared —
// callers that need causal correctness per attribute should use
// LWWMap instead.
type FormattingAttributes struct {
	Bold      *bool
	Italic    *bool
	Underline *bool
	Color     *string
}

// MergeShallow overwrites every non-nil field of other onto a.
func (a FormattingAttributes) MergeShallow(other FormattingAttributes) FormattingAttributes {
	out := a
	if other.Bold != nil {
		out.Bold = other.Bold
	}
	if other.Italic != nil {
		out.Italic = other.Italic
	}
	if other.Underline != nil {
		out.Underline = other.Underline
	}
	if other.Color != nil {
		out.Color = other.Color
	}
	return out
}
