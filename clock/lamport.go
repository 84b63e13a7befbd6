// Package clock implements the logical-time primitives used to order
// operations across replicas: a Lamport counter, a hybrid logical clock,
// and a vector clock.
package clock

import "sync"

// Lamport is a classic Lamport logical clock.
type Lamport struct {
	mu      sync.Mutex
	counter uint64
}

// NewLamport creates a Lamport clock starting at zero.
func NewLamport() *Lamport {
	return &Lamport{}
}

// Tick increments the counter and returns the new value.
func (l *Lamport) Tick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter++
	return l.counter
}

// Update folds in a received counter value: counter = max(counter, received) + 1.
func (l *Lamport) Update(received uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if received > l.counter {
		l.counter = received
	}
	l.counter++
	return l.counter
}

// Sync folds in a received counter value without incrementing.
func (l *Lamport) Sync(received uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if received > l.counter {
		l.counter = received
	}
}

// Value returns the current counter without mutating it.
func (l *Lamport) Value() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}
