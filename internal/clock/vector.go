// =============================================================================
// VECTOR CLOCK - Per-Process Logical Timestamps
// =============================================================================
//
// Each process owns one Vector of N counters, one slot per process.
//
//   Tick()      local broadcast event: own slot += 1
//   Merge(x)    delivery / sequencing: component-wise maximum with x
//   Snapshot()  copy to stamp onto an outbound REQUEST
//
// The vector is shared between the node's event loop (Merge) and the client
// request loop (Tick, Snapshot), so every access is guarded by an RWMutex.
// RLock/RUnlock are exported so a caller can hold a read section across a
// multi-step decision (the delivery buffer's deliverability check does this).
//
// =============================================================================
// INVARIANTS
// =============================================================================
//
// - len(clock) == N for the lifetime of the vector.
// - Only Tick changes the own slot by increment; Merge never decreases any
//   slot.
//
// =============================================================================

package clock

import (
	"errors"
	"fmt"
	"sync"
)

var ErrSize = errors.New("vector clock size mismatch")

type Vector struct {
	mu    sync.RWMutex
	self  int
	ticks []int
}

func New(n, self int) *Vector {
	return &Vector{self: self, ticks: make([]int, n)}
}

func (v *Vector) Len() int {
	return len(v.ticks)
}

func (v *Vector) Tick() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ticks[v.self]++
	return copyTicks(v.ticks)
}

// Merge sets the vector to the element-wise maximum of itself and other and
// returns a copy of the result.
func (v *Vector) Merge(other []int) ([]int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(other) != len(v.ticks) {
		return nil, fmt.Errorf("%w: have %d, got %d", ErrSize, len(v.ticks), len(other))
	}
	for i := range v.ticks {
		if other[i] > v.ticks[i] {
			v.ticks[i] = other[i]
		}
	}
	return copyTicks(v.ticks), nil
}

func (v *Vector) Snapshot() []int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyTicks(v.ticks)
}

func (v *Vector) RLock()   { v.mu.RLock() }
func (v *Vector) RUnlock() { v.mu.RUnlock() }

// LessOrEqual reports whether x happened before or equals y.
func LessOrEqual(x, y []int) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] > y[i] {
			return false
		}
	}
	return true
}

func copyTicks(t []int) []int {
	return append([]int(nil), t...)
}
