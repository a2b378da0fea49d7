// Package idalloc allocates small integer ids (node, buffer, and bus ids)
// out of a bounded range, preferring to reuse freed ids before handing
// out new ones, and detecting double frees.
//
// The reference OSC client this package's owner is modeled on hands out
// ids from a bare incrementing counter with no reuse. That's sufficient
// for short scripts but leaks ids for anything long-running, so this
// allocator keeps a free list and only advances its high-water mark when
// the free list is empty.
package idalloc

import (
	"fmt"
	"sync"

	"github.com/oschost/sc3osc/oscerr"
)

// Allocator hands out integer ids from the half-open range [low, high).
type Allocator struct {
	mu       sync.Mutex
	low      int32
	high     int32
	next     int32
	free     []int32
	inUse    map[int32]bool
	name     string
}

// New creates an Allocator over the half-open range [low, high).
func New(name string, low, high int32) *Allocator {
	return &Allocator{
		name:  name,
		low:   low,
		high:  high,
		next:  low,
		inUse: make(map[int32]bool),
	}
}

// Allocate returns a single id, preferring the oldest freed id over
// advancing the high-water mark. It returns oscerr.ErrExhausted if the
// range is exhausted.
func (a *Allocator) Allocate() (int32, error) {
	ids, err := a.AllocateN(1)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AllocateN returns n ids, taken either all from the free list or all
// from the high-water mark. If the free list can satisfy the whole
// request it is drained oldest-freed-first (FIFO), which keeps the ids
// the caller sees dense and predictable; otherwise the allocator falls
// back to the next unused ids in [low, high).
func (a *Allocator) AllocateN(n int) ([]int32, error) {
	if n <= 0 {
		return nil, fmt.Errorf("idalloc: n must be positive, got %d", n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	drawn := 0
	if len(a.free) >= n {
		drawn = n
	}

	ids := make([]int32, 0, n)
	ids = append(ids, a.free[:drawn]...)

	for len(ids) < n {
		if a.next >= a.high {
			// Roll back what we've reserved from the free list, and any
			// ids drawn from the high-water mark this call, so a failed
			// AllocateN doesn't leak ids.
			a.free = append(ids, a.free[drawn:]...)
			return nil, fmt.Errorf("%s: %w", a.name, oscerr.ErrExhausted)
		}
		ids = append(ids, a.next)
		a.next++
	}

	a.free = a.free[drawn:]

	for _, id := range ids {
		a.inUse[id] = true
	}

	return ids, nil
}

// Free returns ids to the allocator's free list. Freeing an id the
// allocator never handed out, or one already free, returns
// oscerr.ErrInvalidID / oscerr.ErrDoubleFree without freeing any of the
// other ids in the call.
func (a *Allocator) Free(ids ...int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range ids {
		if id < a.low || id >= a.high {
			return fmt.Errorf("%s: id %d: %w", a.name, id, oscerr.ErrInvalidID)
		}
		if !a.inUse[id] {
			if id >= a.next {
				return fmt.Errorf("%s: id %d: %w", a.name, id, oscerr.ErrInvalidID)
			}
			return fmt.Errorf("%s: id %d: %w", a.name, id, oscerr.ErrDoubleFree)
		}
	}

	for _, id := range ids {
		delete(a.inUse, id)
		a.free = append(a.free, id)
	}
	return nil
}

// InUse reports how many ids are currently allocated.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

// Reset returns the allocator to its initial empty state, discarding all
// in-use and free ids.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = a.low
	a.free = nil
	a.inUse = make(map[int32]bool)
}
