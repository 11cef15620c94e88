// Package weakref implements the §9 design note "weak parent references
// from children tasks": child tasks (a session's transient goroutines, a
// channel owned by a session) must be able to reach their parent without
// the parent's lifetime being extended by the reference, and without a
// reference cycle. Go has no weak pointers, so this is modeled as an
// arena of live parents indexed by handle, plus a Ref that looks the
// handle up on every use. Once the parent removes itself (on stop), every
// outstanding Ref resolves to "gone" and the holder is expected to exit as
// if cancelled, per the design note.
//
// The locking idiom (a single RWMutex guarding a plain map) is grounded on
// opd-ai-toxcore/dht/routing.go's RouteTable, generalized from a
// fixed-purpose peer table to a generic handle arena.
package weakref

import "sync"

// Handle identifies one arena slot. The zero Handle never refers to a live
// entry.
type Handle uint64

// Arena owns a set of values of type T, each addressable by a Handle. It
// is safe for concurrent use.
type Arena[T any] struct {
	mu      sync.RWMutex
	entries map[Handle]*T
	next    Handle
}

// NewArena returns an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{entries: make(map[Handle]*T)}
}

// Put registers v and returns a weak Ref to it plus the Handle that
// identifies the slot (callers that own the parent keep the Handle so
// they can Remove it later; children are only ever given the Ref).
func (a *Arena[T]) Put(v *T) (Handle, *Ref[T]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	h := a.next
	a.entries[h] = v
	return h, &Ref[T]{arena: a, handle: h}
}

// Remove drops the entry for h. Outstanding Refs to h subsequently resolve
// to (nil, false). Safe to call more than once.
func (a *Arena[T]) Remove(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, h)
}

// Len reports the number of live entries, mostly useful in tests.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *Arena[T]) resolve(h Handle) (*T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.entries[h]
	return v, ok
}

// Ref is a weak reference to an arena entry. A child task holds a Ref, not
// a *T, so that the parent's removal is observable rather than keeping
// the parent alive through the reference.
type Ref[T any] struct {
	arena  *Arena[T]
	handle Handle
}

// Resolve returns the live value and true, or (nil, false) if the parent
// has been removed from the arena. Per the design note, a child task that
// observes false should exit as if its stop signal had fired.
func (r *Ref[T]) Resolve() (*T, bool) {
	if r == nil || r.arena == nil {
		return nil, false
	}
	return r.arena.resolve(r.handle)
}

// Handle returns the underlying handle, for logging/diagnostics.
func (r *Ref[T]) Handle() Handle {
	if r == nil {
		return 0
	}
	return r.handle
}
