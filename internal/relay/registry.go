// Package relay provides the Registry, the single piece of shared mutable
// state mapping user identities to live connection handles.
package relay

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry maps each identity to at most one live Handle. The identity is the
// sole key, so a handle can never appear under two identities as a side
// effect of re-registration, and an identity can never hold two handles.
// All methods are safe for concurrent use and linearizable with respect to
// each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Handle
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Handle),
	}
}

// Register binds identity to handle, replacing any previous binding. The
// replaced handle is not closed; it simply stops being reachable through
// Lookup. A nil handle is ignored.
func (r *Registry) Register(identity string, handle Handle) {
	if handle == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[identity] = handle
}

// Lookup returns the handle bound to identity, if any.
func (r *Registry) Lookup(identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.entries[identity]
	return handle, ok
}

// Unregister removes the binding for identity. It is a no-op when the
// identity is not bound.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, identity)
}

// UnregisterByHandle removes every binding whose handle equals handle and
// returns the identities it removed. Calling it again, or with a handle that
// was never registered, removes nothing.
func (r *Registry) UnregisterByHandle(handle Handle) []string {
	if handle == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for identity, bound := range r.entries {
		if bound == handle {
			delete(r.entries, identity)
			removed = append(removed, identity)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len returns the number of bound identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Identities returns a sorted snapshot of the bound identities.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	identities := lo.Keys(r.entries)
	r.mu.RUnlock()

	sort.Strings(identities)
	return identities
}
