package registry

import "sync"

// Table maps a crate name to its ordered implementor snippets. Snippet order
// is display order; the strings themselves are opaque pre-formatted markup.
type Table map[string][]string

// Clone returns a copy of the table with freshly allocated snippet slices.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for name, snippets := range t {
		cp := make([]string, len(snippets))
		copy(cp, snippets)
		out[name] = cp
	}
	return out
}

// Callback consumes a published table.
type Callback func(Table)

// Registry is a single-slot callback-or-buffer cell. A published table is
// handed to the bound callback synchronously; with no callback bound it is
// parked in the pending slot, replacing whatever was there. Binding a
// callback drains the pending slot at most once.
type Registry struct {
	mu         sync.Mutex
	callback   Callback
	pending    Table
	hasPending bool
}

func New() *Registry {
	return &Registry{}
}

// Publish delivers t to the bound callback, or parks it in the pending slot.
// Exactly one of the two happens. The callback runs outside the lock, so it
// may itself publish; anything it panics with reaches the Publish caller.
func (r *Registry) Publish(t Table) {
	r.mu.Lock()
	cb := r.callback
	if cb == nil {
		r.pending = t
		r.hasPending = true
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	cb(t)
}

// Bind installs cb, replacing any previous callback. A pending table is
// delivered to cb immediately and the slot is cleared.
func (r *Registry) Bind(cb Callback) {
	r.mu.Lock()
	r.callback = cb
	t := r.pending
	deliver := r.hasPending && cb != nil
	if deliver {
		r.pending = nil
		r.hasPending = false
	}
	r.mu.Unlock()

	if deliver {
		cb(t)
	}
}

// Bound reports whether a callback is currently installed.
func (r *Registry) Bound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callback != nil
}

// Pending returns the parked table, if any. The slot is left untouched.
func (r *Registry) Pending() (Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending, r.hasPending
}
