// Package overlay keeps client-local optimistic patches layered over
// authoritative rows until the realtime stream catches up or the pending
// mutation fails. Patches converge all-or-nothing: a patch is cleared only
// when every patched field matches the fresh document, never piecemeal,
// which is what keeps rows from flickering between stale and fresh halves.
package overlay

import (
	"reflect"
	"sync"

	"github.com/example/ride-dispatch/internal/store"
)

// Patch maps changed-field to pending value for one ride id.
type Patch map[string]any

type Overlay struct {
	mu      sync.RWMutex
	patches map[string]Patch
}

func New() *Overlay {
	return &Overlay{patches: make(map[string]Patch)}
}

// Apply records a pending patch for id, merging over any patch already
// present (last writer wins; the UI gates double-submits per row).
func (o *Overlay) Apply(id string, patch Patch) {
	if id == "" || len(patch) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	merged := make(Patch, len(patch))
	for k, v := range o.patches[id] {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	o.patches[id] = merged
}

// Clear removes the pending patch unconditionally. Called on rollback and
// on convergence.
func (o *Overlay) Clear(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.patches, id)
}

func (o *Overlay) ClearAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patches = make(map[string]Patch)
}

// Get returns the pending patch for id, if any.
func (o *Overlay) Get(id string) (Patch, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.patches[id]
	if !ok {
		return nil, false
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, true
}

// Merged returns rows with pending patches overlaid; rows without a patch
// pass through untouched.
func (o *Overlay) Merged(rows []store.Document) []store.Document {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.patches) == 0 {
		return rows
	}
	out := make([]store.Document, len(rows))
	for i, row := range rows {
		patch, ok := o.patches[row.ID]
		if !ok {
			out[i] = row
			continue
		}
		data := store.CloneDoc(row.Data)
		for k, v := range patch {
			data[k] = v
		}
		out[i] = store.Document{ID: row.ID, Data: data}
	}
	return out
}

// Reconcile clears every patch whose fields all match the fresh
// authoritative rows. Partial matches keep the whole patch in place. rows
// is a full collection snapshot, so a patched id with no row has left the
// collection and its patch is cleared too.
func (o *Overlay) Reconcile(rows []store.Document) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.patches) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		seen[row.ID] = struct{}{}
		patch, ok := o.patches[row.ID]
		if !ok {
			continue
		}
		converged := true
		for key, want := range patch {
			if !valueEqual(row.Data[key], want) {
				converged = false
				break
			}
		}
		if converged {
			delete(o.patches, row.ID)
		}
	}
	for id := range o.patches {
		if _, ok := seen[id]; !ok {
			delete(o.patches, id)
		}
	}
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
