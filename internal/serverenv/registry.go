package serverenv

import "sync"

// Registry is the process-wide set of live tunnels (spec §4.6).
// Invariant: a tunnel appears in the registry iff it has outstanding
// I/O handles. Mutated only from tunnel-creation/teardown, never from
// the per-tunnel hot path (spec §9 REDESIGN FLAG).
type Registry struct {
	mu      sync.Mutex
	tunnels map[uint64]TunnelHandle
}

func NewRegistry() *Registry {
	return &Registry{tunnels: make(map[uint64]TunnelHandle)}
}

// Insert adds a tunnel on creation.
func (r *Registry) Insert(t TunnelHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunnels[t.ID()] = t
}

// Remove drops a tunnel on final teardown (last reference released).
func (r *Registry) Remove(t TunnelHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tunnels, t.ID())
}

// Len reports the number of live tunnels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}

// ForEachSnapshot calls fn for a point-in-time snapshot of the live
// tunnels. Never hands out a raw iterator across a suspension point
// (spec §9 REDESIGN FLAG: "expose only insert, remove, and
// for_each_snapshot").
func (r *Registry) ForEachSnapshot(fn func(TunnelHandle)) {
	r.mu.Lock()
	snapshot := make([]TunnelHandle, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		snapshot = append(snapshot, t)
	}
	r.mu.Unlock()

	for _, t := range snapshot {
		fn(t)
	}
}
