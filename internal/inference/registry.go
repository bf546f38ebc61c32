package inference

import (
	"sort"
	"sync"
)

// Registry maps adapter ids and aliases to adapters. It is populated once
// during startup wiring and read-only afterwards; aliases share the same
// adapter value as the canonical id, never a copy.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its canonical id plus any aliases.
// Re-registering an id overwrites the previous entry.
func (r *Registry) Register(a Adapter, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[a.Descriptor().ID] = a
	for _, alias := range aliases {
		if alias == "" {
			continue
		}
		r.adapters[alias] = a
	}
}

// Resolve returns the adapter registered under idOrAlias.
func (r *Registry) Resolve(idOrAlias string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[idOrAlias]
	return a, ok
}

// ListUnique returns the descriptors of all registered adapters,
// deduplicated by canonical id and sorted by kind, display name, then id,
// so the output never depends on registration order.
func (r *Registry) ListUnique() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.adapters))
	out := make([]Descriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		desc := a.Descriptor()
		if _, dup := seen[desc.ID]; dup {
			continue
		}
		seen[desc.ID] = struct{}{}
		out = append(out, desc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}
