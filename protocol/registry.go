package protocol

import (
	"sort"
	"sync"
)

// Registry maps protocol identifiers to plugins. Identifiers are opaque and
// compared by exact match; version variants are registered separately.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin)}
	for _, p := range plugins {
		r.Register(p)
	}
	return r
}

// Register adds p under p.ID(), replacing any plugin registered under the same id.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins[p.ID()] = p
}

func (r *Registry) Resolve(protocolID string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[protocolID]
	if !ok {
		return nil, &UnsupportedProtocolError{Protocol: protocolID}
	}
	return p, nil
}

// Protocols returns the registered identifiers in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
