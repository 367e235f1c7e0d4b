// Package registry holds the in-process candidate declarations. Candidates
// are re-declared at startup by the calling agent; only learned statistics
// are durable, so this map never touches a store.
package registry

import (
	"fmt"
	"sync"

	"github.com/voidmaw/regrip/api/schemas"
)

// Registry maps a target key to its known candidates, preserving
// registration order. Registration order is load-bearing: it is the
// deterministic tie-break for the selector.
type Registry struct {
	mu      sync.RWMutex
	targets map[schemas.TargetKey][]schemas.Candidate
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{targets: make(map[schemas.TargetKey][]schemas.Candidate)}
}

// Register inserts a candidate under a target. Idempotent by candidate ID:
// re-registering an existing ID is a no-op, even with different fields,
// because candidates are immutable once registered.
func (r *Registry) Register(target schemas.TargetKey, c schemas.Candidate) error {
	if c.ID == "" {
		return fmt.Errorf("registry: candidate for %s has no id", target)
	}
	if !c.Layer.Valid() {
		return fmt.Errorf("registry: candidate %s has unknown layer %d", c.ID, c.Layer)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.targets[target] {
		if existing.ID == c.ID {
			return nil
		}
	}
	r.targets[target] = append(r.targets[target], c)
	return nil
}

// RegisterAll registers a batch, stopping at the first invalid candidate.
func (r *Registry) RegisterAll(target schemas.TargetKey, candidates []schemas.Candidate) error {
	for _, c := range candidates {
		if err := r.Register(target, c); err != nil {
			return err
		}
	}
	return nil
}

// Candidates returns a copy of the registered candidates in registration
// order. Empty (nil) when the target is unknown.
func (r *Registry) Candidates(target schemas.TargetKey) []schemas.Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.targets[target]
	if len(src) == 0 {
		return nil
	}
	out := make([]schemas.Candidate, len(src))
	copy(out, src)
	return out
}

// HasLayer reports whether any candidate is registered on the given layer.
func (r *Registry) HasLayer(target schemas.TargetKey, layer schemas.Layer) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.targets[target] {
		if c.Layer == layer {
			return true
		}
	}
	return false
}

// Targets returns every key with at least one registered candidate.
func (r *Registry) Targets() []schemas.TargetKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]schemas.TargetKey, 0, len(r.targets))
	for k := range r.targets {
		keys = append(keys, k)
	}
	return keys
}
