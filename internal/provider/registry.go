// Package provider maps platforms to delivery providers and holds the
// constructed adapter set.
package provider

import (
	"fmt"

	"github.com/rentfolio/go-push-service/pkg/push"
)

// Registry holds one adapter instance per provider identifier. It is built
// once at startup and immutable afterwards; adapters are stateless, so a
// single cached instance serves concurrent callers.
type Registry struct {
	adapters map[push.ProviderID]push.Adapter
}

// NewRegistry indexes the given adapters by name. Registering two adapters
// under one identifier is a wiring bug and fails construction.
func NewRegistry(adapters ...push.Adapter) (*Registry, error) {
	byID := make(map[push.ProviderID]push.Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := byID[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate adapter for provider %q", a.Name())
		}
		byID[a.Name()] = a
	}
	return &Registry{adapters: byID}, nil
}

// Get returns the adapter for id, or push.ErrUnknownProvider.
func (r *Registry) Get(id push.ProviderID) (push.Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", push.ErrUnknownProvider, id)
	}
	return a, nil
}
