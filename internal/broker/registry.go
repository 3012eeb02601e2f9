package broker

import (
	"fmt"
	"sort"

	"tradegate/internal/errors"
)

// Registry maps broker identifiers to their adapter instances. It is built
// once at startup from the full set of configured adapters and never
// mutated afterward; swapping in a new adapter means rebuilding the
// registry.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a registry from the given adapters. Duplicate broker
// ids are a configuration error.
func NewRegistry(clients ...Client) (*Registry, error) {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		id := c.BrokerID()
		if _, dup := m[id]; dup {
			return nil, fmt.Errorf("duplicate broker id: %s", id)
		}
		m[id] = c
	}
	return &Registry{clients: m}, nil
}

// Get returns the adapter for a broker id. Unknown ids fail closed with an
// *errors.UnknownBrokerError; there is no fallback broker selection.
func (r *Registry) Get(brokerID string) (Client, error) {
	c, ok := r.clients[brokerID]
	if !ok {
		return nil, errors.NewUnknownBrokerError(brokerID)
	}
	return c, nil
}

// Has reports whether a broker id is registered.
func (r *Registry) Has(brokerID string) bool {
	_, ok := r.clients[brokerID]
	return ok
}

// IDs returns the sorted set of registered broker ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
