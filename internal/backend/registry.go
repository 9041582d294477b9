package backend

import (
	"fmt"
	"sort"

	"modelpanel/internal/common/config"
)

// ID identifies one configured generation backend.
type ID string

// Endpoint holds the wire-level settings for one backend.
type Endpoint struct {
	ID          ID
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	CleanRules  []string
}

// Registry resolves backend IDs to their endpoint configuration.
// Adding a backend is a config entry, not new code.
type Registry struct {
	endpoints map[ID]Endpoint
}

// NewRegistry builds a registry from the configuration surface.
func NewRegistry(cfgs map[string]config.BackendConfig) *Registry {
	endpoints := make(map[ID]Endpoint, len(cfgs))
	for id, c := range cfgs {
		endpoints[ID(id)] = Endpoint{
			ID:          ID(id),
			BaseURL:     c.BaseURL,
			APIKey:      c.APIKey,
			Model:       c.Model,
			Temperature: c.Temperature,
			MaxTokens:   c.MaxTokens,
			CleanRules:  c.CleanRules,
		}
	}
	return &Registry{endpoints: endpoints}
}

// Lookup returns the endpoint for id.
func (r *Registry) Lookup(id ID) (Endpoint, error) {
	ep, ok := r.endpoints[id]
	if !ok {
		return Endpoint{}, fmt.Errorf("backend %q is not configured", id)
	}
	return ep, nil
}

// IDs returns all configured backend IDs in stable order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
