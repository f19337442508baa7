package nl2sql

import (
	"errors"
	"fmt"
	"strings"
)

var ErrProviderUnavailable = errors.New("provider unavailable")

// Registry maps model ids to providers. It is populated once by NewRegistry
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	order       []string
	byID        map[string]Provider
	descriptors map[string]Descriptor
	defaultID   string
}

func NewRegistry(defaultID string, providers ...Provider) (*Registry, error) {
	r := &Registry{
		byID:        make(map[string]Provider, len(providers)),
		descriptors: make(map[string]Descriptor, len(providers)),
		defaultID:   strings.TrimSpace(defaultID),
	}
	for _, provider := range providers {
		if provider == nil {
			return nil, fmt.Errorf("provider is nil")
		}
		descriptor := provider.Describe()
		id := strings.TrimSpace(descriptor.ID)
		if id == "" {
			return nil, fmt.Errorf("provider id is required")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", id)
		}
		r.order = append(r.order, id)
		r.byID[id] = provider
		r.descriptors[id] = descriptor
	}
	if r.defaultID != "" {
		if _, ok := r.byID[r.defaultID]; !ok {
			return nil, fmt.Errorf("default provider %q is not registered", r.defaultID)
		}
	}
	return r, nil
}

// Lookup returns the provider for id, or the default provider when id is
// empty. Unknown and unavailable providers fail without any network call.
func (r *Registry) Lookup(id string) (Provider, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = r.defaultID
	}
	provider, ok := r.byID[id]
	if !ok {
		return nil, newGenerationError(KindUnavailable, id, ErrUnknownProvider)
	}
	if !r.descriptors[id].Available {
		return nil, newGenerationError(KindUnavailable, id, ErrProviderUnavailable)
	}
	return provider, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}

func (r *Registry) Default() string {
	return r.defaultID
}
