package backend

import (
	"fmt"

	"go.uber.org/multierr"
)

// Registry maps backend names to backends. It is filled once at startup and only read afterwards.
type Registry struct {
	names    []string
	backends map[string]Backend
}

// NewRegistry returns a registry holding the given backends in that order.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if _, ok := r.backends[b.Name()]; ok {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name())
		}
		r.names = append(r.names, b.Name())
		r.backends[b.Name()] = b
	}
	return r, nil
}

// Lookup returns the backend with the given name or ErrNotFound.
func (r *Registry) Lookup(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q: %w", name, ErrNotFound)
	}
	return b, nil
}

// All returns every backend in registration order.
func (r *Registry) All() []Backend {
	all := make([]Backend, 0, len(r.names))
	for _, name := range r.names {
		all = append(all, r.backends[name])
	}
	return all
}

// Close closes all backends and returns the combined errors.
func (r *Registry) Close() error {
	var err error
	for _, b := range r.All() {
		err = multierr.Append(err, b.Close())
	}
	return err
}
