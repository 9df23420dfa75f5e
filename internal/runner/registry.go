// File: internal/runner/registry.go
package runner

import (
	"fmt"
	"sort"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// Registry maps manifest module names to their compiled-in implementations.
// Resolution is purely by registered name; the manifest's `source` field is
// informational and never consulted. The registry is built once at startup
// and read-only afterwards.
type Registry struct {
	modules map[string]schemas.TestModule
}

// RegistryOption customizes a registry at construction time. Tests use
// WithModule to substitute doubles for the compiled-in set.
type RegistryOption func(*Registry)

// WithModule registers (or overrides) a module under its own name.
func WithModule(m schemas.TestModule) RegistryOption {
	return func(r *Registry) {
		r.modules[m.Name()] = m
	}
}

// NewRegistry builds a registry from the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{modules: make(map[string]schemas.TestModule)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the module registered under name.
func (r *Registry) Resolve(name string) (schemas.TestModule, error) {
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("no module registered under name %q", name)
	}
	return m, nil
}

// Names lists the registered module names, sorted for stable output.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
