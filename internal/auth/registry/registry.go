// internal/auth/registry/registry.go
package registry

import (
	"errors"
	"fmt"
	"sort"

	"authdispatch/internal/auth"
	"authdispatch/internal/observability/logging"

	"golang.org/x/exp/slices"
)

// ErrDuplicateAdapter is returned when two adapters share a name
var ErrDuplicateAdapter = errors.New("duplicate adapter name")

// Registry maps authentication type names to the adapters eligible for them.
// It is immutable once built and safe for concurrent use.
type Registry struct {
	adapters []auth.Adapter
	byName   map[string]auth.Adapter
	types    map[string][]auth.Adapter
	logger   *logging.Logger
}

// New builds a registry. Adapters are kept in the given order, which is the
// order they are tried for routes that declare no authentication types.
// types maps a type name to adapter names; names that match no adapter are
// dropped with a warning. Adapters implementing auth.Provider additionally
// serve the type names they provide unless configuration already defines them.
func New(adapters []auth.Adapter, types map[string][]string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		adapters: make([]auth.Adapter, 0, len(adapters)),
		byName:   make(map[string]auth.Adapter, len(adapters)),
		types:    make(map[string][]auth.Adapter, len(types)),
		logger:   logger.WithModule("auth.registry"),
	}

	for i, adapter := range adapters {
		if adapter == nil {
			return nil, fmt.Errorf("adapter at position %d is nil", i)
		}
		name := adapter.Name()
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAdapter, name)
		}
		r.byName[name] = adapter
		r.adapters = append(r.adapters, adapter)
	}

	// Iterate type names in sorted order so warnings are deterministic.
	typeNames := make([]string, 0, len(types))
	for name := range types {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		resolved := make([]auth.Adapter, 0, len(types[typeName]))
		for _, adapterName := range types[typeName] {
			adapter, ok := r.byName[adapterName]
			if !ok {
				r.logger.Warn("Authentication type references unknown adapter",
					"type", typeName,
					"adapter", adapterName,
				)
				continue
			}
			if slices.Contains(resolved, adapter) {
				continue
			}
			resolved = append(resolved, adapter)
		}
		r.types[typeName] = resolved
	}

	for _, adapter := range r.adapters {
		provider, ok := adapter.(auth.Provider)
		if !ok {
			continue
		}
		for _, typeName := range provider.Provides() {
			if _, configured := types[typeName]; configured {
				continue
			}
			if !slices.Contains(r.types[typeName], adapter) {
				r.types[typeName] = append(r.types[typeName], adapter)
			}
		}
	}

	return r, nil
}

// Resolve returns the adapters to try for a route declaring typeNames.
// With no type names every adapter is returned in registration order.
// Otherwise the adapters of each known type are concatenated in declaration
// order without duplicates; unknown type names contribute nothing.
func (r *Registry) Resolve(typeNames []string) []auth.Adapter {
	if len(typeNames) == 0 {
		return r.Adapters()
	}

	var resolved []auth.Adapter
	for _, typeName := range typeNames {
		adapters, ok := r.types[typeName]
		if !ok {
			r.logger.Debug("Route declares unknown authentication type", "type", typeName)
			continue
		}
		for _, adapter := range adapters {
			if !slices.Contains(resolved, adapter) {
				resolved = append(resolved, adapter)
			}
		}
	}
	return resolved
}

// Adapters returns all registered adapters in registration order
func (r *Registry) Adapters() []auth.Adapter {
	return slices.Clone(r.adapters)
}

// Adapter returns the adapter registered under name
func (r *Registry) Adapter(name string) (auth.Adapter, bool) {
	adapter, ok := r.byName[name]
	return adapter, ok
}

// Has reports whether typeName is a known authentication type
func (r *Registry) Has(typeName string) bool {
	_, ok := r.types[typeName]
	return ok
}

// Types returns the known authentication type names, sorted
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered adapters
func (r *Registry) Len() int {
	return len(r.adapters)
}
