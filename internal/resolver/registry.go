package resolver

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Registry holds resolvers in dispatch order: by Priority, then by
// registration order.
type Registry struct {
	mu        sync.RWMutex
	resolvers []Resolver
	names     map[string]struct{}
}

// NewRegistry returns a registry holding rs, registered in order.
func NewRegistry(rs ...Resolver) *Registry {
	reg := &Registry{names: make(map[string]struct{})}
	for _, r := range rs {
		reg.Register(r)
	}
	return reg
}

// Register adds a new resolver to the registry. It's called at startup.
func (reg *Registry) Register(r Resolver) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	name := r.Name()
	if _, exists := reg.names[name]; exists {
		// Panic is appropriate here as it's a developer error during setup.
		panic(fmt.Sprintf("resolver with name '%s' is already registered", name))
	}
	reg.names[name] = struct{}{}
	reg.resolvers = append(reg.resolvers, r)
	slices.SortStableFunc(reg.resolvers, func(a, b Resolver) int {
		return int(a.Priority()) - int(b.Priority())
	})
}

// Get returns a resolver by its name.
func (reg *Registry) Get(name string) (Resolver, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, r := range reg.resolvers {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// Resolvers returns the registered resolvers in dispatch order.
func (reg *Registry) Resolvers() []Resolver {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return slices.Clone(reg.resolvers)
}

// Resolve hands input to the first resolver that can resolve it. That
// resolver's error, if any, is returned as-is; later resolvers are not
// tried.
func (reg *Registry) Resolve(ctx context.Context, input string) (*Resolved, error) {
	input = normalizeInput(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNoResolver)
	}
	for _, r := range reg.Resolvers() {
		if !r.CanResolve(input) {
			continue
		}
		res, err := r.Resolve(ctx, input)
		if err != nil {
			return nil, err
		}
		if res.Resolver == "" {
			res.Resolver = r.Name()
		}
		if res.Metadata.OriginalInput == "" {
			res.Metadata.OriginalInput = input
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoResolver, input)
}
