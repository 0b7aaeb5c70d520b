package adapter

import (
	"fmt"
	"sort"
	"sync"

	"quoteflow/internal/ratelimit"
)

// Binding pairs an adapter with the invoker that owns its call spacing.
type Binding struct {
	Adapter Adapter
	Invoker *ratelimit.Invoker
}

// Registry maps provider identities to their bindings. Adapters are
// registered once at startup and only looked up afterwards.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register adds a under a.Name(). A nil invoker gets the default policy.
func (r *Registry) Register(a Adapter, inv *ratelimit.Invoker) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("adapter must have a name")
	}
	if inv == nil {
		inv = ratelimit.New(a.Name(), ratelimit.Policy{})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[a.Name()]; exists {
		return fmt.Errorf("adapter %q already registered", a.Name())
	}
	r.bindings[a.Name()] = Binding{Adapter: a, Invoker: inv}
	return nil
}

func (r *Registry) Lookup(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// Names lists registered identities in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
