// Package router resolves where a classification is stored and which
// providers, in which order, serve a (classification, operation) pair.
package router

import (
	"fmt"
	"sort"

	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

// Route is the resolved storage destination of one classification.
type Route struct {
	Classification models.DataClassification
	Backend        models.Backend
	Table          string
	Saga           bool
	ConflictKeys   []string
}

// Router is immutable after New and safe for concurrent use.
type Router struct {
	source   string
	routes   map[models.DataClassification]Route
	defaults []string
	byOp     map[models.Operation][]string
	byClass  map[models.DataClassification]map[models.Operation][]string
}

// New converts a validated routing document into lookup tables.
func New(r *config.Routing) (*Router, error) {
	if r == nil {
		return nil, &config.ConfigurationError{Key: "routing", Err: fmt.Errorf("routing is nil")}
	}
	rt := &Router{
		source:   r.Source,
		routes:   make(map[models.DataClassification]Route, len(r.Stores)),
		defaults: append([]string(nil), r.Adapters.Default...),
		byOp:     make(map[models.Operation][]string, len(r.Adapters.Operations)),
		byClass:  make(map[models.DataClassification]map[models.Operation][]string, len(r.Adapters.Classifications)),
	}

	for name, sr := range r.Stores {
		class, err := models.ParseClassification(name)
		if err != nil {
			return nil, rt.errorf("stores."+name, "%v", err)
		}
		backend, err := models.ParseBackend(sr.Backend)
		if err != nil {
			return nil, rt.errorf("stores."+name+".backend", "%v", err)
		}
		table := sr.Table
		if table == "" {
			table = string(class)
		}
		rt.routes[class] = Route{
			Classification: class,
			Backend:        backend,
			Table:          table,
			Saga:           sr.Consistency == config.ConsistencySaga,
			ConflictKeys:   append([]string(nil), sr.ConflictKeys...),
		}
	}

	for name, chain := range r.Adapters.Operations {
		op, err := models.ParseOperation(name)
		if err != nil {
			return nil, rt.errorf("adapters.operations."+name, "%v", err)
		}
		rt.byOp[op] = append([]string(nil), chain...)
	}

	for className, ops := range r.Adapters.Classifications {
		class, err := models.ParseClassification(className)
		if err != nil {
			return nil, rt.errorf("adapters.classifications."+className, "%v", err)
		}
		m := make(map[models.Operation][]string, len(ops))
		for name, chain := range ops {
			op, err := models.ParseOperation(name)
			if err != nil {
				return nil, rt.errorf("adapters.classifications."+className+"."+name, "%v", err)
			}
			m[op] = append([]string(nil), chain...)
		}
		rt.byClass[class] = m
	}

	logger.GetLogger().WithComponent("router").WithFields(logger.Fields{
		"source":        rt.source,
		"routes":        len(rt.routes),
		"default_chain": rt.defaults,
	}).Info("classification router ready")
	return rt, nil
}

// ResolveStore returns the storage route of class.
func (r *Router) ResolveStore(class models.DataClassification) (Route, error) {
	route, ok := r.routes[class]
	if !ok {
		return Route{}, r.errorf("stores."+string(class), "no store route for classification %q", class)
	}
	route.ConflictKeys = append([]string(nil), route.ConflictKeys...)
	return route, nil
}

// ResolveAdapterChain returns the ordered provider identities for
// (class, op): the classification override if any, else the operation's
// chain, else the global default. The returned slice is a copy.
func (r *Router) ResolveAdapterChain(class models.DataClassification, op models.Operation) ([]string, error) {
	if ops, ok := r.byClass[class]; ok {
		if chain := ops[op]; len(chain) > 0 {
			return append([]string(nil), chain...), nil
		}
	}
	if chain := r.byOp[op]; len(chain) > 0 {
		return append([]string(nil), chain...), nil
	}
	if len(r.defaults) > 0 {
		return append([]string(nil), r.defaults...), nil
	}
	return nil, r.errorf("adapters", "no adapter chain for %s/%s", class, op)
}

// Classifications lists the routed classifications in sorted order.
func (r *Router) Classifications() []models.DataClassification {
	out := make([]models.DataClassification, 0, len(r.routes))
	for c := range r.routes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Providers lists every identity referenced by any chain.
func (r *Router) Providers() []string {
	seen := make(map[string]struct{})
	add := func(chain []string) {
		for _, p := range chain {
			seen[p] = struct{}{}
		}
	}
	add(r.defaults)
	for _, c := range r.byOp {
		add(c)
	}
	for _, ops := range r.byClass {
		for _, c := range ops {
			add(c)
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Router) errorf(key, format string, args ...interface{}) *config.ConfigurationError {
	return &config.ConfigurationError{Source: r.source, Key: key, Err: fmt.Errorf(format, args...)}
}
