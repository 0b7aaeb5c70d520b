package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"quoteflow/logger"
	"quoteflow/models"
)

//go:embed default_routing.yml
var defaultRoutingYAML []byte

// EmbeddedSource marks a Routing that came from the built-in document.
const EmbeddedSource = "embedded"

const (
	ConsistencyDirect = "direct"
	ConsistencySaga   = "saga"
)

// Routing is the classification → store table and the provider priority
// lists. It is read once at startup and never mutated afterwards.
type Routing struct {
	Stores   map[string]StoreRoute `yaml:"stores"`
	Adapters AdapterRouting        `yaml:"adapters"`
	Source   string                `yaml:"-"`
}

type StoreRoute struct {
	Backend      string   `yaml:"backend"`
	Table        string   `yaml:"table"`
	Consistency  string   `yaml:"consistency"`
	ConflictKeys []string `yaml:"conflict_keys"`
}

// AdapterRouting holds ordered provider identities. Lookup order is
// classifications[class][op], then operations[op], then default.
type AdapterRouting struct {
	Default         []string                       `yaml:"default"`
	Operations      map[string][]string            `yaml:"operations"`
	Classifications map[string]map[string][]string `yaml:"classifications"`
}

// LoadRouting reads the routing document at path. A missing file falls back
// to the embedded default with a warning; an unreadable or invalid file is
// a ConfigurationError.
func LoadRouting(path string) (*Routing, error) {
	log := logger.GetLogger().WithComponent("config").WithFields(logger.Fields{"routing_file": path})

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || path == "" {
			log.Warn("routing file not found, using embedded default routing")
			return DefaultRouting()
		}
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("failed to read routing file: %w", err)}
	}

	r, err := ParseRouting(data, path)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"stores":        len(r.Stores),
		"default_chain": r.Adapters.Default,
	}).Info("routing loaded")
	return r, nil
}

// DefaultRouting parses the embedded document.
func DefaultRouting() (*Routing, error) {
	return ParseRouting(defaultRoutingYAML, EmbeddedSource)
}

func ParseRouting(data []byte, source string) (*Routing, error) {
	var r Routing
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, &ConfigurationError{Source: source, Err: fmt.Errorf("failed to parse routing: %w", err)}
	}
	r.Source = source
	if err := validateRouting(&r); err != nil {
		err.Source = source
		return nil, err
	}
	return &r, nil
}

func validateRouting(r *Routing) *ConfigurationError {
	if len(r.Adapters.Default) == 0 {
		return configErr("", "adapters.default", "a non-empty default chain is required")
	}
	if err := validateChain("adapters.default", r.Adapters.Default); err != nil {
		return err
	}
	opSeen := make(map[models.Operation]string, len(r.Adapters.Operations))
	for _, op := range slices.Sorted(maps.Keys(r.Adapters.Operations)) {
		key := "adapters.operations." + op
		parsed, err := models.ParseOperation(op)
		if err != nil {
			return configErr("", key, "%v", err)
		}
		if first, dup := opSeen[parsed]; dup {
			return configErr("", key, "duplicates %q", first)
		}
		opSeen[parsed] = op
		if err := validateChain(key, r.Adapters.Operations[op]); err != nil {
			return err
		}
	}
	classSeen := make(map[models.DataClassification]string, len(r.Adapters.Classifications))
	for _, class := range slices.Sorted(maps.Keys(r.Adapters.Classifications)) {
		parsed, err := models.ParseClassification(class)
		if err != nil {
			return configErr("", "adapters.classifications."+class, "%v", err)
		}
		if first, dup := classSeen[parsed]; dup {
			return configErr("", "adapters.classifications."+class, "duplicates %q", first)
		}
		classSeen[parsed] = class

		ops := r.Adapters.Classifications[class]
		classOps := make(map[models.Operation]string, len(ops))
		for _, op := range slices.Sorted(maps.Keys(ops)) {
			key := "adapters.classifications." + class + "." + op
			parsedOp, err := models.ParseOperation(op)
			if err != nil {
				return configErr("", key, "%v", err)
			}
			if first, dup := classOps[parsedOp]; dup {
				return configErr("", key, "duplicates %q", first)
			}
			classOps[parsedOp] = op
			if err := validateChain(key, ops[op]); err != nil {
				return err
			}
		}
	}

	if len(r.Stores) == 0 {
		return configErr("", "stores", "at least one classification must be routed")
	}
	// Keys are matched loosely (tick_data, TickData), so two spellings of
	// one classification would route it to two stores.
	storeSeen := make(map[models.DataClassification]string, len(r.Stores))
	for _, class := range slices.Sorted(maps.Keys(r.Stores)) {
		route := r.Stores[class]
		key := "stores." + class
		parsed, err := models.ParseClassification(class)
		if err != nil {
			return configErr("", key, "%v", err)
		}
		if first, dup := storeSeen[parsed]; dup {
			return configErr("", key, "duplicates %q", first)
		}
		storeSeen[parsed] = class
		backend, err := models.ParseBackend(route.Backend)
		if err != nil {
			return configErr("", key+".backend", "%v", err)
		}
		if route.Table == "" {
			return configErr("", key+".table", "is required")
		}
		switch route.Consistency {
		case "", ConsistencyDirect:
		case ConsistencySaga:
			if backend != models.BackendTimeSeries {
				return configErr("", key+".consistency", "saga requires the timeseries backend")
			}
		default:
			return configErr("", key+".consistency", "unknown mode %q", route.Consistency)
		}
		if backend == models.BackendRelational && len(route.ConflictKeys) == 0 {
			return configErr("", key+".conflict_keys", "relational routes need conflict keys for upsert")
		}
	}
	return nil
}

func validateChain(key string, chain []string) *ConfigurationError {
	if len(chain) == 0 {
		return configErr("", key, "chain must not be empty")
	}
	seen := make(map[string]struct{}, len(chain))
	for _, id := range chain {
		if id == "" {
			return configErr("", key, "provider identity must not be empty")
		}
		if _, dup := seen[id]; dup {
			return configErr("", key, "provider %q listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
