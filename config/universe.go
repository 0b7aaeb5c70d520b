package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Universe is the set of unit keys a scheduled job iterates over.
type Universe struct {
	Symbols []string            `yaml:"symbols"`
	Groups  map[string][]string `yaml:"groups"`
	Exclude []string            `yaml:"exclude"`
}

func LoadUniverse(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("failed to read universe file: %w", err)}
	}
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, &ConfigurationError{Source: path, Err: fmt.Errorf("failed to parse universe file: %w", err)}
	}
	return &u, nil
}

// Units returns the de-duplicated, upper-cased keys of the named groups
// (all symbols plus every group when none are named) minus exclusions.
func (u *Universe) Units(groups ...string) ([]string, error) {
	excluded := make(map[string]struct{}, len(u.Exclude))
	for _, s := range u.Exclude {
		excluded[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}

	var src []string
	if len(groups) == 0 {
		src = append(src, u.Symbols...)
		for _, g := range u.Groups {
			src = append(src, g...)
		}
	} else {
		for _, name := range groups {
			g, ok := u.Groups[name]
			if !ok {
				return nil, configErr("", "groups."+name, "unknown group")
			}
			src = append(src, g...)
		}
	}

	seen := make(map[string]struct{}, len(src))
	out := make([]string, 0, len(src))
	for _, s := range src {
		key := strings.ToUpper(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		if _, skip := excluded[key]; skip {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}
