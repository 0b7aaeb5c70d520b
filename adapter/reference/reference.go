// Package reference serves industry and concept classifications from a
// curated YAML document.
package reference

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/models"
)

const Name = "reference"

type Entry struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

type Membership struct {
	Industries []string `yaml:"industries"`
	Concepts   []string `yaml:"concepts"`
}

type Document struct {
	Industries []Entry                `yaml:"industries"`
	Concepts   []Entry                `yaml:"concepts"`
	Symbols    map[string]Membership `yaml:"symbols"`
}

// Source is immutable after Load.
type Source struct {
	adapter.UnsupportedSource
	industries map[string]Entry
	concepts   map[string]Entry
	doc        Document
}

func New(cfg config.ReferenceProviderConfig) (adapter.Adapter, error) {
	src, err := Load(cfg.Path)
	if err != nil {
		return nil, err
	}
	return adapter.FromSource(Name, src,
		models.OpIndustryClassification, models.OpConceptClassification, models.OpSymbolIndustryConcept), nil
}

func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &config.ConfigurationError{Source: path, Err: fmt.Errorf("failed to read reference file: %w", err)}
	}
	return Parse(data, path)
}

func Parse(data []byte, source string) (*Source, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &config.ConfigurationError{Source: source, Err: fmt.Errorf("failed to parse reference file: %w", err)}
	}
	s := &Source{
		industries: index(doc.Industries),
		concepts:   index(doc.Concepts),
		doc:        doc,
	}
	for sym, m := range doc.Symbols {
		for _, code := range m.Industries {
			if _, ok := s.industries[code]; !ok {
				return nil, &config.ConfigurationError{Source: source, Key: "symbols." + sym, Err: fmt.Errorf("unknown industry %q", code)}
			}
		}
		for _, code := range m.Concepts {
			if _, ok := s.concepts[code]; !ok {
				return nil, &config.ConfigurationError{Source: source, Key: "symbols." + sym, Err: fmt.Errorf("unknown concept %q", code)}
			}
		}
	}
	return s, nil
}

func index(entries []Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Code] = e
	}
	return out
}

func (s *Source) FetchIndustryClassification(context.Context) ([]models.Row, error) {
	return catalogue(s.doc.Industries, "industry"), nil
}

func (s *Source) FetchConceptClassification(context.Context) ([]models.Row, error) {
	return catalogue(s.doc.Concepts, "concept"), nil
}

func catalogue(entries []Entry, category string) []models.Row {
	rows := make([]models.Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, models.Row{
			models.ColCode:     e.Code,
			models.ColName:     e.Name,
			models.ColParent:   e.Parent,
			models.ColCategory: category,
		})
	}
	return rows
}

// FetchSymbolIndustryConcept returns one row per membership. An unknown
// symbol yields no rows, which the failover chain treats as a miss.
func (s *Source) FetchSymbolIndustryConcept(_ context.Context, symbol string) ([]models.Row, error) {
	m, ok := s.doc.Symbols[strings.ToUpper(symbol)]
	if !ok {
		m, ok = s.doc.Symbols[symbol]
	}
	if !ok {
		return nil, nil
	}
	var rows []models.Row
	add := func(category string, codes []string, lookup map[string]Entry) {
		sorted := append([]string(nil), codes...)
		sort.Strings(sorted)
		for _, code := range sorted {
			rows = append(rows, models.Row{
				models.ColSymbol:   symbol,
				models.ColCategory: category,
				models.ColCode:     code,
				models.ColName:     lookup[code].Name,
			})
		}
	}
	add("industry", m.Industries, s.industries)
	add("concept", m.Concepts, s.concepts)
	return rows, nil
}
