package models

import (
	"fmt"
	"strings"
)

// DataClassification tags what kind of dataset a row belongs to. The tag
// alone decides which backend and table the row is written to.
type DataClassification string

const (
	TickData               DataClassification = "tick_data"
	MinuteKline            DataClassification = "minute_kline"
	DailyKline             DataClassification = "daily_kline"
	SymbolsInfo            DataClassification = "symbols_info"
	ReferenceData          DataClassification = "reference_data"
	IndustryClassification DataClassification = "industry_classification"
	ConceptClassification  DataClassification = "concept_classification"
)

var classifications = []DataClassification{
	TickData, MinuteKline, DailyKline, SymbolsInfo,
	ReferenceData, IndustryClassification, ConceptClassification,
}

// Classifications lists every known tag.
func Classifications() []DataClassification {
	out := make([]DataClassification, len(classifications))
	copy(out, classifications)
	return out
}

// ParseClassification accepts the snake_case tag or its CamelCase spelling.
func ParseClassification(s string) (DataClassification, error) {
	key := normalizeKey(s)
	for _, c := range classifications {
		if normalizeKey(string(c)) == key {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown data classification %q", s)
}

// IsPriceSeries reports whether rows carry OHLCV bars keyed by timestamp.
func (c DataClassification) IsPriceSeries() bool {
	switch c {
	case TickData, MinuteKline, DailyKline:
		return true
	}
	return false
}

func (c DataClassification) String() string { return string(c) }

// Operation names one fetch capability of an upstream provider.
type Operation string

const (
	OpBasicInfo              Operation = "basic_info"
	OpPriceHistory           Operation = "price_history"
	OpIntradayBars           Operation = "intraday_bars"
	OpIndustryClassification Operation = "industry_classification"
	OpConceptClassification  Operation = "concept_classification"
	OpSymbolIndustryConcept  Operation = "symbol_industry_concept"
)

var operations = []Operation{
	OpBasicInfo, OpPriceHistory, OpIntradayBars,
	OpIndustryClassification, OpConceptClassification, OpSymbolIndustryConcept,
}

func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

func ParseOperation(s string) (Operation, error) {
	key := normalizeKey(s)
	for _, op := range operations {
		if normalizeKey(string(op)) == key {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Windowed operations take a [start, end) time range and can be chunked.
func (o Operation) Windowed() bool {
	return o == OpPriceHistory || o == OpIntradayBars
}

// PerSymbol operations need a unit key; the others fetch a whole catalogue.
func (o Operation) PerSymbol() bool {
	return o.Windowed() || o == OpSymbolIndustryConcept
}

func (o Operation) String() string { return string(o) }

// Backend is the kind of store a classification is routed to.
type Backend string

const (
	BackendTimeSeries Backend = "timeseries"
	BackendRelational Backend = "relational"
)

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendTimeSeries:
		return BackendTimeSeries, nil
	case BackendRelational:
		return BackendRelational, nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(s)))
}
