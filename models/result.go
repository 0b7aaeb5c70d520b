package models

import "time"

// Column names shared by adapters, the normalizer and the stores.
const (
	ColSymbol    = "symbol"
	ColTimestamp = "ts"
	ColPeriod    = "period"
	ColOpen      = "open"
	ColHigh      = "high"
	ColLow       = "low"
	ColClose     = "close"
	ColVolume    = "volume"
	ColAmount    = "amount"
	ColProvider  = "provider"
	ColBatchID   = "batch_id"

	ColName     = "name"
	ColExchange = "exchange"
	ColStatus   = "status"
	ColBase     = "base_asset"
	ColQuote    = "quote_asset"
	ColListed   = "listed_at"
	ColCategory = "category"
	ColCode     = "code"
	ColParent   = "parent_code"
)

// BarColumns is the fixed column order of price series tables.
var BarColumns = []string{
	ColSymbol, ColTimestamp, ColPeriod,
	ColOpen, ColHigh, ColLow, ColClose, ColVolume, ColAmount,
	ColProvider, ColBatchID,
}

// Row is one record of a tabular result. Values are strings, float64,
// int64 or time.Time once normalized.
type Row map[string]any

// Clone returns a shallow copy so stamping columns never aliases the input.
func (r Row) Clone() Row {
	out := make(Row, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Row) String(col string) string {
	s, _ := r[col].(string)
	return s
}

func (r Row) Time(col string) (time.Time, bool) {
	t, ok := r[col].(time.Time)
	return t, ok
}

// FetchResult is the tabular output of one adapter call.
type FetchResult struct {
	Provider  string    `json:"provider"`
	Operation Operation `json:"operation"`
	Columns   []string  `json:"columns"`
	Rows      []Row     `json:"rows"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Valid reports whether the result carries at least one row. Empty results
// never terminate a failover chain.
func (r *FetchResult) Valid() bool {
	return r != nil && len(r.Rows) > 0
}

func (r *FetchResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// TimeRange returns the earliest and latest ColTimestamp in the result.
func TimeRange(rows []Row) (first, last time.Time, ok bool) {
	for _, row := range rows {
		ts, has := row.Time(ColTimestamp)
		if !has {
			continue
		}
		if !ok || ts.Before(first) {
			first = ts
		}
		if !ok || ts.After(last) {
			last = ts
		}
		ok = true
	}
	return first, last, ok
}
