// Package processor turns raw adapter output into rows the stores accept.
package processor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/models"
)

// ErrNothingToWrite is returned when normalization leaves no rows.
var ErrNothingToWrite = errors.New("no rows left after normalization")

var priceColumns = []string{models.ColOpen, models.ColHigh, models.ColLow, models.ColClose}

var numericColumns = []string{
	models.ColOpen, models.ColHigh, models.ColLow, models.ColClose,
	models.ColVolume, models.ColAmount,
}

// Stats counts what normalization removed.
type Stats struct {
	Input      int
	Dropped    int
	Duplicates int
	Output     int
}

// Normalize prepares res for storage under class. Price series rows are
// stamped with symbol and provider, coerced to float64, filtered,
// de-duplicated by timestamp (last wins) and sorted ascending. Other rows
// are stamped with provider and de-duplicated by conflictKeys.
func Normalize(class models.DataClassification, symbol string, res *models.FetchResult, conflictKeys []string) ([]models.Row, Stats, error) {
	if !res.Valid() {
		return nil, Stats{}, ErrNothingToWrite
	}
	var (
		rows  []models.Row
		stats Stats
	)
	if class.IsPriceSeries() {
		rows, stats = normalizeBars(symbol, res)
	} else {
		rows, stats = normalizeReference(symbol, res, conflictKeys)
	}
	if len(rows) == 0 {
		return nil, stats, fmt.Errorf("%s %s from %s: %w", class, symbol, res.Provider, ErrNothingToWrite)
	}
	return rows, stats, nil
}

func normalizeBars(symbol string, res *models.FetchResult) ([]models.Row, Stats) {
	stats := Stats{Input: len(res.Rows)}
	byTS := make(map[int64]int, len(res.Rows))
	out := make([]models.Row, 0, len(res.Rows))

	for _, raw := range res.Rows {
		row := raw.Clone()
		// Bars are stored and compensated under the unit's symbol, whatever
		// spelling the provider used.
		if symbol != "" {
			row[models.ColSymbol] = symbol
		}
		row[models.ColProvider] = res.Provider

		ts, ok := timestamp(row[models.ColTimestamp])
		if !ok {
			stats.Dropped++
			continue
		}
		row[models.ColTimestamp] = ts
		if !coerceNumbers(row) || !validBar(row) {
			stats.Dropped++
			continue
		}

		key := ts.UnixNano()
		if i, dup := byTS[key]; dup {
			out[i] = row
			stats.Duplicates++
			continue
		}
		byTS[key] = len(out)
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].Time(models.ColTimestamp)
		b, _ := out[j].Time(models.ColTimestamp)
		return a.Before(b)
	})
	stats.Output = len(out)
	return out, stats
}

func normalizeReference(symbol string, res *models.FetchResult, conflictKeys []string) ([]models.Row, Stats) {
	stats := Stats{Input: len(res.Rows)}
	seen := make(map[string]int, len(res.Rows))
	out := make([]models.Row, 0, len(res.Rows))

	for _, raw := range res.Rows {
		row := raw.Clone()
		row[models.ColProvider] = res.Provider
		if symbol != "" && row.String(models.ColSymbol) == "" && containsKey(conflictKeys, models.ColSymbol) {
			row[models.ColSymbol] = symbol
		}

		key, ok := conflictKey(row, conflictKeys)
		if !ok {
			stats.Dropped++
			continue
		}
		if i, dup := seen[key]; dup {
			out[i] = row
			stats.Duplicates++
			continue
		}
		seen[key] = len(out)
		out = append(out, row)
	}
	stats.Output = len(out)
	return out, stats
}

func timestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), t > 0
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// coerceNumbers converts numeric strings in place. Missing volume and
// amount default to zero.
func coerceNumbers(row models.Row) bool {
	for _, col := range numericColumns {
		switch v := row[col].(type) {
		case float64:
		case int64:
			row[col] = float64(v)
		case int:
			row[col] = float64(v)
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return false
			}
			row[col] = d.InexactFloat64()
		case nil:
			if col == models.ColVolume || col == models.ColAmount {
				row[col] = 0.0
				continue
			}
			return false
		default:
			return false
		}
	}
	return true
}

func validBar(row models.Row) bool {
	for _, col := range priceColumns {
		if v, _ := row[col].(float64); v <= 0 {
			return false
		}
	}
	high, _ := row[models.ColHigh].(float64)
	low, _ := row[models.ColLow].(float64)
	return high >= low
}

func conflictKey(row models.Row, keys []string) (string, bool) {
	if len(keys) == 0 {
		return fmt.Sprint(len(row), row), true
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, ok := row[k]
		if !ok || v == nil || v == "" {
			return "", false
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), true
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
