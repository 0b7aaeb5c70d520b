package adapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quoteflow/models"
)

// DailyPeriod is the bar period of price history.
const DailyPeriod = "1d"

// ParsePeriod converts "1m", "15m", "1h", "4h" or "1d" to a duration.
func ParsePeriod(period string) (time.Duration, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	if p == "" {
		return 0, fmt.Errorf("empty period")
	}
	if strings.HasSuffix(p, "d") {
		d, err := time.ParseDuration(strings.TrimSuffix(p, "d") + "h")
		if err != nil {
			return 0, fmt.Errorf("invalid period %q", period)
		}
		return d * 24, nil
	}
	d, err := time.ParseDuration(p)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	return d, nil
}

// Price parses a provider price string exactly and rescales it by div
// (contract multipliers) before converting to float64.
func Price(s string, div float64) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if div != 0 && div != 1 {
		d = d.Div(decimal.NewFromFloat(div))
	}
	return d.InexactFloat64(), nil
}

// BarRow assembles a price-series row from string fields.
func BarRow(symbol, period string, ts time.Time, open, high, low, closePx, volume, amount string, div float64) (models.Row, error) {
	row := models.Row{
		models.ColSymbol:    symbol,
		models.ColTimestamp: ts.UTC(),
		models.ColPeriod:    period,
	}
	fields := []struct {
		col string
		raw string
		div float64
	}{
		{models.ColOpen, open, div},
		{models.ColHigh, high, div},
		{models.ColLow, low, div},
		{models.ColClose, closePx, div},
		{models.ColVolume, volume, 1},
		{models.ColAmount, amount, 1},
	}
	for _, f := range fields {
		if f.raw == "" {
			row[f.col] = 0.0
			continue
		}
		v, err := Price(f.raw, f.div)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.col, err)
		}
		row[f.col] = v
	}
	return row, nil
}
