package processor

import (
	"errors"
	"testing"
	"time"

	"quoteflow/models"
)

func bar(ts time.Time, closePx any) models.Row {
	return models.Row{
		models.ColTimestamp: ts,
		models.ColOpen:      "10.5",
		models.ColHigh:      "11",
		models.ColLow:       "10",
		models.ColClose:     closePx,
		models.ColVolume:    int64(100),
	}
}

func TestNormalizeBars(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	res := &models.FetchResult{
		Provider: "binance",
		Rows: []models.Row{
			bar(t0.Add(2*time.Minute), "10.8"),
			bar(t0, "10.2"),
			bar(t0.Add(time.Minute), "10.4"),
			bar(t0, "10.3"),
			bar(time.Time{}, "10.1"),
			bar(t0.Add(3*time.Minute), "-1"),
			bar(t0.Add(4*time.Minute), "n/a"),
		},
	}

	rows, stats, err := Normalize(models.MinuteKline, "BTCUSDT", res, nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if stats.Input != 7 || stats.Dropped != 3 || stats.Duplicates != 1 || stats.Output != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	want := []float64{10.3, 10.4, 10.8}
	for i, row := range rows {
		if row[models.ColClose] != want[i] {
			t.Fatalf("row %d close = %v, want %v", i, row[models.ColClose], want[i])
		}
		if row.String(models.ColSymbol) != "BTCUSDT" || row.String(models.ColProvider) != "binance" {
			t.Fatalf("row %d not stamped: %v", i, row)
		}
		if row[models.ColAmount] != 0.0 || row[models.ColVolume] != 100.0 {
			t.Fatalf("row %d volume/amount not coerced: %v", i, row)
		}
	}
	if _, ok := res.Rows[0][models.ColProvider]; ok {
		t.Fatalf("input rows must not be mutated")
	}
}

func TestNormalizeBarsUsesUnitSymbol(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	row := bar(t0, "10.2")
	row[models.ColSymbol] = "btc-usdt"
	res := &models.FetchResult{Provider: "restapi", Rows: []models.Row{row}}

	rows, _, err := Normalize(models.DailyKline, "BTCUSDT", res, nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(rows) != 1 || rows[0].String(models.ColSymbol) != "BTCUSDT" {
		t.Fatalf("provider spelling kept: %v", rows)
	}
}

func TestNormalizeReferenceDedup(t *testing.T) {
	res := &models.FetchResult{
		Provider: "reference",
		Rows: []models.Row{
			{models.ColCategory: "industry", models.ColCode: "SEMI", models.ColName: "Semis"},
			{models.ColCategory: "concept", models.ColCode: "AI", models.ColName: "AI"},
			{models.ColCategory: "industry", models.ColCode: "SEMI", models.ColName: "Semiconductors"},
			{models.ColCategory: "concept", models.ColName: "no code"},
		},
	}
	rows, stats, err := Normalize(models.ReferenceData, "NVDA", res, []string{models.ColSymbol, models.ColCategory, models.ColCode})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(rows) != 2 || stats.Duplicates != 1 || stats.Dropped != 1 {
		t.Fatalf("unexpected rows %v stats %+v", rows, stats)
	}
	if rows[0].String(models.ColName) != "Semiconductors" || rows[0].String(models.ColSymbol) != "NVDA" {
		t.Fatalf("last duplicate should win: %v", rows[0])
	}
}

func TestNormalizeEverythingDropped(t *testing.T) {
	res := &models.FetchResult{Provider: "bybit", Rows: []models.Row{bar(time.Time{}, "1")}}
	_, _, err := Normalize(models.DailyKline, "ETHUSDT", res, nil)
	if !errors.Is(err, ErrNothingToWrite) {
		t.Fatalf("expected ErrNothingToWrite, got %v", err)
	}
	if _, _, err := Normalize(models.DailyKline, "ETHUSDT", nil, nil); !errors.Is(err, ErrNothingToWrite) {
		t.Fatalf("nil result: %v", err)
	}
}
