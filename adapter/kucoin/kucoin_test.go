package kucoin

import (
	"context"
	"errors"
	"testing"
	"time"

	"quoteflow/adapter"
	"quoteflow/models"
)

// fakeKlines serves bars from a fixed daily series, at most limit per call.
type fakeKlines struct {
	series  []int64
	limit   int
	natives []string
	calls   int
}

func (f *fakeKlines) Klines(_ context.Context, native string, minutes, from, to int64) ([][]float64, error) {
	f.calls++
	f.natives = append(f.natives, native)
	if minutes != 1440 {
		return nil, errors.New("unexpected granularity")
	}
	var out [][]float64
	for _, ts := range f.series {
		if ts < from || ts > to || len(out) == f.limit {
			continue
		}
		out = append(out, []float64{float64(ts), 100, 110, 90, 105.5, 12, 1266})
	}
	return out, nil
}

func daily(start time.Time, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * 24 * time.Hour).UnixMilli()
	}
	return out
}

func TestFetchPriceHistoryPages(t *testing.T) {
	day0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeKlines{series: daily(day0, 5), limit: 2}
	a := adapter.FromSource(Name, newSource(fake, 2), models.OpPriceHistory, models.OpIntradayBars)

	res, err := a.Fetch(context.Background(), models.OpPriceHistory, adapter.Params{
		Symbol: "BTCUSDT", Start: day0, End: day0.Add(5 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Rows) != 5 || fake.calls != 3 {
		t.Fatalf("expected 5 bars over 3 pages, got %d bars in %d calls", len(res.Rows), fake.calls)
	}
	if fake.natives[0] != "XBTUSDTM" {
		t.Fatalf("native symbol not used: %q", fake.natives[0])
	}
	row := res.Rows[4]
	if row[models.ColSymbol] != "BTCUSDT" || row[models.ColPeriod] != adapter.DailyPeriod || row[models.ColClose] != 105.5 || row[models.ColAmount] != 1266.0 {
		t.Fatalf("unexpected row %v", row)
	}
	if ts, _ := row.Time(models.ColTimestamp); !ts.Equal(day0.Add(4 * 24 * time.Hour)) {
		t.Fatalf("unexpected timestamp %v", ts)
	}
}

func TestFetchDropsBarsOutsideWindow(t *testing.T) {
	day0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeKlines{series: daily(day0, 3), limit: 10}
	src := newSource(fake, 10)

	rows, err := src.FetchPriceHistory(context.Background(), "ETHUSDT", day0, day0.Add(2*24*time.Hour))
	if err != nil {
		t.Fatalf("FetchPriceHistory: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("end bound not exclusive: %d rows", len(rows))
	}
}

func TestUnsupportedPeriodAndOperation(t *testing.T) {
	src := newSource(&fakeKlines{}, 10)
	if _, err := src.FetchIntradayBars(context.Background(), "BTCUSDT", "3m", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatalf("expected error for unsupported period")
	}

	a := adapter.FromSource(Name, src, models.OpPriceHistory, models.OpIntradayBars)
	if _, err := a.Fetch(context.Background(), models.OpBasicInfo, adapter.Params{}); !errors.Is(err, adapter.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported operation, got %v", err)
	}
}
