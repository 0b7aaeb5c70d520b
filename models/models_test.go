package models

import (
	"errors"
	"testing"
	"time"
)

func TestParseClassification(t *testing.T) {
	cases := map[string]DataClassification{
		"daily_kline":  DailyKline,
		"DailyKline":   DailyKline,
		"TickData":     TickData,
		"symbols-info": SymbolsInfo,
	}
	for in, want := range cases {
		got, err := ParseClassification(in)
		if err != nil {
			t.Fatalf("ParseClassification(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseClassification(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseClassification("weekly"); err == nil {
		t.Fatalf("expected error for unknown classification")
	}
}

func TestOperationShape(t *testing.T) {
	if !OpPriceHistory.Windowed() || OpBasicInfo.Windowed() {
		t.Fatalf("windowed flags wrong")
	}
	if !OpSymbolIndustryConcept.PerSymbol() || OpIndustryClassification.PerSymbol() {
		t.Fatalf("per-symbol flags wrong")
	}
}

func TestFetchResultValid(t *testing.T) {
	var nilResult *FetchResult
	if nilResult.Valid() {
		t.Fatalf("nil result must be invalid")
	}
	if (&FetchResult{}).Valid() {
		t.Fatalf("empty result must be invalid")
	}
	if !(&FetchResult{Rows: []Row{{ColSymbol: "BTCUSDT"}}}).Valid() {
		t.Fatalf("non-empty result must be valid")
	}
}

func TestTimeRange(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		{ColTimestamp: t0.Add(2 * time.Minute)},
		{ColTimestamp: t0},
		{ColSymbol: "no-ts"},
		{ColTimestamp: t0.Add(time.Minute)},
	}
	first, last, ok := TimeRange(rows)
	if !ok || !first.Equal(t0) || !last.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("unexpected range %v..%v ok=%v", first, last, ok)
	}
}

func TestStatusFor(t *testing.T) {
	if StatusFor(3, 0) != UnitSuccess || StatusFor(2, 1) != UnitPartial || StatusFor(0, 2) != UnitFailed || StatusFor(0, 0) != UnitFailed {
		t.Fatalf("status derivation wrong")
	}
}

func TestJobStatsMergeAndErr(t *testing.T) {
	stats := &SyncJobStats{TotalUnits: 3}
	stats.Merge(SyncUnitResult{Unit: "B", Status: UnitSuccess, Records: 10, SagaCommits: 1})
	stats.Merge(SyncUnitResult{Unit: "A", Status: UnitFailed, SagaRollbacks: 1})
	stats.Merge(SyncUnitResult{Unit: "C", Status: UnitPartial, Records: 4, SagaCommits: 1})

	if stats.SucceededUnits != 1 || stats.FailedUnits != 1 || stats.PartialUnits != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.TotalRecords != 14 || stats.SagaCommits != 2 || stats.SagaRollbacks != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}

	snap := stats.Snapshot()
	if snap.Units[0].Unit != "A" {
		t.Fatalf("snapshot not sorted: %v", snap.Units)
	}
	snap.Units[0].Unit = "mutated"
	if stats.Units[1].Unit != "A" {
		t.Fatalf("snapshot aliases accumulator")
	}

	var partial *PartialSyncFailure
	if !errors.As(stats.Err(), &partial) {
		t.Fatalf("expected PartialSyncFailure")
	}
	if len(partial.Units) != 2 || partial.Units[0] != "A" || partial.Units[1] != "C" {
		t.Fatalf("unexpected failed units: %v", partial.Units)
	}

	ok := &SyncJobStats{TotalUnits: 1}
	ok.Merge(SyncUnitResult{Unit: "X", Status: UnitSuccess})
	if ok.Err() != nil {
		t.Fatalf("clean job must not report failure")
	}
}
