package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/models"
)

func TestFetchPriceHistory(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v5/market/kline") {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("interval"); got != "D" {
			t.Errorf("interval = %q, want D", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","category":"linear","list":[
			["%d","69000","69500","68000","69100","120.5","8300000"],
			["%d","68000","69200","67500","69000","110","7500000"]]},"retExtInfo":{},"time":1}`,
			day.Add(24*time.Hour).UnixMilli(), day.UnixMilli())
	}))
	defer srv.Close()

	a := New(config.BybitProviderConfig{BaseURL: srv.URL, Timeout: time.Second})
	res, err := a.Fetch(context.Background(), models.OpPriceHistory, adapter.Params{
		Symbol: "BTCUSDT", Start: day, End: day.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Rows) != 2 || res.Provider != Name {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Rows[0][models.ColClose].(float64) != 69100 || res.Rows[0][models.ColPeriod] != adapter.DailyPeriod {
		t.Fatalf("unexpected first row: %v", res.Rows[0])
	}
}

func TestRetCodeIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error","result":{},"retExtInfo":{},"time":1}`)
	}))
	defer srv.Close()

	a := New(config.BybitProviderConfig{BaseURL: srv.URL, Timeout: time.Second})
	_, err := a.Fetch(context.Background(), models.OpPriceHistory, adapter.Params{
		Symbol: "BTCUSDT", Start: time.Now().Add(-time.Hour), End: time.Now(),
	})
	if err == nil {
		t.Fatalf("expected error for non-zero retCode")
	}
}
