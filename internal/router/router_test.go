package router

import (
	"errors"
	"reflect"
	"testing"

	"quoteflow/config"
	"quoteflow/models"
)

const routingDoc = `
stores:
  daily_kline:
    backend: timeseries
    table: kline_daily
    consistency: saga
  symbols_info:
    backend: relational
    table: symbols_info
    conflict_keys: [symbol]
adapters:
  default: [a, b]
  operations:
    price_history: [b, c]
  classifications:
    daily_kline:
      price_history: [c, a]
`

func newRouter(t *testing.T) *Router {
	t.Helper()
	r, err := config.ParseRouting([]byte(routingDoc), "test.yml")
	if err != nil {
		t.Fatalf("ParseRouting: %v", err)
	}
	rt, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func TestResolveStore(t *testing.T) {
	rt := newRouter(t)

	route, err := rt.ResolveStore(models.DailyKline)
	if err != nil {
		t.Fatalf("ResolveStore: %v", err)
	}
	if route.Backend != models.BackendTimeSeries || route.Table != "kline_daily" || !route.Saga {
		t.Fatalf("unexpected route %+v", route)
	}

	info, err := rt.ResolveStore(models.SymbolsInfo)
	if err != nil {
		t.Fatalf("ResolveStore: %v", err)
	}
	if info.Table != "symbols_info" || info.Saga || !reflect.DeepEqual(info.ConflictKeys, []string{"symbol"}) {
		t.Fatalf("unexpected route %+v", info)
	}

	_, err = rt.ResolveStore(models.TickData)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestResolveAdapterChainFallback(t *testing.T) {
	rt := newRouter(t)

	cases := []struct {
		class models.DataClassification
		op    models.Operation
		want  []string
	}{
		{models.DailyKline, models.OpPriceHistory, []string{"c", "a"}},
		{models.MinuteKline, models.OpPriceHistory, []string{"b", "c"}},
		{models.DailyKline, models.OpBasicInfo, []string{"a", "b"}},
	}
	for _, c := range cases {
		got, err := rt.ResolveAdapterChain(c.class, c.op)
		if err != nil {
			t.Fatalf("%s/%s: %v", c.class, c.op, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("%s/%s: got %v want %v", c.class, c.op, got, c.want)
		}
	}
}

func TestResolveAdapterChainDeterministicCopy(t *testing.T) {
	rt := newRouter(t)

	first, _ := rt.ResolveAdapterChain(models.DailyKline, models.OpPriceHistory)
	first[0] = "mutated"
	for i := 0; i < 5; i++ {
		got, err := rt.ResolveAdapterChain(models.DailyKline, models.OpPriceHistory)
		if err != nil {
			t.Fatalf("ResolveAdapterChain: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"c", "a"}) {
			t.Fatalf("call %d returned %v", i, got)
		}
	}
}

func TestNoChainIsConfigurationError(t *testing.T) {
	rt := &Router{
		routes:  map[models.DataClassification]Route{},
		byOp:    map[models.Operation][]string{},
		byClass: map[models.DataClassification]map[models.Operation][]string{},
	}
	_, err := rt.ResolveAdapterChain(models.DailyKline, models.OpPriceHistory)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestEmbeddedDefaultRouting(t *testing.T) {
	r, err := config.DefaultRouting()
	if err != nil {
		t.Fatalf("DefaultRouting: %v", err)
	}
	rt, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(rt.Classifications()); got != len(models.Classifications()) {
		t.Fatalf("embedded routing covers %d classifications", got)
	}
	chain, _ := rt.ResolveAdapterChain(models.TickData, models.OpIntradayBars)
	if chain[0] != "bybit" {
		t.Fatalf("tick data override not applied: %v", chain)
	}
	if chain, _ := rt.ResolveAdapterChain(models.DailyKline, models.OpPriceHistory); !reflect.DeepEqual(chain, []string{"binance", "bybit", "kucoin", "restapi"}) {
		t.Fatalf("unexpected price history chain %v", chain)
	}
	if !reflect.DeepEqual(rt.Providers(), []string{"binance", "bybit", "kucoin", "reference", "restapi"}) {
		t.Fatalf("unexpected providers %v", rt.Providers())
	}
}
