// Package kucoin serves klines from the KuCoin futures market API.
package kucoin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/internal/symbols"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	Name             = "kucoin"
	defaultBaseURL   = "https://api-futures.kucoin.com"
	defaultPageLimit = 500
)

// granularity is the kline size in minutes the API accepts per period.
var granularity = map[string]int64{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "2h": 120, "4h": 240, "8h": 480, "12h": 720,
	"1d": 1440, "1w": 10080,
}

// klineAPI is the one market call the source makes. Each kline is
// [time ms, open, high, low, close, volume, turnover].
type klineAPI interface {
	Klines(ctx context.Context, native string, minutes, from, to int64) ([][]float64, error)
}

type sdkKlines struct {
	market futuresmarket.MarketAPI
}

func (k sdkKlines) Klines(ctx context.Context, native string, minutes, from, to int64) ([][]float64, error) {
	req := futuresmarket.NewGetKlinesReqBuilder().
		SetSymbol(native).
		SetGranularity(minutes).
		SetFrom(from).
		SetTo(to).
		Build()
	resp, err := k.market.GetKlines(req, ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty kline response for %s", native)
	}
	return resp.Data, nil
}

type Source struct {
	adapter.UnsupportedSource
	fetcher   klineAPI
	pageLimit int
	log       *logger.Entry
}

// New returns the KuCoin adapter for price history and intraday bars.
func New(cfg config.KucoinProviderConfig) adapter.Adapter {
	return adapter.FromSource(Name, NewSource(cfg), models.OpPriceHistory, models.OpIntradayBars)
}

func NewSource(cfg config.KucoinProviderConfig) *Source {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxIdle := cfg.ConnectionPool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 16
	}
	idle := cfg.ConnectionPool.IdleConnTimeout
	if idle <= 0 {
		idle = 90 * time.Second
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(maxIdle).
		SetMaxIdleConnsPerHost(maxIdle).
		SetMaxConnsPerHost(cfg.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(idle).
		SetTimeout(timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)
	market := client.RestService().GetFuturesService().GetMarketAPI()

	limit := cfg.PageLimit
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}

	log := logger.GetLogger().WithComponent("kucoin_adapter")
	log.WithFields(logger.Fields{"base_url": baseURL, "page_limit": limit}).Info("kucoin adapter initialized")

	return newSource(sdkKlines{market: market}, limit)
}

func newSource(k klineAPI, pageLimit int) *Source {
	return &Source{fetcher: k, pageLimit: pageLimit, log: logger.GetLogger().WithComponent("kucoin_adapter")}
}

func (s *Source) FetchPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.Row, error) {
	return s.klines(ctx, symbol, adapter.DailyPeriod, start, end)
}

func (s *Source) FetchIntradayBars(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	return s.klines(ctx, symbol, period, start, end)
}

// klines pages forward from start, one granularity past the last bar, until
// a short page or end. Bars outside [start, end) are dropped.
func (s *Source) klines(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	minutes, ok := granularity[strings.ToLower(period)]
	if !ok {
		return nil, fmt.Errorf("unsupported kucoin period %q", period)
	}
	if end.IsZero() {
		end = time.Now()
	}

	native := symbols.Native(Name, symbol)
	div := symbols.Multiplier(Name, symbol)
	step := minutes * time.Minute.Milliseconds()
	log := s.log.WithFields(logger.Fields{"symbol": symbol, "native": native, "period": period})

	var rows []models.Row
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	for cursor := startMs; cursor < endMs; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		began := time.Now()
		page, err := s.fetcher.Klines(ctx, native, minutes, cursor, endMs)
		if err != nil {
			return nil, err
		}
		logger.LogPerformanceEntry(log, "kucoin_adapter", "klines", time.Since(began), logger.Fields{"bars": len(page)})

		last := int64(-1)
		for _, k := range page {
			if len(k) < 7 {
				return nil, fmt.Errorf("kline with %d fields", len(k))
			}
			ts := int64(k[0])
			if ts > last {
				last = ts
			}
			if ts < startMs || ts >= endMs {
				continue
			}
			row, err := adapter.BarRow(symbol, period, time.UnixMilli(ts),
				num(k[1]), num(k[2]), num(k[3]), num(k[4]), num(k[5]), num(k[6]), div)
			if err != nil {
				return nil, fmt.Errorf("kline %d: %w", ts, err)
			}
			rows = append(rows, row)
		}
		if len(page) < s.pageLimit || last < cursor {
			break
		}
		cursor = last + step
	}

	logger.LogDataFlowEntry(log, "kucoin_api", "fetch_result", len(rows), "klines")
	return rows, nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
