// Package binance serves instrument metadata and klines from the Binance
// USD-M futures REST API.
package binance

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/internal/symbols"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	Name             = "binance"
	defaultPageLimit = 1500
)

type Source struct {
	adapter.UnsupportedSource
	client    *futures.Client
	pageLimit int
	log       *logger.Entry
}

// New returns the Binance adapter for basic info, price history and
// intraday bars.
func New(cfg config.BinanceProviderConfig) adapter.Adapter {
	return adapter.FromSource(Name, NewSource(cfg),
		models.OpBasicInfo, models.OpPriceHistory, models.OpIntradayBars)
}

func NewSource(cfg config.BinanceProviderConfig) *Source {
	client := futures.NewClient("", "")
	client.HTTPClient = adapter.NewHTTPClient(cfg.ConnectionPool, cfg.Timeout)
	if cfg.BaseURL != "" {
		if parsed, err := url.Parse(cfg.BaseURL); err == nil && parsed.Host != "" {
			client.BaseURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		}
	}

	limit := cfg.PageLimit
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}

	log := logger.GetLogger().WithComponent("binance_adapter")
	log.WithFields(logger.Fields{
		"base_url":   client.BaseURL,
		"page_limit": limit,
		"timeout":    cfg.Timeout,
	}).Info("binance adapter initialized")

	return &Source{client: client, pageLimit: limit, log: log}
}

func (s *Source) FetchBasicInfo(ctx context.Context) ([]models.Row, error) {
	start := time.Now()
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(s.log, "binance_adapter", "exchange_info", time.Since(start), nil)

	rows := make([]models.Row, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.ContractType != futures.ContractTypePerpetual {
			continue
		}
		rows = append(rows, models.Row{
			models.ColSymbol:   symbols.Canonical(Name, sym.Symbol),
			models.ColName:     sym.Pair,
			models.ColExchange: Name,
			models.ColStatus:   strings.ToLower(sym.Status),
			models.ColBase:     sym.BaseAsset,
			models.ColQuote:    sym.QuoteAsset,
			models.ColListed:   time.UnixMilli(sym.OnboardDate).UTC(),
		})
	}
	return rows, nil
}

func (s *Source) FetchPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.Row, error) {
	return s.klines(ctx, symbol, adapter.DailyPeriod, start, end)
}

func (s *Source) FetchIntradayBars(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	return s.klines(ctx, symbol, period, start, end)
}

// klines pages forward from start until a short page or end.
func (s *Source) klines(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if _, err := adapter.ParsePeriod(period); err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now()
	}

	native := symbols.Native(Name, symbol)
	div := symbols.Multiplier(Name, symbol)
	log := s.log.WithFields(logger.Fields{"symbol": symbol, "native": native, "period": period})

	var rows []models.Row
	cursor := start.UnixMilli()
	endMs := end.UnixMilli() - 1
	for cursor <= endMs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		began := time.Now()
		page, err := s.client.NewKlinesService().
			Symbol(native).
			Interval(strings.ToLower(period)).
			StartTime(cursor).
			EndTime(endMs).
			Limit(s.pageLimit).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		logger.LogPerformanceEntry(log, "binance_adapter", "klines", time.Since(began), logger.Fields{"bars": len(page)})

		for _, k := range page {
			row, err := adapter.BarRow(symbol, period, time.UnixMilli(k.OpenTime),
				k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume, div)
			if err != nil {
				return nil, fmt.Errorf("kline %d: %w", k.OpenTime, err)
			}
			rows = append(rows, row)
		}
		if len(page) < s.pageLimit {
			break
		}
		cursor = page[len(page)-1].OpenTime + 1
	}

	logger.LogDataFlowEntry(log, "binance_api", "fetch_result", len(rows), "klines")
	return rows, nil
}
