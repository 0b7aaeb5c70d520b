// Package bybit serves instrument metadata and klines from the Bybit v5
// market API.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/internal/symbols"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	Name             = "bybit"
	defaultBaseURL   = "https://api.bybit.com"
	defaultCategory  = "linear"
	defaultPageLimit = 1000
)

var intervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D",
}

type Source struct {
	adapter.UnsupportedSource
	client    *bybit.Client
	category  string
	pageLimit int
	log       *logger.Entry
}

func New(cfg config.BybitProviderConfig) adapter.Adapter {
	return adapter.FromSource(Name, NewSource(cfg),
		models.OpBasicInfo, models.OpPriceHistory, models.OpIntradayBars)
}

func NewSource(cfg config.BybitProviderConfig) *Source {
	base := defaultBaseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
		if parsed, err := url.Parse(cfg.BaseURL); err == nil && parsed.Host != "" {
			base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		}
	}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = adapter.NewHTTPClient(cfg.ConnectionPool, cfg.Timeout)

	category := cfg.Category
	if category == "" {
		category = defaultCategory
	}
	limit := cfg.PageLimit
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}

	log := logger.GetLogger().WithComponent("bybit_adapter")
	log.WithFields(logger.Fields{"base_url": base, "category": category}).Info("bybit adapter initialized")

	return &Source{client: client, category: category, pageLimit: limit, log: log}
}

// decode checks the envelope and re-decodes Result into out.
func decode(resp *bybit.ServerResponse, out interface{}) error {
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("retCode=%d %s", resp.RetCode, resp.RetMsg)
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

type instrumentsResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		ContractType string `json:"contractType"`
		Status       string `json:"status"`
		BaseCoin     string `json:"baseCoin"`
		QuoteCoin    string `json:"quoteCoin"`
		LaunchTime   string `json:"launchTime"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

func (s *Source) FetchBasicInfo(ctx context.Context) ([]models.Row, error) {
	var rows []models.Row
	cursor := ""
	for {
		params := map[string]interface{}{"category": s.category, "limit": 1000}
		if cursor != "" {
			params["cursor"] = cursor
		}
		resp, err := s.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return nil, err
		}
		var res instrumentsResult
		if err := decode(resp, &res); err != nil {
			return nil, err
		}
		for _, inst := range res.List {
			listed := time.Time{}
			if ms, err := strconv.ParseInt(inst.LaunchTime, 10, 64); err == nil {
				listed = time.UnixMilli(ms).UTC()
			}
			rows = append(rows, models.Row{
				models.ColSymbol:   symbols.Canonical(Name, inst.Symbol),
				models.ColName:     inst.Symbol,
				models.ColExchange: Name,
				models.ColStatus:   strings.ToLower(inst.Status),
				models.ColBase:     inst.BaseCoin,
				models.ColQuote:    inst.QuoteCoin,
				models.ColListed:   listed,
			})
		}
		if res.NextPageCursor == "" || len(res.List) == 0 {
			break
		}
		cursor = res.NextPageCursor
	}
	return rows, nil
}

func (s *Source) FetchPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.Row, error) {
	return s.klines(ctx, symbol, adapter.DailyPeriod, start, end)
}

func (s *Source) FetchIntradayBars(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	return s.klines(ctx, symbol, period, start, end)
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

// klines pages backwards: Bybit returns the newest bars first.
func (s *Source) klines(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval, ok := intervals[strings.ToLower(period)]
	if !ok {
		return nil, fmt.Errorf("unsupported period %q", period)
	}
	if end.IsZero() {
		end = time.Now()
	}

	native := symbols.Native(Name, symbol)
	div := symbols.Multiplier(Name, symbol)
	log := s.log.WithFields(logger.Fields{"symbol": symbol, "native": native, "period": period})

	var rows []models.Row
	startMs := start.UnixMilli()
	cursor := end.UnixMilli() - 1
	for cursor >= startMs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params := map[string]interface{}{
			"category": s.category,
			"symbol":   native,
			"interval": interval,
			"start":    startMs,
			"end":      cursor,
			"limit":    s.pageLimit,
		}
		began := time.Now()
		resp, err := s.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			return nil, err
		}
		logger.LogPerformanceEntry(log, "bybit_adapter", "kline", time.Since(began), nil)

		var res klineResult
		if err := decode(resp, &res); err != nil {
			return nil, err
		}

		oldest := int64(-1)
		for _, k := range res.List {
			if len(k) < 7 {
				return nil, fmt.Errorf("short kline entry %v", k)
			}
			openMs, err := strconv.ParseInt(k[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("kline start %q: %w", k[0], err)
			}
			row, err := adapter.BarRow(symbol, period, time.UnixMilli(openMs), k[1], k[2], k[3], k[4], k[5], k[6], div)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
			if oldest < 0 || openMs < oldest {
				oldest = openMs
			}
		}
		if len(res.List) < s.pageLimit || oldest < 0 {
			break
		}
		cursor = oldest - 1
	}

	logger.LogDataFlowEntry(log, "bybit_api", "fetch_result", len(rows), "klines")
	return rows, nil
}
