// Package restapi talks to an HTTP JSON market-data gateway that serves
// every operation under /v1.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

const DefaultName = "restapi"

type Source struct {
	base   *url.URL
	token  string
	client *http.Client
	log    *logger.Entry
}

// New returns the gateway adapter. cfg.Operations narrows the served
// operations; empty means all of them.
func New(cfg config.RestAPIProviderConfig) (adapter.Adapter, error) {
	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	ops := models.Operations()
	if len(cfg.Operations) > 0 {
		ops = ops[:0]
		for _, s := range cfg.Operations {
			op, err := models.ParseOperation(s)
			if err != nil {
				return nil, &config.ConfigurationError{Key: "providers.restapi.operations", Err: err}
			}
			ops = append(ops, op)
		}
	}
	return adapter.FromSource(name, src, ops...), nil
}

func NewSource(cfg config.RestAPIProviderConfig) (*Source, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &config.ConfigurationError{Key: "providers.restapi.base_url", Err: fmt.Errorf("invalid url %q", cfg.BaseURL)}
	}
	return &Source{
		base:   base,
		token:  cfg.Token,
		client: adapter.NewHTTPClient(cfg.ConnectionPool, cfg.Timeout),
		log:    logger.GetLogger().WithComponent("restapi_adapter").WithFields(logger.Fields{"host": base.Host}),
	}, nil
}

type envelope struct {
	Data []map[string]interface{} `json:"data"`
}

func (s *Source) get(ctx context.Context, path string, query url.Values) ([]map[string]interface{}, error) {
	u := *s.base
	u.Path = s.base.Path + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(s.log, "restapi_adapter", path, time.Since(start), logger.Fields{"status": resp.StatusCode})

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &adapter.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return env.Data, nil
}

func (s *Source) FetchBasicInfo(ctx context.Context) ([]models.Row, error) {
	items, err := s.get(ctx, "/v1/symbols", nil)
	if err != nil {
		return nil, err
	}
	return toRows(items, models.ColListed)
}

func (s *Source) FetchPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.Row, error) {
	return s.bars(ctx, symbol, adapter.DailyPeriod, start, end)
}

func (s *Source) FetchIntradayBars(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	return s.bars(ctx, symbol, period, start, end)
}

func (s *Source) bars(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("period", period)
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	items, err := s.get(ctx, "/v1/bars", q)
	if err != nil {
		return nil, err
	}
	rows, err := toRows(items, models.ColTimestamp)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, ok := row[models.ColSymbol]; !ok {
			row[models.ColSymbol] = symbol
		}
		if _, ok := row[models.ColPeriod]; !ok {
			row[models.ColPeriod] = period
		}
	}
	return rows, nil
}

func (s *Source) FetchIndustryClassification(ctx context.Context) ([]models.Row, error) {
	return s.catalogue(ctx, "/v1/industries", "industry")
}

func (s *Source) FetchConceptClassification(ctx context.Context) ([]models.Row, error) {
	return s.catalogue(ctx, "/v1/concepts", "concept")
}

func (s *Source) catalogue(ctx context.Context, path, category string) ([]models.Row, error) {
	items, err := s.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	rows, err := toRows(items)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row[models.ColCategory] = category
	}
	return rows, nil
}

func (s *Source) FetchSymbolIndustryConcept(ctx context.Context, symbol string) ([]models.Row, error) {
	items, err := s.get(ctx, "/v1/symbols/"+url.PathEscape(symbol)+"/classification", nil)
	if err != nil {
		return nil, err
	}
	rows, err := toRows(items)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row[models.ColSymbol] = symbol
	}
	return rows, nil
}

// toRows copies JSON objects into rows, parsing the named time columns
// from RFC 3339 strings or epoch milliseconds.
func toRows(items []map[string]interface{}, timeCols ...string) ([]models.Row, error) {
	rows := make([]models.Row, 0, len(items))
	for n, item := range items {
		row := models.Row(item)
		for _, col := range timeCols {
			v, ok := row[col]
			if !ok {
				continue
			}
			ts, err := parseTime(v)
			if err != nil {
				return nil, fmt.Errorf("item %d %s: %w", n, col, err)
			}
			row[col] = ts
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UTC(), nil
		}
		if ts, err := time.Parse("2006-01-02", t); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %v", v)
}
