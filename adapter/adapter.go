// Package adapter defines the provider-facing contract: one Adapter per
// upstream provider, each declaring the operations it supports, and a
// Registry that pairs every adapter with its own rate-limited invoker.
package adapter

import (
	"context"
	"time"

	"quoteflow/models"
)

// Params carries the inputs of one fetch. Fields an operation does not
// use are ignored.
type Params struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Period string
}

// Adapter is a capability-scoped connector to one upstream provider.
// Implementations are shared by all workers and must be safe for
// concurrent use.
type Adapter interface {
	Name() string
	Operations() []models.Operation
	Supports(op models.Operation) bool
	// Fetch fails with *UnsupportedOperationError for operations outside
	// Operations() without contacting the provider.
	Fetch(ctx context.Context, op models.Operation, p Params) (*models.FetchResult, error)
}

// DataSource is the raw provider surface. A provider implements the calls
// it can serve and embeds UnsupportedSource for the rest.
type DataSource interface {
	FetchBasicInfo(ctx context.Context) ([]models.Row, error)
	FetchPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.Row, error)
	FetchIntradayBars(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Row, error)
	FetchIndustryClassification(ctx context.Context) ([]models.Row, error)
	FetchConceptClassification(ctx context.Context) ([]models.Row, error)
	FetchSymbolIndustryConcept(ctx context.Context, symbol string) ([]models.Row, error)
}

// UnsupportedSource answers every DataSource call with
// *UnsupportedOperationError.
type UnsupportedSource struct{}

func (UnsupportedSource) FetchBasicInfo(context.Context) ([]models.Row, error) {
	return nil, &UnsupportedOperationError{Operation: models.OpBasicInfo}
}

func (UnsupportedSource) FetchPriceHistory(context.Context, string, time.Time, time.Time) ([]models.Row, error) {
	return nil, &UnsupportedOperationError{Operation: models.OpPriceHistory}
}

func (UnsupportedSource) FetchIntradayBars(context.Context, string, string, time.Time, time.Time) ([]models.Row, error) {
	return nil, &UnsupportedOperationError{Operation: models.OpIntradayBars}
}

func (UnsupportedSource) FetchIndustryClassification(context.Context) ([]models.Row, error) {
	return nil, &UnsupportedOperationError{Operation: models.OpIndustryClassification}
}

func (UnsupportedSource) FetchConceptClassification(context.Context) ([]models.Row, error) {
	return nil, &UnsupportedOperationError{Operation: models.OpConceptClassification}
}

func (UnsupportedSource) FetchSymbolIndustryConcept(context.Context, string) ([]models.Row, error) {
	return nil, &UnsupportedOperationError{Operation: models.OpSymbolIndustryConcept}
}

// ColumnsFor returns the schema rows of op are expected to carry.
func ColumnsFor(op models.Operation) []string {
	switch op {
	case models.OpPriceHistory, models.OpIntradayBars:
		return []string{
			models.ColSymbol, models.ColTimestamp, models.ColPeriod,
			models.ColOpen, models.ColHigh, models.ColLow, models.ColClose,
			models.ColVolume, models.ColAmount,
		}
	case models.OpBasicInfo:
		return []string{
			models.ColSymbol, models.ColName, models.ColExchange, models.ColStatus,
			models.ColBase, models.ColQuote, models.ColListed,
		}
	case models.OpIndustryClassification, models.OpConceptClassification:
		return []string{models.ColCode, models.ColName, models.ColParent, models.ColCategory}
	case models.OpSymbolIndustryConcept:
		return []string{models.ColSymbol, models.ColCategory, models.ColCode, models.ColName}
	}
	return nil
}
