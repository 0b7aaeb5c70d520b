package adapter

import (
	"context"
	"errors"
	"time"

	"quoteflow/models"
)

type sourceAdapter struct {
	name string
	src  DataSource
	ops  []models.Operation
	set  map[models.Operation]struct{}
	now  func() time.Time
}

// FromSource turns a DataSource into an Adapter that serves exactly ops.
func FromSource(name string, src DataSource, ops ...models.Operation) Adapter {
	set := make(map[models.Operation]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return &sourceAdapter{name: name, src: src, ops: ops, set: set, now: time.Now}
}

func (a *sourceAdapter) Name() string { return a.name }

func (a *sourceAdapter) Operations() []models.Operation {
	out := make([]models.Operation, len(a.ops))
	copy(out, a.ops)
	return out
}

func (a *sourceAdapter) Supports(op models.Operation) bool {
	_, ok := a.set[op]
	return ok
}

func (a *sourceAdapter) Fetch(ctx context.Context, op models.Operation, p Params) (*models.FetchResult, error) {
	if !a.Supports(op) {
		return nil, &UnsupportedOperationError{Provider: a.name, Operation: op}
	}

	var (
		rows []models.Row
		err  error
	)
	switch op {
	case models.OpBasicInfo:
		rows, err = a.src.FetchBasicInfo(ctx)
	case models.OpPriceHistory:
		rows, err = a.src.FetchPriceHistory(ctx, p.Symbol, p.Start, p.End)
	case models.OpIntradayBars:
		rows, err = a.src.FetchIntradayBars(ctx, p.Symbol, p.Period, p.Start, p.End)
	case models.OpIndustryClassification:
		rows, err = a.src.FetchIndustryClassification(ctx)
	case models.OpConceptClassification:
		rows, err = a.src.FetchConceptClassification(ctx)
	case models.OpSymbolIndustryConcept:
		rows, err = a.src.FetchSymbolIndustryConcept(ctx, p.Symbol)
	default:
		return nil, &UnsupportedOperationError{Provider: a.name, Operation: op}
	}
	if err != nil {
		var unsupported *UnsupportedOperationError
		if errors.As(err, &unsupported) && unsupported.Provider == "" {
			unsupported.Provider = a.name
		}
		return nil, Classify(a.name, op, err)
	}

	return &models.FetchResult{
		Provider:  a.name,
		Operation: op,
		Columns:   ColumnsFor(op),
		Rows:      rows,
		FetchedAt: a.now().UTC(),
	}, nil
}
