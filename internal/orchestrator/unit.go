package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"quoteflow/adapter"
	"quoteflow/internal/metrics"
	"quoteflow/internal/notify"
	"quoteflow/internal/saga"
	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/processor"
	"quoteflow/storage/relational"
	"quoteflow/storage/timeseries"
)

// chunkResult is the outcome of one fetch → normalize → write pass.
type chunkResult struct {
	records  int64
	provider string
	state    saga.State
	err      error
}

// runUnit never panics and never returns an error: everything that goes
// wrong becomes part of the unit result. Compensation failures are also
// returned separately so the job can escalate them.
func (o *Orchestrator) runUnit(ctx context.Context, p plan, unit string) (res models.SyncUnitResult, compErrs []error) {
	start := time.Now()
	res.Unit = unit
	log := o.log.WithFields(logger.Fields{
		"job_id":         p.job.ID,
		"unit":           unit,
		"classification": string(p.job.Classification),
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{"panic": fmt.Sprint(r), "stack": string(debug.Stack())}).Error("unit panicked")
			res.SubOpFailed++
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Status = models.StatusFor(res.SubOpSucceeded, res.SubOpFailed)
		res.Duration = time.Since(start)

		metrics.IncUnit(string(p.job.Classification), string(res.Status))
		metrics.AddRecords(string(p.job.Classification), string(p.route.Backend), int(res.Records))
		logger.IncrementUnit(string(res.Status), int(res.Records))
	}()

	if o.unitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.unitTimeout)
		defer cancel()
	}

	var lastErr error
	for _, w := range p.chunks {
		c := o.runChunk(ctx, p, unit, w)

		switch c.state {
		case saga.StateCommitted:
			res.SagaCommits++
		case saga.StateRolledBack:
			res.SagaRollbacks++
		case saga.StateAbortedBeforeWrite:
			res.SagaAborts++
		case saga.StateCompensationFailed:
			res.CompensationFailures++
		}

		var cerr *saga.CompensationError
		if errors.As(c.err, &cerr) {
			compErrs = append(compErrs, cerr)
			o.alert(ctx, cerr)
		}

		if c.err != nil {
			res.SubOpFailed++
			lastErr = c.err
			log.WithError(c.err).WithFields(logger.Fields{
				"chunk_start": w.start,
				"chunk_end":   w.end,
			}).Warn("unit chunk failed")
			continue
		}
		res.SubOpSucceeded++
		res.Records += c.records
		res.Provider = c.provider
	}

	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	return res, compErrs
}

func (o *Orchestrator) runChunk(ctx context.Context, p plan, unit string, w window) chunkResult {
	symbol := unit
	if unit == AllUnits {
		symbol = ""
	}

	fetched, err := o.fetcher.Execute(ctx, p.chain, p.job.Operation, adapter.Params{
		Symbol: symbol,
		Start:  w.start,
		End:    w.end,
		Period: p.job.Period,
	})
	if err != nil {
		return chunkResult{err: err}
	}

	rows, _, err := processor.Normalize(p.job.Classification, symbol, fetched, p.route.ConflictKeys)
	if err != nil {
		return chunkResult{provider: fetched.Provider, err: err}
	}

	c := chunkResult{provider: fetched.Provider}
	switch {
	case p.route.Saga:
		out, err := o.coordinator.Execute(ctx, saga.Attempt{
			Symbol:         symbol,
			Classification: p.job.Classification,
			Table:          p.route.Table,
			Provider:       fetched.Provider,
			Rows:           rows,
		}, o.metaFn)
		c.state = out.State
		c.err = err
		if err == nil {
			c.records = int64(out.Records)
		}
	case p.route.Backend == models.BackendTimeSeries:
		if err := o.timeseries.Append(ctx, p.route.Table, timeseries.StampBatch(rows, uuid.NewString())); err != nil {
			c.err = fmt.Errorf("append to %s: %w", p.route.Table, err)
		} else {
			c.records = int64(len(rows))
		}
	default:
		if _, err := o.relational.Upsert(ctx, p.route.Table, rows, p.route.ConflictKeys); err != nil {
			c.err = fmt.Errorf("upsert into %s: %w", p.route.Table, err)
		} else {
			c.records = int64(len(rows))
		}
	}
	return c
}

// syncStatus is the default metadata step: record the committed batch and
// its last bar per (symbol, classification).
func (o *Orchestrator) syncStatus(ctx context.Context, tx relational.Tx, a *saga.Attempt) error {
	_, last, _ := models.TimeRange(a.Rows)
	status := relational.SyncStatus{
		Symbol:         a.Symbol,
		Classification: string(a.Classification),
		Provider:       a.Provider,
		BatchID:        a.BatchID,
		LastBarTime:    last,
		RecordCount:    int64(len(a.Rows)),
		SyncedAt:       o.now().UTC(),
	}
	_, err := tx.Upsert(ctx, o.statusTable, []models.Row{status.Row()}, relational.SyncStatusKeys)
	return err
}

func (o *Orchestrator) alert(ctx context.Context, cerr *saga.CompensationError) {
	err := o.publisher.Alert(context.WithoutCancel(ctx), notify.Alert{
		Kind:           "saga_compensation",
		Symbol:         cerr.Symbol,
		Classification: string(cerr.Classification),
		BatchID:        cerr.BatchID,
		Message:        cerr.Error(),
		At:             o.now().UTC(),
	})
	if err != nil {
		o.log.WithError(err).Error("failed to publish compensation alert")
	}
}
