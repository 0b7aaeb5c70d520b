// Package saga keeps the time-series and relational stores consistent for
// one logical write: append the payload, run the metadata step, and
// delete the appended batch if the metadata step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quoteflow/internal/metrics"
	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/storage/relational"
	"quoteflow/storage/timeseries"
)

// DefaultCompensationTimeout bounds the compensating delete. It runs on a
// context detached from the caller so a cancelled unit still cleans up.
const DefaultCompensationTimeout = 30 * time.Second

// ErrIncompleteCompensation means the compensating delete returned
// without error but removed fewer rows than were appended.
var ErrIncompleteCompensation = errors.New("compensating delete removed fewer rows than appended")

type State string

const (
	StateCommitted          State = "committed"
	StateRolledBack         State = "rolled_back"
	StateAbortedBeforeWrite State = "aborted_before_write"
	StateCompensationFailed State = "compensation_failed"
)

// Attempt is one coordinated write. It lives for a single Execute call.
type Attempt struct {
	Symbol         string
	Classification models.DataClassification
	Table          string
	Provider       string
	BatchID        string
	// Rows are the payload as appended, batch id included.
	Rows []models.Row
}

// MetadataFunc runs against the relational store after the primary append
// succeeded. Returning an error triggers compensation.
type MetadataFunc func(ctx context.Context, tx relational.Tx, a *Attempt) error

// Outcome reports how an attempt ended.
type Outcome struct {
	State      State
	Committed  bool
	RolledBack bool
	BatchID    string
	Records    int
}

// CompensationError means the metadata step failed and the compensating
// delete failed too: the stores may disagree until an operator fixes it.
type CompensationError struct {
	Symbol         string
	Classification models.DataClassification
	Table          string
	BatchID        string
	MetadataErr    error
	Err            error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga compensation failed for %s/%s batch %s in %s: %v (metadata error: %v)",
		e.Classification, e.Symbol, e.BatchID, e.Table, e.Err, e.MetadataErr)
}

func (e *CompensationError) Unwrap() []error { return []error{e.Err, e.MetadataErr} }

// Stats counts terminal states across all attempts.
type Stats struct {
	Commits              int64 `json:"commits"`
	Rollbacks            int64 `json:"rollbacks"`
	Aborts               int64 `json:"aborts"`
	CompensationFailures int64 `json:"compensation_failures"`
}

type Option func(*Coordinator)

// WithBatchIDs replaces the uuid generator.
func WithBatchIDs(next func() string) Option {
	return func(c *Coordinator) { c.newID = next }
}

// WithCompensationTimeout bounds the compensating delete.
func WithCompensationTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.compTimeout = d }
}

// Coordinator is safe for concurrent use; attempts share nothing but the
// counters.
type Coordinator struct {
	primary     timeseries.Store
	meta        relational.Store
	newID       func() string
	compTimeout time.Duration
	log         *logger.Entry

	commits              atomic.Int64
	rollbacks            atomic.Int64
	aborts               atomic.Int64
	compensationFailures atomic.Int64
}

func New(primary timeseries.Store, meta relational.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		primary:     primary,
		meta:        meta,
		newID:       uuid.NewString,
		compTimeout: DefaultCompensationTimeout,
		log:         logger.GetLogger().WithComponent("saga"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs one attempt. Exactly one of these happens: nothing is
// written (AbortedBeforeWrite), both stores are written (Committed), or
// the append is undone (RolledBack). The primary append is never retried.
// A non-nil error accompanies every state but Committed; for
// StateCompensationFailed it is a *CompensationError.
func (c *Coordinator) Execute(ctx context.Context, a Attempt, metadataFn MetadataFunc) (Outcome, error) {
	if a.BatchID == "" {
		a.BatchID = c.newID()
	}
	a.Rows = timeseries.StampBatch(a.Rows, a.BatchID)
	out := Outcome{BatchID: a.BatchID, Records: len(a.Rows)}

	log := c.log.WithFields(logger.Fields{
		"symbol":         a.Symbol,
		"classification": string(a.Classification),
		"table":          a.Table,
		"batch_id":       a.BatchID,
		"records":        len(a.Rows),
	})

	if len(a.Rows) == 0 {
		return c.finish(a, out, StateAbortedBeforeWrite), errors.New("saga: empty payload")
	}

	if err := c.primary.Append(ctx, a.Table, a.Rows); err != nil {
		log.WithError(err).Warn("primary append failed, nothing to compensate")
		return c.finish(a, out, StateAbortedBeforeWrite), fmt.Errorf("primary append to %s: %w", a.Table, err)
	}

	metaErr := c.meta.Execute(ctx, func(ctx context.Context, tx relational.Tx) error {
		if metadataFn == nil {
			return nil
		}
		return metadataFn(ctx, tx, &a)
	})
	if metaErr == nil {
		log.Debug("saga committed")
		return c.finish(a, out, StateCommitted), nil
	}

	log.WithError(metaErr).Warn("metadata step failed, compensating primary append")
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.compTimeout)
	defer cancel()
	compErr := c.compensate(compCtx, a)
	if compErr != nil {
		cerr := &CompensationError{
			Symbol:         a.Symbol,
			Classification: a.Classification,
			Table:          a.Table,
			BatchID:        a.BatchID,
			MetadataErr:    metaErr,
			Err:            compErr,
		}
		log.WithError(cerr).Alert("saga_compensation", "compensating delete failed, stores are inconsistent")
		return c.finish(a, out, StateCompensationFailed), cerr
	}

	log.Info("saga rolled back")
	return c.finish(a, out, StateRolledBack), fmt.Errorf("metadata step for %s: %w", a.Symbol, metaErr)
}

// compensate deletes the batch from every symbol partition the rows were
// appended under, then checks that every appended row is gone.
func (c *Coordinator) compensate(ctx context.Context, a Attempt) error {
	var symbols []string
	bySymbol := make(map[string][]models.Row)
	for _, r := range a.Rows {
		sym := r.String(models.ColSymbol)
		if sym == "" {
			sym = a.Symbol
		}
		if _, ok := bySymbol[sym]; !ok {
			symbols = append(symbols, sym)
		}
		bySymbol[sym] = append(bySymbol[sym], r)
	}

	removed := 0
	for _, sym := range symbols {
		n, err := c.primary.Delete(ctx, a.Table, timeseries.Matcher{
			Symbol:  sym,
			BatchID: a.BatchID,
			Rows:    bySymbol[sym],
		})
		removed += n
		if err != nil {
			return err
		}
	}
	if removed < len(a.Rows) {
		return fmt.Errorf("%w: removed %d of %d rows", ErrIncompleteCompensation, removed, len(a.Rows))
	}
	return nil
}

// Stats returns a copy of the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Commits:              c.commits.Load(),
		Rollbacks:            c.rollbacks.Load(),
		Aborts:               c.aborts.Load(),
		CompensationFailures: c.compensationFailures.Load(),
	}
}

func (c *Coordinator) finish(a Attempt, out Outcome, state State) Outcome {
	out.State = state
	switch state {
	case StateCommitted:
		out.Committed = true
		c.commits.Add(1)
	case StateRolledBack:
		out.RolledBack = true
		c.rollbacks.Add(1)
	case StateAbortedBeforeWrite:
		c.aborts.Add(1)
	case StateCompensationFailed:
		c.compensationFailures.Add(1)
	}
	metrics.IncSaga(string(a.Classification), string(state))
	logger.IncrementSaga(string(state))
	return out
}
