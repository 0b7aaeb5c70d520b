// Package failover walks an ordered provider chain until one adapter
// returns a non-empty result.
package failover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quoteflow/adapter"
	"quoteflow/internal/metrics"
	"quoteflow/logger"
	"quoteflow/models"
)

// Executor is stateless apart from the registry it reads and is shared by
// all sync workers.
type Executor struct {
	registry *adapter.Registry
	log      *logger.Entry
}

func New(registry *adapter.Registry) *Executor {
	return &Executor{
		registry: registry,
		log:      logger.GetLogger().WithComponent("failover"),
	}
}

// Execute tries chain in order, each adapter through its own invoker, and
// returns the first valid result. Later adapters are never invoked once
// one succeeds. When every adapter fails the error is
// *AllAdaptersExhaustedError.
func (e *Executor) Execute(ctx context.Context, chain []string, op models.Operation, p adapter.Params) (*models.FetchResult, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("failover %s: empty adapter chain", op)
	}

	log := e.log.WithFields(logger.Fields{
		"operation": string(op),
		"symbol":    p.Symbol,
	})
	failures := make([]AdapterFailure, 0, len(chain))

	for i, provider := range chain {
		if err := ctx.Err(); err != nil {
			failures = append(failures, AdapterFailure{Provider: provider, Err: err})
			break
		}

		res, err := e.try(ctx, provider, op, p)
		if err == nil {
			if i > 0 {
				metrics.IncFailover(string(op), "recovered")
				log.WithFields(logger.Fields{
					"provider": provider,
					"skipped":  i,
				}).Info("failover recovered on fallback provider")
			}
			return res, nil
		}

		failures = append(failures, AdapterFailure{Provider: provider, Err: err})
		entry := log.WithFields(logger.Fields{"provider": provider, "position": i}).WithError(err)
		if errors.Is(err, adapter.ErrUnsupportedOperation) || errors.Is(err, ErrEmptyResult) {
			entry.Info("adapter skipped")
		} else {
			entry.Warn("adapter failed, trying next provider")
		}
	}

	metrics.IncFailover(string(op), "exhausted")
	exhausted := &AllAdaptersExhaustedError{Operation: op, Attempts: failures}
	log.WithError(exhausted).Error("all adapters exhausted")
	return nil, exhausted
}

func (e *Executor) try(ctx context.Context, provider string, op models.Operation, p adapter.Params) (*models.FetchResult, error) {
	binding, ok := e.registry.Lookup(provider)
	if !ok {
		return nil, ErrNotRegistered
	}
	if !binding.Adapter.Supports(op) {
		metrics.ObserveAdapterCall(provider, string(op), "unsupported", 0)
		return nil, &adapter.UnsupportedOperationError{Provider: provider, Operation: op}
	}

	var res *models.FetchResult
	start := time.Now()
	err := binding.Invoker.Do(ctx, func(ctx context.Context) error {
		r, err := binding.Adapter.Fetch(ctx, op, p)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	took := time.Since(start)

	switch {
	case err != nil:
		metrics.ObserveAdapterCall(provider, string(op), "error", took)
		return nil, err
	case !res.Valid():
		metrics.ObserveAdapterCall(provider, string(op), "empty", took)
		return nil, ErrEmptyResult
	}
	metrics.ObserveAdapterCall(provider, string(op), "ok", took)
	if res.Provider == "" {
		res.Provider = provider
	}
	if res.Operation == "" {
		res.Operation = op
	}
	return res, nil
}
