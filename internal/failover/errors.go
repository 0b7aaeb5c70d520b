package failover

import (
	"errors"
	"fmt"
	"strings"

	"quoteflow/models"
)

// ErrEmptyResult marks an adapter that answered without rows.
var ErrEmptyResult = errors.New("empty result")

// ErrNotRegistered marks a chain entry no adapter is registered under.
var ErrNotRegistered = errors.New("adapter not registered")

// AdapterFailure is the reason one provider in the chain was skipped.
type AdapterFailure struct {
	Provider string
	Err      error
}

func (f AdapterFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Provider, f.Err)
}

// AllAdaptersExhaustedError is returned when no provider in the chain
// produced a valid result. Attempts follows chain order.
type AllAdaptersExhaustedError struct {
	Operation models.Operation
	Attempts  []AdapterFailure
}

func (e *AllAdaptersExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("all adapters exhausted for %s: [%s]", e.Operation, strings.Join(parts, "; "))
}

// Providers lists the attempted identities in chain order.
func (e *AllAdaptersExhaustedError) Providers() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Provider
	}
	return out
}

func (e *AllAdaptersExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}
