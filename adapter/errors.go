package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"quoteflow/internal/metrics"
	"quoteflow/logger"
	"quoteflow/models"
)

// ErrUnsupportedOperation matches any *UnsupportedOperationError via errors.Is.
var ErrUnsupportedOperation = errors.New("operation not supported")

// UnsupportedOperationError means the adapter does not serve the operation.
// The failover chain moves on; the invoker never retries it.
type UnsupportedOperationError struct {
	Provider  string
	Operation models.Operation
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Operation)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupportedOperation }

func (e *UnsupportedOperationError) Permanent() bool { return true }

// TransientError marks a provider failure worth retrying: timeouts,
// connection resets, throttling and 5xx responses.
type TransientError struct {
	Provider  string
	Operation models.Operation
	Reason    string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: transient (%s): %v", e.Provider, e.Operation, e.Reason, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is returned by HTTP-based providers for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Classify wraps a provider error as *TransientError when it looks
// temporary, otherwise annotates it with provider and operation. Both
// shapes stay opaque to callers beyond errors.Is/As.
func Classify(provider string, op models.Operation, err error) error {
	if err == nil {
		return nil
	}
	var unsupported *UnsupportedOperationError
	if errors.As(err, &unsupported) {
		return err
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return err
	}
	if reason := transientReason(provider, op, err); reason != "" {
		return &TransientError{Provider: provider, Operation: op, Reason: reason, Err: err}
	}
	return fmt.Errorf("%s %s: %w", provider, op, err)
}

func transientReason(provider string, op models.Operation, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == 429 || status.Code == 418:
			metrics.ReportLimitFromMessage(logger.GetLogger(), provider, string(op), "too many requests")
			return "throttled"
		case status.Code >= 500:
			return "server_error"
		}
	}
	msg := err.Error()
	if metrics.ReportLimitFromMessage(logger.GetLogger(), provider, string(op), msg) {
		return "throttled"
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "connection reset") || strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "eof") || strings.Contains(lower, "i/o timeout") {
		return "network"
	}
	return ""
}
