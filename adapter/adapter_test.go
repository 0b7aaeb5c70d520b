package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"quoteflow/internal/ratelimit"
	"quoteflow/models"
)

type historyOnly struct {
	UnsupportedSource
	calls int
}

func (h *historyOnly) FetchPriceHistory(_ context.Context, symbol string, start, end time.Time) ([]models.Row, error) {
	h.calls++
	return []models.Row{{models.ColSymbol: symbol, models.ColTimestamp: start}}, nil
}

func TestSourceAdapterDispatch(t *testing.T) {
	src := &historyOnly{}
	a := FromSource("hist", src, models.OpPriceHistory)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	res, err := a.Fetch(context.Background(), models.OpPriceHistory, Params{Symbol: "600519", Start: start})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Provider != "hist" || res.Operation != models.OpPriceHistory || res.Len() != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Columns) == 0 {
		t.Fatalf("columns not annotated")
	}
}

func TestUndeclaredOperationNeverReachesSource(t *testing.T) {
	src := &historyOnly{}
	a := FromSource("hist", src, models.OpPriceHistory)

	_, err := a.Fetch(context.Background(), models.OpBasicInfo, Params{})
	var unsupported *UnsupportedOperationError
	if !errors.As(err, &unsupported) || unsupported.Provider != "hist" {
		t.Fatalf("expected unsupported error naming the provider, got %v", err)
	}
	if src.calls != 0 {
		t.Fatalf("source must not be called")
	}
}

func TestDeclaredButUnimplementedOperation(t *testing.T) {
	a := FromSource("hist", &historyOnly{}, models.OpPriceHistory, models.OpIntradayBars)
	_, err := a.Fetch(context.Background(), models.OpIntradayBars, Params{Symbol: "X", Period: "1m"})
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if !ratelimit.IsPermanent(err) {
		t.Fatalf("unsupported operations must not be retried")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient string
	}{
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"net timeout", timeoutErr{}, "timeout"},
		{"429", &StatusError{Code: 429}, "throttled"},
		{"502", &StatusError{Code: 502}, "server_error"},
		{"404", &StatusError{Code: 404}, ""},
		{"reset", errors.New("read tcp: connection reset by peer"), "network"},
		{"parse", errors.New("invalid character"), ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := Classify("restapi", models.OpPriceHistory, c.err)
			var transient *TransientError
			if c.transient == "" {
				if errors.As(err, &transient) {
					t.Fatalf("unexpected transient classification: %v", err)
				}
				if !errors.Is(err, c.err) {
					t.Fatalf("original error lost: %v", err)
				}
				return
			}
			if !errors.As(err, &transient) || transient.Reason != c.transient {
				t.Fatalf("expected %s, got %v", c.transient, err)
			}
		})
	}
}

type namedAdapter struct{ name string }

func (n namedAdapter) Name() string                       { return n.name }
func (n namedAdapter) Operations() []models.Operation     { return nil }
func (n namedAdapter) Supports(models.Operation) bool     { return false }
func (n namedAdapter) Fetch(context.Context, models.Operation, Params) (*models.FetchResult, error) {
	return nil, fmt.Errorf("not implemented")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(namedAdapter{"b"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(namedAdapter{"a"}, ratelimit.New("a", ratelimit.Policy{MaxRetries: 1})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(namedAdapter{"a"}, nil); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	if err := r.Register(namedAdapter{""}, nil); err == nil {
		t.Fatalf("nameless adapter must fail")
	}

	b, ok := r.Lookup("b")
	if !ok || b.Invoker == nil || b.Invoker.Policy().MaxRetries != ratelimit.DefaultMaxRetries {
		t.Fatalf("default invoker not attached: %+v", b)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("unexpected lookup hit")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "a" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestParsePeriodAndPrice(t *testing.T) {
	if d, err := ParsePeriod("1d"); err != nil || d != 24*time.Hour {
		t.Fatalf("1d -> %v %v", d, err)
	}
	if d, err := ParsePeriod("15m"); err != nil || d != 15*time.Minute {
		t.Fatalf("15m -> %v %v", d, err)
	}
	if _, err := ParsePeriod("weekly"); err == nil {
		t.Fatalf("expected error")
	}
	if v, err := Price("0.1", 1); err != nil || v != 0.1 {
		t.Fatalf("Price -> %v %v", v, err)
	}
	if _, err := Price("abc", 1); err == nil {
		t.Fatalf("expected parse error")
	}
}
