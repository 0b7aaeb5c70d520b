// Package ratelimit wraps upstream calls of one adapter with a minimum
// spacing between calls, an optional token bucket and circuit breaker, and
// a bounded fixed-delay retry.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"quoteflow/config"
	"quoteflow/logger"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// Permanent is implemented by errors that retrying cannot fix, such as an
// adapter asked for an operation it does not support.
type Permanent interface {
	Permanent() bool
}

// IsPermanent reports whether err (or anything it wraps) is permanent.
func IsPermanent(err error) bool {
	var p Permanent
	return errors.As(err, &p) && p.Permanent()
}

// Policy configures one Invoker.
type Policy struct {
	MinInterval time.Duration
	MaxRetries  int
	RetryDelay  time.Duration

	// RequestsPerSecond > 0 adds a token bucket on top of MinInterval.
	RequestsPerSecond float64
	Burst             int

	Breaker *BreakerPolicy
}

type BreakerPolicy struct {
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// PolicyFromConfig maps the YAML invoker section onto a Policy.
func PolicyFromConfig(cfg config.InvokerConfig) Policy {
	p := Policy{
		MinInterval:       cfg.MinInterval,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.BurstSize,
	}
	if cfg.CircuitBreaker.Enabled {
		p.Breaker = &BreakerPolicy{
			FailureThreshold:    cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:     cfg.CircuitBreaker.RecoveryTimeout,
			HalfOpenMaxRequests: cfg.CircuitBreaker.HalfOpenMaxRequests,
		}
	}
	return p
}

type Option func(*Invoker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(i *Invoker) { i.clock = c }
}

// Stats is a point-in-time copy of an Invoker's counters.
type Stats struct {
	Calls     int64
	Failures  int64
	Retries   int64
	Throttled time.Duration
}

// Invoker serializes the spacing of calls to one upstream provider. It is
// safe for concurrent use; different Invokers never block each other.
type Invoker struct {
	name    string
	policy  Policy
	clock   Clock
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     *logger.Entry

	mu   sync.Mutex
	last time.Time

	statsMu sync.Mutex
	stats   Stats
}

func New(name string, p Policy, opts ...Option) *Invoker {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	inv := &Invoker{
		name:   name,
		policy: p,
		clock:  SystemClock(),
		log:    logger.GetLogger().WithComponent("invoker").WithFields(logger.Fields{"provider": name}),
	}
	for _, opt := range opts {
		opt(inv)
	}
	if p.RequestsPerSecond > 0 {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		inv.limiter = rate.NewLimiter(rate.Limit(p.RequestsPerSecond), burst)
	}
	if p.Breaker != nil {
		inv.breaker = newBreaker(name, *p.Breaker, inv.log)
	}
	return inv
}

func newBreaker(name string, p BreakerPolicy, log *logger.Entry) *gobreaker.CircuitBreaker {
	threshold := uint32(p.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	halfOpen := uint32(p.HalfOpenMaxRequests)
	if halfOpen == 0 {
		halfOpen = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpen,
		Timeout:     p.RecoveryTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logger.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
}

func (i *Invoker) Name() string   { return i.name }
func (i *Invoker) Policy() Policy { return i.policy }

func (i *Invoker) Stats() Stats {
	i.statsMu.Lock()
	defer i.statsMu.Unlock()
	return i.stats
}

// Do runs fn under the invoker's policy. Every attempt waits for its slot
// first. Permanent errors, an open breaker and a done context stop the
// retries early. The error of the last attempt is returned unchanged.
func (i *Invoker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(
		func() error {
			return i.once(ctx, fn)
		},
		retry.Context(ctx),
		retry.Attempts(uint(i.policy.MaxRetries)),
		retry.Delay(i.policy.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.WithTimer(i.clock),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && retryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			if int(n)+1 >= i.policy.MaxRetries || !retryable(err) {
				return
			}
			i.addRetry()
			i.log.WithError(err).WithFields(logger.Fields{
				"attempt":     n + 1,
				"max_retries": i.policy.MaxRetries,
				"delay":       i.policy.RetryDelay.String(),
			}).Warn("upstream call failed, retrying")
		}),
	)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// once performs a single spaced attempt.
func (i *Invoker) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := i.wait(ctx); err != nil {
		return err
	}
	defer i.markDone()

	var err error
	if i.breaker != nil {
		_, err = i.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
	} else {
		err = fn(ctx)
	}
	i.addCall(err)
	return err
}

// wait reserves the next call slot under the lock and sleeps outside it so
// concurrent callers queue up minInterval apart.
func (i *Invoker) wait(ctx context.Context) error {
	var delay time.Duration
	if i.policy.MinInterval > 0 {
		i.mu.Lock()
		now := i.clock.Now()
		next := now
		if !i.last.IsZero() {
			if earliest := i.last.Add(i.policy.MinInterval); earliest.After(now) {
				next = earliest
			}
		}
		i.last = next
		i.mu.Unlock()
		delay = next.Sub(now)
	}

	if delay > 0 {
		i.addThrottle(delay)
		if err := i.clock.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: waiting for call slot: %w", i.name, err)
		}
	}
	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: token bucket: %w", i.name, err)
		}
	}
	return nil
}

// markDone moves the last call time to the post-call instant, success or not.
func (i *Invoker) markDone() {
	if i.policy.MinInterval <= 0 {
		return
	}
	i.mu.Lock()
	if now := i.clock.Now(); now.After(i.last) {
		i.last = now
	}
	i.mu.Unlock()
}

func (i *Invoker) addCall(err error) {
	i.statsMu.Lock()
	i.stats.Calls++
	if err != nil {
		i.stats.Failures++
	}
	i.statsMu.Unlock()
	logger.IncrementAdapterCall(err != nil)
}

func (i *Invoker) addRetry() {
	i.statsMu.Lock()
	i.stats.Retries++
	i.statsMu.Unlock()
}

func (i *Invoker) addThrottle(d time.Duration) {
	i.statsMu.Lock()
	i.stats.Throttled += d
	i.statsMu.Unlock()
}
