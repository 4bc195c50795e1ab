// Package invoker runs calls against rate-limited providers with bounded
// exponential backoff.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

// Defaults match the provider quotas the pipeline was tuned against.
const (
	DefaultAttempts  = 8
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxJitter = 500 * time.Millisecond
	DefaultPacing    = 500 * time.Millisecond
)

// Policy controls attempt count and delay shape.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxJitter time.Duration
	Pacing    time.Duration
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		MaxJitter: DefaultMaxJitter,
		Pacing:    DefaultPacing,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	if p.Pacing < 0 {
		p.Pacing = 0
	}
	return p
}

// Backoff is the wait before retry n (1-based): base * 2^n plus u * maxJitter,
// with u in [0, 1).
func Backoff(base, maxJitter time.Duration, n uint, u float64) time.Duration {
	if n > 30 {
		n = 30
	}
	return base*time.Duration(1<<n) + time.Duration(u*float64(maxJitter))
}

// Timer abstracts waiting so tests can run without real time passing.
type Timer interface {
	After(time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Observer is notified about each failed attempt.
type Observer interface {
	Retry(kind string)
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Config holds invoker dependencies.
type Config struct {
	Policy   Policy
	Timer    Timer
	Rand     func() float64
	Observer Observer
	Logger   *slog.Logger
}

// Invoker wraps provider calls with pacing and retry.
type Invoker struct {
	policy   Policy
	timer    Timer
	rand     func() float64
	observer Observer
	logger   *slog.Logger
}

// New creates an invoker.
func New(cfg Config) *Invoker {
	if cfg.Timer == nil {
		cfg.Timer = realTimer{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Invoker{
		policy:   cfg.Policy.withDefaults(),
		timer:    cfg.Timer,
		rand:     cfg.Rand,
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
}

// Policy returns the effective policy.
func (inv *Invoker) Policy() Policy {
	return inv.policy
}

// Delay computes the wait before retry n using the invoker's jitter source.
func (inv *Invoker) Delay(n uint) time.Duration {
	return Backoff(inv.policy.BaseDelay, inv.policy.MaxJitter, n, inv.rand())
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Every attempt is preceded by the pacing wait.
func Do[T any](ctx context.Context, inv *Invoker, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := 0

	result, err := retry.DoWithData(
		func() (T, error) {
			if err := inv.wait(ctx, inv.policy.Pacing); err != nil {
				return zero, retry.Unrecoverable(err)
			}
			attempts++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(inv.policy.Attempts)),
		retry.WithTimer(inv.timer),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return inv.Delay(n)
		}),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && ctx.Err() == nil && pipeline.IsRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			inv.logAttempt(op, n, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	if !pipeline.IsRetryable(err) {
		return zero, err
	}
	return zero, &ExhaustedError{Op: op, Attempts: attempts, Last: err}
}

func (inv *Invoker) logAttempt(op string, n uint, err error) {
	if !pipeline.IsRetryable(err) {
		return
	}
	kind := "error"
	if pipeline.IsThrottling(err) {
		kind = "throttled"
		inv.logger.Warn("throttled", "op", op, "attempt", n+1, "error", err)
	} else {
		inv.logger.Warn("provider call failed", "op", op, "attempt", n+1, "error", err)
	}
	if inv.observer != nil {
		inv.observer.Retry(kind)
	}
}

func (inv *Invoker) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-inv.timer.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pace waits the pacing delay. Callers use it between successive submissions.
func (inv *Invoker) Pace(ctx context.Context) error {
	return inv.wait(ctx, inv.policy.Pacing)
}

// IsExhausted reports whether err came from a spent retry budget.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}
