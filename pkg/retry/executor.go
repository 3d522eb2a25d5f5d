package retry

import (
	"context"
	"errors"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/quillstone/dbguard/pkg/dberrors"
	"github.com/quillstone/dbguard/pkg/logger"
	"github.com/quillstone/dbguard/pkg/timeout"
)

// Operation is one retriable unit of work. The context it receives is bounded
// by the attempt allowance computed from the timeout budget.
type Operation func(ctx context.Context) error

// Executor runs operations under a retry policy and a timeout budget. The
// total budget is the hard ceiling across all attempts and inter-attempt
// sleeps; each attempt is further bounded by the operation timeout for its
// call kind.
type Executor struct {
	policy Policy
	clock  quartz.Clock
	logger *zap.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithClock injects a clock, letting tests drive inter-attempt sleeps
// without real waiting
func WithClock(clock quartz.Clock) ExecutorOption {
	return func(e *Executor) {
		e.clock = clock
	}
}

// WithLogger overrides the executor's logger
func WithLogger(log *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = log
	}
}

// NewExecutor creates a retry executor for the given policy
func NewExecutor(policy Policy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policy: policy,
		clock:  quartz.NewReal(),
		logger: logger.Get().With(zap.String("component", "retry_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's retry policy
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute runs op until it succeeds, the policy stops retrying, or the total
// budget runs out. The returned error is always a taxonomy error: the total
// timeout is terminal and never retried; exhausted attempts are wrapped with
// attempt count and elapsed time.
func (e *Executor) Execute(ctx context.Context, budget *timeout.Budget, kind timeout.Kind, op Operation) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if budget.Exhausted() {
			return e.totalTimeout(lastErr, attempt-1, budget)
		}

		attemptCtx, cancel := budget.AttemptContext(ctx, kind)
		err := op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		err = classify(err, kind)
		lastErr = err

		if ctx.Err() != nil {
			return dberrors.Wrap(ctx.Err(), dberrors.ErrorTypeOperation, "call cancelled")
		}

		decision := e.policy.Decide(attempt, err)
		if !decision.Retry {
			// Terminal kinds already say why the call cannot proceed; wrapping
			// them as exhaustion would misreport a single bounded failure.
			switch dberrors.TypeOf(err) {
			case dberrors.ErrorTypePoolExhausted, dberrors.ErrorTypeConfig, dberrors.ErrorTypeTotalTimeout:
				return err
			}
			return dberrors.RetryExhausted(lastErr, attempt, budget.Elapsed())
		}

		// Sleeping past the ceiling would waste the caller's time; fail fast
		// when the delay alone exhausts the budget.
		if remaining := budget.Remaining(); remaining != timeout.Unbounded && decision.Delay >= remaining {
			return e.totalTimeout(lastErr, attempt, budget)
		}

		e.logger.Debug("retrying after failure",
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(err))

		if decision.Delay > 0 {
			timer := e.clock.NewTimer(decision.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return dberrors.Wrap(ctx.Err(), dberrors.ErrorTypeOperation, "retry cancelled")
			case <-timer.C:
			}
		}
	}
}

func (e *Executor) totalTimeout(lastErr error, attempts int, budget *timeout.Budget) error {
	err := dberrors.Wrap(lastErr, dberrors.ErrorTypeTotalTimeout, "total timeout budget exhausted")
	if err == nil {
		err = dberrors.New(dberrors.ErrorTypeTotalTimeout, "total timeout budget exhausted")
	}
	return err.
		WithDetail("attempts", attempts).
		WithDetail("elapsed", budget.Elapsed().String())
}

// classify normalizes a per-attempt deadline into the taxonomy. Errors that
// already carry a taxonomy type pass through untouched.
func classify(err error, kind timeout.Kind) error {
	if dberrors.TypeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if kind == timeout.KindConnect {
			return dberrors.Wrap(err, dberrors.ErrorTypeConnectionTimeout, "attempt timed out while connecting")
		}
		return dberrors.Wrap(err, dberrors.ErrorTypeOperationTimeout, "attempt timed out")
	}
	return dberrors.Wrap(err, dberrors.ErrorTypeOperation, "operation failed")
}
