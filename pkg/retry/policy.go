// Package retry implements retry-policy evaluation and the retry executor
// that drives policy decisions against a timeout budget.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/quillstone/dbguard/pkg/dberrors"
)

// Strategy selects how inter-attempt delay grows
type Strategy string

const (
	// StrategyImmediate retries with no delay
	StrategyImmediate Strategy = "immediate"
	// StrategyFixed retries with a constant delay
	StrategyFixed Strategy = "fixed"
	// StrategyLinear grows the delay linearly with the attempt number
	StrategyLinear Strategy = "linear"
	// StrategyExponential grows the delay exponentially, capped at MaxDelay
	StrategyExponential Strategy = "exponential"
)

// Condition classifies a failure as retriable
type Condition func(error) bool

// Decision is the outcome of evaluating a policy for one failed attempt
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy defines retry behavior. It is immutable once built; evaluation is a
// pure computation plus a random source for jitter.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	Strategy    Strategy      `yaml:"strategy" json:"strategy"`
	Multiplier  float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	Jitter      bool          `yaml:"jitter" json:"jitter"`

	// RetryIf classifies failures; dberrors.IsRetryable when nil
	RetryIf Condition `yaml:"-" json:"-"`
}

// DefaultPolicy returns a sensible default retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    StrategyExponential,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// NoRetryPolicy returns a policy that never retries
func NoRetryPolicy() Policy {
	return Policy{
		MaxAttempts: 1,
		Strategy:    StrategyImmediate,
		Multiplier:  1.0,
	}
}

// Validate checks the policy invariants
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return dberrors.New(dberrors.ErrorTypeConfig, "max_attempts must be at least 1")
	}
	if p.BaseDelay < 0 {
		return dberrors.New(dberrors.ErrorTypeConfig, "base_delay cannot be negative")
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		return dberrors.New(dberrors.ErrorTypeConfig, "max_delay cannot be smaller than base_delay")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return dberrors.New(dberrors.ErrorTypeConfig, "backoff_multiplier must be at least 1")
	}
	switch p.Strategy {
	case StrategyImmediate, StrategyFixed, StrategyLinear, StrategyExponential, "":
	default:
		return dberrors.New(dberrors.ErrorTypeConfig, "unknown retry strategy: "+string(p.Strategy))
	}
	return nil
}

// Delay returns the pre-jitter delay before the retry that follows the given
// 1-based attempt
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch p.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyFixed:
		delay = p.BaseDelay
	case StrategyLinear:
		delay = p.BaseDelay * time.Duration(attempt)
	default:
		multiplier := p.Multiplier
		if multiplier < 1 {
			multiplier = 2.0
		}
		delay = time.Duration(float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Decide evaluates the policy for a failed 1-based attempt and returns
// whether to retry and how long to wait first. Full jitter multiplies the
// delay by uniform(0.5, 1.0) so many callers do not retry in lockstep.
func (p Policy) Decide(attempt int, err error) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = dberrors.IsRetryable
	}
	if !retryIf(err) {
		return Decision{}
	}

	delay := p.Delay(attempt)
	if p.Jitter && delay > 0 {
		delay = time.Duration(float64(delay) * (0.5 + 0.5*rand.Float64()))
	}
	return Decision{Retry: true, Delay: delay}
}
