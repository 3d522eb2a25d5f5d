// Package timeout implements layered timeout budgeting for connector calls.
// A Config is immutable; a Budget is created fresh for each top-level call
// and tracks how much of the total ceiling remains across attempts.
package timeout

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Kind selects which operation timeout bounds a single attempt
type Kind int

const (
	// KindConnect bounds connection establishment and pre-ping validation
	KindConnect Kind = iota
	// KindQuery bounds a single query or exec attempt
	KindQuery
	// KindTransaction bounds a transactional unit of work
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindQuery:
		return "query"
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Unbounded is returned by Remaining when no total timeout is configured
const Unbounded = time.Duration(math.MaxInt64)

// Config holds the configured timeouts. A zero value disables that bound.
type Config struct {
	// Connection bounds establishing a physical connection
	Connection time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	// Query bounds a single query attempt
	Query time.Duration `yaml:"operation_timeout" json:"operation_timeout"`
	// Transaction bounds a transactional attempt; falls back to Query when unset
	Transaction time.Duration `yaml:"transaction_timeout" json:"transaction_timeout"`
	// Total is the hard ceiling across all attempts and waits (0 = unbounded)
	Total time.Duration `yaml:"total_timeout" json:"total_timeout"`
}

// DefaultConfig returns production-ready timeout defaults
func DefaultConfig() Config {
	return Config{
		Connection:  10 * time.Second,
		Query:       30 * time.Second,
		Transaction: 60 * time.Second,
		Total:       0,
	}
}

// Operation returns the per-attempt timeout for the given call kind
func (c Config) Operation(kind Kind) time.Duration {
	switch kind {
	case KindConnect:
		return c.Connection
	case KindTransaction:
		if c.Transaction > 0 {
			return c.Transaction
		}
		return c.Query
	default:
		return c.Query
	}
}

// Budget tracks the remaining total-timeout allowance for one top-level call.
// It is safe for use by the single call that owns it plus Consume from tests.
type Budget struct {
	cfg   Config
	clock quartz.Clock
	start time.Time

	mu       sync.Mutex
	consumed time.Duration
}

// NewBudget starts a fresh budget. The clock is injectable so budget logic
// is testable without real sleeping.
func NewBudget(cfg Config, clock quartz.Clock) *Budget {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Budget{
		cfg:   cfg,
		clock: clock,
		start: clock.Now(),
	}
}

// Config returns the immutable configuration backing this budget
func (b *Budget) Config() Config {
	return b.cfg
}

// Bounded reports whether a total timeout ceiling is configured
func (b *Budget) Bounded() bool {
	return b.cfg.Total > 0
}

// Remaining returns how much of the total budget is left. It never goes
// negative; an unbounded budget reports Unbounded.
func (b *Budget) Remaining() time.Duration {
	if !b.Bounded() {
		return Unbounded
	}

	b.mu.Lock()
	consumed := b.consumed
	b.mu.Unlock()

	left := b.cfg.Total - b.clock.Since(b.start) - consumed
	if left < 0 {
		return 0
	}
	return left
}

// Consume charges an explicit duration against the budget, on top of
// wall-clock elapsed time
func (b *Budget) Consume(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.consumed += d
	b.mu.Unlock()
}

// Exhausted reports whether the total ceiling has been reached
func (b *Budget) Exhausted() bool {
	return b.Bounded() && b.Remaining() == 0
}

// Elapsed returns wall-clock time since the budget was created
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Since(b.start)
}

// Allowance bounds a single attempt of the given kind: the smaller of the
// remaining total budget and the operation-specific timeout. Zero means the
// attempt is unbounded.
func (b *Budget) Allowance(kind Kind) time.Duration {
	op := b.cfg.Operation(kind)
	remaining := b.Remaining()

	if remaining == Unbounded {
		return op
	}
	if op <= 0 || remaining < op {
		return remaining
	}
	return op
}

// AttemptContext derives a context bounded by the attempt allowance. The
// cancel function must always be called.
func (b *Budget) AttemptContext(ctx context.Context, kind Kind) (context.Context, context.CancelFunc) {
	allowance := b.Allowance(kind)
	if allowance <= 0 || allowance == Unbounded {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, allowance)
}
