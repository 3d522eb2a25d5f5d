package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstone/dbguard/pkg/dberrors"
)

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"no retry", NoRetryPolicy(), false},
		{"zero attempts", Policy{MaxAttempts: 0}, true},
		{"negative base delay", Policy{MaxAttempts: 1, BaseDelay: -time.Second}, true},
		{"max below base", Policy{MaxAttempts: 1, BaseDelay: 2 * time.Second, MaxDelay: time.Second}, true},
		{"multiplier below one", Policy{MaxAttempts: 1, Multiplier: 0.5}, true},
		{"unknown strategy", Policy{MaxAttempts: 1, Strategy: "fibonacci"}, true},
		{"empty strategy defaults", Policy{MaxAttempts: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dberrors.IsType(err, dberrors.ErrorTypeConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDelayStrategies(t *testing.T) {
	base := 100 * time.Millisecond

	immediate := Policy{Strategy: StrategyImmediate, BaseDelay: base}
	assert.Equal(t, time.Duration(0), immediate.Delay(1))
	assert.Equal(t, time.Duration(0), immediate.Delay(5))

	fixed := Policy{Strategy: StrategyFixed, BaseDelay: base}
	assert.Equal(t, base, fixed.Delay(1))
	assert.Equal(t, base, fixed.Delay(4))

	linear := Policy{Strategy: StrategyLinear, BaseDelay: base}
	assert.Equal(t, base, linear.Delay(1))
	assert.Equal(t, 3*base, linear.Delay(3))

	exp := Policy{Strategy: StrategyExponential, BaseDelay: base, Multiplier: 2.0}
	assert.Equal(t, base, exp.Delay(1))
	assert.Equal(t, 2*base, exp.Delay(2))
	assert.Equal(t, 4*base, exp.Delay(3))
}

func TestDelayCappedAtMaxDelay(t *testing.T) {
	p := Policy{
		Strategy:   StrategyExponential,
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		assert.LessOrEqual(t, d, 5*time.Second, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, prev, "delays never shrink")
		prev = d
	}
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestDecideStopsAtMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, Strategy: StrategyImmediate}
	retriable := dberrors.New(dberrors.ErrorTypeConnection, "down")

	assert.True(t, p.Decide(1, retriable).Retry)
	assert.True(t, p.Decide(2, retriable).Retry)
	assert.False(t, p.Decide(3, retriable).Retry)
}

func TestDecideDefaultCondition(t *testing.T) {
	p := Policy{MaxAttempts: 5, Strategy: StrategyImmediate}

	assert.True(t, p.Decide(1, dberrors.New(dberrors.ErrorTypeConnectionTimeout, "x")).Retry)
	assert.False(t, p.Decide(1, dberrors.New(dberrors.ErrorTypeOperation, "constraint violated")).Retry)
	assert.False(t, p.Decide(1, dberrors.New(dberrors.ErrorTypePoolExhausted, "full")).Retry)
	assert.False(t, p.Decide(1, errors.New("untyped")).Retry)
}

func TestDecideCustomCondition(t *testing.T) {
	custom := errors.New("retry me anyway")
	p := Policy{
		MaxAttempts: 3,
		Strategy:    StrategyImmediate,
		RetryIf:     func(err error) bool { return errors.Is(err, custom) },
	}

	assert.True(t, p.Decide(1, custom).Retry)
	assert.False(t, p.Decide(1, dberrors.New(dberrors.ErrorTypeConnection, "down")).Retry)
}

func TestDecideJitterBounds(t *testing.T) {
	p := Policy{
		MaxAttempts: 10,
		Strategy:    StrategyFixed,
		BaseDelay:   time.Second,
		Jitter:      true,
	}
	err := dberrors.New(dberrors.ErrorTypeConnection, "down")

	for i := 0; i < 200; i++ {
		d := p.Decide(1, err)
		require.True(t, d.Retry)
		assert.GreaterOrEqual(t, d.Delay, 500*time.Millisecond)
		assert.LessOrEqual(t, d.Delay, time.Second)
	}
}
