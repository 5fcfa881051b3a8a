package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexuscfg/nexus/pkg/circuit"
)

func TestRun_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	out, used, blocked, _, err := Run(context.Background(), Policy{Attempts: 3},
		func(ctx context.Context, n int) (int, bool, error) {
			calls++
			return 42, false, nil
		}, nil, nil, nil, "")

	assert.NoError(t, err)
	assert.False(t, blocked)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, used)
	assert.Equal(t, 42, out)
}

func TestRun_RetriesUpToAttempts(t *testing.T) {
	calls := 0
	_, used, _, _, _ := Run(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond},
		func(ctx context.Context, n int) (int, bool, error) {
			calls++
			return 0, true, nil
		}, nil, nil, nil, "")

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, used)
}

func TestRun_StopsRetryingWhenRetryWhenFalse(t *testing.T) {
	calls := 0
	_, used, _, _, _ := Run(context.Background(), Policy{Attempts: 5, Delay: time.Millisecond},
		func(ctx context.Context, n int) (int, bool, error) {
			calls++
			return n, true, nil
		},
		nil,
		func(out int) bool { return out < 2 }, // stop retrying once attempt number reaches 2
		nil, "")

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, used)
}

func TestRun_CircuitBlocksFastWhenOpen(t *testing.T) {
	b := circuit.NewBreaker(1, time.Hour)
	b.RecordFailure("svc")
	assert.Equal(t, circuit.Open, b.State("svc"))

	calls := 0
	_, used, blocked, remaining, _ := Run(context.Background(), Policy{Attempts: 3},
		func(ctx context.Context, n int) (int, bool, error) {
			calls++
			return 0, false, nil
		}, nil, nil, b, "svc")

	assert.True(t, blocked)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, used)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestRun_CircuitRecordsSuccessAndFailure(t *testing.T) {
	b := circuit.NewBreaker(2, time.Millisecond)
	_, _, _, _, _ = Run(context.Background(), Policy{Attempts: 1},
		func(ctx context.Context, n int) (int, bool, error) { return 0, true, nil },
		nil, nil, b, "svc")
	assert.Equal(t, circuit.Closed, b.State("svc"))

	_, _, _, _, _ = Run(context.Background(), Policy{Attempts: 1},
		func(ctx context.Context, n int) (int, bool, error) { return 0, true, nil },
		nil, nil, b, "svc")
	assert.Equal(t, circuit.Open, b.State("svc"))
}

func TestPolicy_DelayFor(t *testing.T) {
	constant := Policy{Delay: 10 * time.Millisecond, Backoff: Constant}
	assert.Equal(t, 10*time.Millisecond, constant.delayFor(3))

	linear := Policy{Delay: 10 * time.Millisecond, Backoff: Linear}
	assert.Equal(t, 30*time.Millisecond, linear.delayFor(3))

	exp := Policy{Delay: 10 * time.Millisecond, Backoff: Exponential, MaxDelay: 35 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, exp.delayFor(1))
	assert.Equal(t, 20*time.Millisecond, exp.delayFor(2))
	assert.Equal(t, 35*time.Millisecond, exp.delayFor(3)) // would be 40, capped
}
