package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New("eth", Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 10 * time.Second}).WithClock(clk.Now)
	boom := errors.New("rpc down")

	for i := 0; i < 3; i++ {
		assert.Equal(t, boom, b.Execute(func() error { return boom }))
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrOpen)

	clk.t = clk.t.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New("bsc", Config{FailureThreshold: 1, Timeout: time.Second}).WithClock(clk.Now)
	b.RecordFailure()
	clk.t = clk.t.Add(2 * time.Second)

	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := New("polygon", Config{FailureThreshold: 1})
	err := b.Execute(func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var changes []State
	b := New("eth", Config{
		FailureThreshold: 1,
		OnStateChange:    func(_ string, _, to State) { changes = append(changes, to) },
	})
	b.RecordFailure()
	b.Reset()
	assert.Equal(t, []State{StateOpen, StateClosed}, changes)
}
