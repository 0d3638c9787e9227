package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBroker = errors.New("broker down")

func newTestBreaker(now *time.Time) *Breaker {
	b := New("test", Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenTimeout:         10 * time.Second,
		HalfOpenMaxRequests: 1,
	})
	b.now = func() time.Time { return *now }
	return b
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errBroker }), errBroker)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(&now)

	_ = b.Execute(func() error { return errBroker })
	_ = b.Execute(func() error { return errBroker })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errBroker })

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(&now)

	var transitions []string
	b.OnStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBroker })
	}
	now = now.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBroker })
	}
	now = now.Add(11 * time.Second)

	assert.ErrorIs(t, b.Execute(func() error { return errBroker }), errBroker)
	assert.Equal(t, StateOpen, b.State())
}
