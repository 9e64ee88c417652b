package enrich

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/pkg/config"
)

func testBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		ConsecutiveFailureThreshold: 3,
		FailureRatioThreshold:       0.5,
		MinRequestsForRatio:         10,
		OpenDuration:                20 * time.Millisecond,
		MaxReopenDuration:           200 * time.Millisecond,
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig())
	fail := errors.New("boom")

	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = b.Execute(func() error { return fail })
	}
	require.Error(t, lastErr)

	// Breaker is now open; the next call must fail fast without calling fn.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, errs.KindServiceUnavailable, errs.KindOf(err))
}

func TestBreakerClosesAfterSuccessfulProbe(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker("test", cfg)
	fail := errors.New("boom")

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return fail })
	}

	time.Sleep(cfg.OpenDuration + 5*time.Millisecond)

	err := b.Execute(func() error { return nil })
	require.NoError(t, err)

	// Closed again: a subsequent call reaches fn.
	called := false
	b.Execute(func() error { called = true; return nil })
	assert.True(t, called)
}

func TestBreakerDoublesCooldownOnRepeatedOpen(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker("test", cfg)
	fail := errors.New("boom")

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return fail })
	}
	assert.Equal(t, cfg.OpenDuration, b.currentTimeout)

	time.Sleep(cfg.OpenDuration + 5*time.Millisecond)
	// The half-open probe fails: gobreaker reopens and onStateChange doubles the cooldown.
	b.Execute(func() error { return fail })
	assert.Greater(t, b.currentTimeout, cfg.OpenDuration)
}
