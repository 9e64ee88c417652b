package enrich

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
	"github.com/MycelicMemory/htm/internal/metrics"
	"github.com/MycelicMemory/htm/pkg/config"
)

var breakerLog = logging.GetLogger("enrich.breaker")

// failureRatioWindow is the rolling window gobreaker uses to reset its
// request/failure counts while closed, matching the failure-ratio trip
// condition's documented window.
const failureRatioWindow = 60 * time.Second

// Breaker wraps a gobreaker.CircuitBreaker for one upstream provider
// (embedding or tagging). It adds an exponentially-growing cool-down on top
// of gobreaker's fixed Timeout: the first trip to open waits
// cfg.OpenDuration, and every reopen after a failed half-open probe doubles
// the duration before a probe is allowed to reach the real provider, capped
// at cfg.MaxReopenDuration; a successful close resets it.
type Breaker struct {
	name string
	cfg  config.CircuitBreakerConfig
	cb   *gobreaker.CircuitBreaker

	mu             sync.Mutex
	currentTimeout time.Duration
	coolUntil      time.Time
}

// NewBreaker builds a Breaker named name (used in logs and metrics) from cfg.
func NewBreaker(name string, cfg config.CircuitBreakerConfig) *Breaker {
	b := &Breaker{
		name:           name,
		cfg:            cfg,
		currentTimeout: cfg.OpenDuration,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    failureRatioWindow,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= uint32(cfg.ConsecutiveFailureThreshold) {
				return true
			}
			if counts.Requests >= uint32(cfg.MinRequestsForRatio) {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatioThreshold
			}
			return false
		},
		OnStateChange: b.onStateChange,
	})
	return b
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch to {
	case gobreaker.StateOpen:
		if from == gobreaker.StateHalfOpen {
			b.currentTimeout *= 2
			if b.currentTimeout > b.cfg.MaxReopenDuration {
				b.currentTimeout = b.cfg.MaxReopenDuration
			}
		}
		b.coolUntil = time.Now().Add(b.currentTimeout)
		breakerLog.Warn("circuit breaker opened", "breaker", name, "cool_down", b.currentTimeout)
	case gobreaker.StateClosed:
		b.currentTimeout = b.cfg.OpenDuration
		b.coolUntil = time.Time{}
		breakerLog.Info("circuit breaker closed", "breaker", name)
	case gobreaker.StateHalfOpen:
		breakerLog.Info("circuit breaker probing", "breaker", name)
	}
	metrics.Default().CircuitBreakerState.WithLabelValues(name).Set(float64(stateValue(to)))
}

// stateValue maps a gobreaker.State to the metrics package's
// BreakerClosed/BreakerHalfOpen/BreakerOpen constants.
func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerClosed
	}
}

// State reports the breaker's current state as a metrics.BreakerClosed /
// BreakerHalfOpen / BreakerOpen value.
func (b *Breaker) State() int {
	return stateValue(b.cb.State())
}

func (b *Breaker) cooling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().Before(b.coolUntil)
}

// Execute runs fn through the breaker. While the extended cool-down is
// still in effect (longer than gobreaker's own fixed Timeout whenever this
// breaker has reopened from half-open), the probe is rejected without
// calling fn so the provider is not hammered every Timeout interval.
func (b *Breaker) Execute(fn func() error) error {
	cooling := b.cooling()
	_, err := b.cb.Execute(func() (any, error) {
		if cooling {
			return nil, errCoolingDown
		}
		return nil, fn()
	})
	switch err {
	case nil:
		return nil
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests, errCoolingDown:
		// Shelved, not retried: the breaker itself decides when to admit a
		// probe again, so withRetry must not spend attempts against it.
		return permanent(errs.ServiceUnavailable("%s circuit breaker open", b.name))
	default:
		return err
	}
}

var errCoolingDown = errs.ServiceUnavailable("circuit breaker cooling down")
