// Package resilience holds the fail-fast and connection-pooling plumbing shared by
// the model runtime client and the REST vector backends.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultTimeout     time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// Breaker guards calls to one remote dependency. Once MaxFailures consecutive
// retryable failures are seen the circuit opens and calls fail with
// domain.ErrCircuitOpen until Timeout elapses and a trial call succeeds.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

// NewBreaker builds a breaker named name. Zero config fields take defaults.
func NewBreaker[T any](name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *Breaker[T] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one trial call in half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Client-side mistakes say nothing about the health of the remote.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRetryableError(err)
		},
	})

	return &Breaker[T]{name: name, cb: cb}
}

// Execute runs fn through the breaker.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return res, fmt.Errorf("%s: %w", b.name, domain.ErrCircuitOpen)
	}
	return res, err
}

// Name returns the breaker name.
func (b *Breaker[T]) Name() string { return b.name }

// State returns the current breaker state for monitoring.
func (b *Breaker[T]) State() gobreaker.State { return b.cb.State() }

// Counts returns the current failure/success counts.
func (b *Breaker[T]) Counts() gobreaker.Counts { return b.cb.Counts() }
