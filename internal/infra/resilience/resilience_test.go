package resilience

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgen/internal/domain"
	"rgen/internal/infra/config"
)

func TestBreakerPassesThrough(t *testing.T) {
	b := NewBreaker[string]("test", config.CircuitBreakerConfig{}, slog.Default())
	got, err := b.Execute(func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, "test", b.Name())
}

func TestBreakerOpensAfterRetryableFailures(t *testing.T) {
	calls := 0
	b := NewBreaker[int]("pinecone", config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
	}, slog.Default())

	fail := func() (int, error) {
		calls++
		return 0, domain.ErrTransport
	}
	for i := 0; i < 3; i++ {
		_, err := b.Execute(fail)
		require.ErrorIs(t, err, domain.ErrTransport)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Execute(fail)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Contains(t, err.Error(), "pinecone")
	assert.Equal(t, 3, calls, "open circuit must not reach the remote")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	b := NewBreaker[int]("upstash", config.CircuitBreakerConfig{MaxFailures: 1}, slog.Default())
	for i := 0; i < 5; i++ {
		_, err := b.Execute(func() (int, error) {
			return 0, &domain.ServiceError{Code: "ValidationException", StatusCode: 400}
		})
		require.ErrorIs(t, err, domain.ErrService)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	shouldFail := true
	b := NewBreaker[string]("bedrock", config.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     50 * time.Millisecond,
	}, slog.Default())

	call := func() (string, error) {
		if shouldFail {
			return "", domain.ErrTransport
		}
		return "recovered", nil
	}
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(call)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, b.State())

	shouldFail = false
	got, err := b.Execute(call)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerPropagatesInnerErrors(t *testing.T) {
	sentinel := errors.New("specific")
	b := NewBreaker[int]("x", config.CircuitBreakerConfig{MaxFailures: 10}, slog.Default())
	_, err := b.Execute(func() (int, error) { return 0, sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, uint32(1), b.Counts().Requests)
}

func TestNewPooledTransportDefaults(t *testing.T) {
	tr := NewPooledTransport(0, 0, config.PoolConfig{})

	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestNewPooledTransportCustom(t *testing.T) {
	tr := NewPooledTransport(15*time.Second, 60*time.Second, config.PoolConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     5 * time.Minute,
	})

	assert.Equal(t, 50, tr.MaxIdleConns)
	assert.Equal(t, 25, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 30, tr.MaxConnsPerHost)
	assert.Equal(t, 5*time.Minute, tr.IdleConnTimeout)
	assert.Equal(t, 60*time.Second, tr.ResponseHeaderTimeout)
}

func TestNewHTTPClientTimeout(t *testing.T) {
	c := NewHTTPClient(config.HTTPConfig{ConnTimeout: 2 * time.Second, RespTimeout: 3 * time.Second})
	assert.Equal(t, 5*time.Second, c.Timeout)

	c = NewHTTPClient(config.HTTPConfig{})
	assert.Equal(t, defaultConnTimeout+defaultRespTimeout, c.Timeout)
}
