package api

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryStrategy decides how often a failed call is retried. Only transport
// errors and 5xx responses are retried; 4xx responses fail immediately.
type RetryStrategy interface {
	newBackOff(ctx context.Context) backoff.BackOff
}

const (
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 32 * time.Second
)

// ExponentialRetry retries until the call succeeds or ctx ends.
type ExponentialRetry struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (r ExponentialRetry) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

type noRetry struct{}

func (noRetry) newBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.StopBackOff{}, ctx)
}

var (
	// RetryForever backs off from 200ms up to 32s between attempts.
	RetryForever RetryStrategy = ExponentialRetry{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}

	// NoRetry makes a single attempt.
	NoRetry RetryStrategy = noRetry{}
)
