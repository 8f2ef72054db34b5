package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const (
	defaultRetryInterval = 200 * time.Millisecond
	defaultRetryBudget   = 30 * time.Second
	defaultTripThreshold = 5
)

// ResilientConfig tunes retry and circuit breaker behaviour.
type ResilientConfig struct {
	// InitialInterval is the first retry delay. Zero selects 200ms.
	InitialInterval time.Duration
	// MaxElapsed caps the total time spent retrying one request.
	// Zero selects 30s.
	MaxElapsed time.Duration
	// TripThreshold is the consecutive failure count that opens the
	// breaker. Zero selects 5.
	TripThreshold uint32
}

// Resilient wraps a Provider with exponential retry and a circuit
// breaker, so transient backend failures do not abort a decomposition
// run and a dead backend stops being hammered. Context cancellation is
// never retried and never counts as a backend failure.
type Resilient struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	cfg     ResilientConfig
}

// NewResilient wraps inner with the given retry and breaker settings.
func NewResilient(inner Provider, cfg ResilientConfig) *Resilient {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultRetryInterval
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultRetryBudget
	}
	if cfg.TripThreshold == 0 {
		cfg.TripThreshold = defaultTripThreshold
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Resilient{inner: inner, breaker: breaker, cfg: cfg}
}

func (r *Resilient) Name() string { return r.inner.Name() }

// Chat retries the wrapped provider with exponential backoff until it
// succeeds, the retry budget runs out or ctx is cancelled.
func (r *Resilient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	var resp *Response
	operation := func() error {
		out, err := r.breaker.Execute(func() (any, error) {
			return r.inner.Chat(ctx, messages)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out.(*Response)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxElapsedTime = r.cfg.MaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("provider: %s: %w", r.inner.Name(), err)
	}
	return resp, nil
}
