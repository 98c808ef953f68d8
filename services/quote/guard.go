package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig bounds how hard an upstream is hit
type GuardConfig struct {
	Name            string
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// guarded wraps a gateway with a token bucket and a circuit breaker
type guarded struct {
	inner   Gateway
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Guard wraps inner so calls wait for a rate-limit token and stop reaching the
// upstream once it fails BreakerFailures times in a row. ErrNoData is an
// answer, not an outage, and does not count as a failure.
func Guard(inner Gateway, cfg GuardConfig) Gateway {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	return &guarded{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    cfg.Name,
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNoData)
			},
		}),
	}
}

func (g *guarded) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("rate limit wait: %w", err)
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.FetchQuote(ctx, symbol)
	})
	if err != nil {
		return Quote{}, err
	}
	return res.(Quote), nil
}
