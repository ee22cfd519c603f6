package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mtzanidakis/juror/internal/debate"
	"golang.org/x/time/rate"
)

// Static always replies with the same text.
func Static(reply string) debate.Generator {
	return debate.GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return reply, nil
	})
}

// WithTimeout bounds every call to gen by d.
func WithTimeout(gen debate.Generator, d time.Duration) debate.Generator {
	if d <= 0 {
		return gen
	}
	return debate.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return gen.Generate(ctx, prompt)
	})
}

// WithRateLimit lets at most rps calls per second through to gen.
func WithRateLimit(gen debate.Generator, rps float64) debate.Generator {
	if rps <= 0 {
		return gen
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	return debate.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
		return gen.Generate(ctx, prompt)
	})
}

// WithRetry repeats failed calls up to retries more times with exponential
// backoff. HTTP replies that cannot succeed on repeat are not retried.
func WithRetry(gen debate.Generator, agent string, retries int) debate.Generator {
	if retries <= 0 {
		return gen
	}
	return debate.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		op := func() (string, error) {
			reply, err := gen.Generate(ctx, prompt)
			if err != nil && !retryable(err) {
				return "", backoff.Permanent(err)
			}
			return reply, err
		}
		return backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(uint(retries+1)),
			backoff.WithNotify(func(err error, wait time.Duration) {
				slog.Warn("generation failed, retrying", "agent", agent, "wait", wait, "error", err)
			}),
		)
	})
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
