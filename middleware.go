package xchannel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// SendFunc delivers one encoded connector message to a destination endpoint.
type SendFunc func(ctx context.Context, cm *ConnectorMessage) (*Response, error)

// SendMiddleware composes delivery concerns around a SendFunc.
type SendMiddleware func(next SendFunc) SendFunc

// RetryConfig controls retry behavior for sends and statistics flushes.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be retried.
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff.
	Jitter time.Duration
}

// ExponentialBackoff doubles base per attempt up to max.
func ExponentialBackoff(base, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return d
	}
}

// retry runs fn until it succeeds, attempts run out, or ctx ends.
func (cfg RetryConfig) retry(ctx context.Context, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := cfg.RetryIf
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return lastErr
		}
		if i == attempts || !shouldRetry(lastErr) {
			return lastErr
		}
		if cfg.Backoff != nil {
			wait := cfg.Backoff(i)
			if cfg.Jitter > 0 {
				wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
			}
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

// RetryMiddleware provides bounded, selective retries around a send.
func RetryMiddleware(cfg RetryConfig) SendMiddleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, cm *ConnectorMessage) (*Response, error) {
			var resp *Response
			err := cfg.retry(ctx, func() error {
				var err error
				resp, err = next(ctx, cm)
				return err
			})
			return resp, err
		}
	}
}

// TimeoutMiddleware enforces a maximum time for one send.
func TimeoutMiddleware(d time.Duration) SendMiddleware {
	if d <= 0 {
		return func(next SendFunc) SendFunc { return next }
	}
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, cm *ConnectorMessage) (*Response, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type result struct {
				resp *Response
				err  error
			}
			ch := make(chan result, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						ch <- result{err: fmt.Errorf("panic recovered: %v", r)}
					}
				}()
				resp, err := next(tctx, cm)
				ch <- result{resp: resp, err: err}
			}()

			select {
			case <-tctx.Done():
				return nil, tctx.Err()
			case r := <-ch:
				return r.resp, r.err
			}
		}
	}
}

// RecoveryMiddleware converts sender panics into errors.
func RecoveryMiddleware() SendMiddleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, cm *ConnectorMessage) (resp *Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = nil, fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, cm)
		}
	}
}

// Chain composes middlewares around a SendFunc in order.
func Chain(h SendFunc, mws ...SendMiddleware) SendFunc {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
