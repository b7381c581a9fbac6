package clients

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures the bounded attempt loop used by snapshot refresh.
type RetryConfig struct {
	// MaxRetries is the retry count after the first attempt, so the loop
	// performs at most MaxRetries+1 attempts.
	MaxRetries int

	// BaseDelay is the backoff before the first retry; it doubles per retry
	// and is capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// JitterFraction perturbs each delay by a factor in [0, JitterFraction)
	// to avoid synchronized retry storms across clients.
	JitterFraction float64

	// AttemptTimeout bounds each individual attempt. Zero means the attempt
	// inherits only the caller's context deadline.
	AttemptTimeout time.Duration

	// OnAttempt, when set, observes every finished attempt: its index,
	// duration, and classification (nil on success).
	OnAttempt func(attempt int, duration time.Duration, reqErr *RequestError)
}

// DefaultRetryConfig returns the refresh retry defaults: up to 4 total tries,
// 1s backoff doubling to a 20s ceiling, 30% jitter, 15s per attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       20 * time.Second,
		JitterFraction: 0.3,
		AttemptTimeout: 15 * time.Second,
	}
}

// AttemptFunc performs one try of a logical operation. A nil return ends the
// loop immediately as success.
type AttemptFunc func(ctx context.Context) *RequestError

// Do runs attempt up to cfg.MaxRetries+1 times with exponential backoff and
// jitter between tries. Client-initiated cancellation stops the loop at once;
// any other failure burns the remaining attempts. Returns the last error when
// every attempt failed.
func Do(ctx context.Context, cfg RetryConfig, attempt AttemptFunc) *RequestError {
	backoff := cfg.BaseDelay
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr *RequestError

	for i := 0; i <= cfg.MaxRetries; i++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		start := time.Now()
		reqErr := attempt(attemptCtx)
		duration := time.Since(start)
		if cancel != nil {
			cancel()
		}

		// The surrounding context beating the attempt deadline means the
		// caller gave up, not the backend.
		if reqErr != nil && ctx.Err() != nil {
			reqErr = &RequestError{Kind: ErrAbort, Op: reqErr.Op, Err: ctx.Err()}
		}

		if cfg.OnAttempt != nil {
			cfg.OnAttempt(i, duration, reqErr)
		}
		if reqErr == nil {
			return nil
		}
		lastErr = reqErr
		if reqErr.Kind == ErrAbort {
			return lastErr
		}
		if i == cfg.MaxRetries {
			break
		}

		delay := Jitter(backoff, cfg.JitterFraction)
		select {
		case <-ctx.Done():
			return &RequestError{Kind: ErrAbort, Op: reqErr.Op, Err: ctx.Err()}
		case <-time.After(delay):
		}
		backoff *= 2
		if cfg.MaxDelay > 0 && backoff > cfg.MaxDelay {
			backoff = cfg.MaxDelay
		}
	}
	return lastErr
}

// Jitter perturbs d by a random factor in [0, fraction).
func Jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + rand.Float64()*fraction))
}

// NextBackoff computes a stream-reconnect delay from the current backoff and
// returns it along with the doubled (capped) backoff for the next failure.
func NextBackoff(current, ceiling time.Duration, jitterFraction float64) (delay, next time.Duration) {
	capped := current
	if ceiling > 0 && capped > ceiling {
		capped = ceiling
	}
	delay = Jitter(capped, jitterFraction)
	next = current * 2
	if ceiling > 0 && next > ceiling {
		next = ceiling
	}
	return delay, next
}
