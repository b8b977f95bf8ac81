package clients

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        maxDelay,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(3, 2*time.Second, 60*time.Second)
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

// Execute runs fn until it succeeds, returns an error shouldRetry rejects,
// or MaxAttempts is reached. onRetry, when set, is called before each wait.
// The wait is the backoff for the attempt, or the server hint carried by a
// *StatusError when there is one, capped at MaxDelay.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(attempt int) error,
	shouldRetry func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) error {
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := rp.delayFor(attempt, err)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		// Wait with context cancellation
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeAPI, "retry cancelled")
		case <-timer.C:
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return errors.Wrapf(lastErr, errors.GetType(lastErr), "all %d attempts failed", attempts)
}

func (rp *RetryPolicy) delayFor(attempt int, err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		if rp.MaxDelay > 0 && se.RetryAfter > rp.MaxDelay {
			return rp.MaxDelay
		}
		return se.RetryAfter
	}
	return rp.calculateDelay(attempt)
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	multiplier := rp.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	// Base delay calculation with exponential backoff
	delay := float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt))

	// Apply max delay cap
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// Apply randomization factor (jitter)
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta

		// Random value between min and max
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay))
	}

	return time.Duration(delay)
}
