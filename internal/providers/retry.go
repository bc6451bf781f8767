package providers

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// RetryConfig bounds the retry loop for transient endpoint failures.
// MaxElapsed is the total time budget across attempts; once an attempt plus
// its wait would exceed it, the last error is returned.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxElapsed   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		MaxElapsed:   5 * time.Second,
	}
}

// HTTPError is a non-2xx response from the completion endpoint.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed from the Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return "HTTP " + strconv.Itoa(e.Status) + ": " + e.Body
}

// ParseRetryAfter parses a Retry-After header value in seconds form.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryDo runs fn with exponential spacing until it succeeds, fails with a
// non-retryable error, the context is cancelled, or the elapsed-time budget
// runs out.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T

	start := time.Now()
	delay := cfg.InitialDelay

	for {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isRetryable(err) {
			return zero, err
		}

		wait := delay
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > wait {
			wait = httpErr.RetryAfter
		}

		if time.Since(start)+wait > cfg.MaxElapsed {
			return zero, err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// isRetryable reports whether the error is a transient endpoint condition.
// Malformed responses and protocol-level errors are never retried.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
