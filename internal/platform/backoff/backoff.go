package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// Policy bounds retries for connector and database calls inside pipeline
// stages. Zero values fall back to the defaults below.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	JitterFrac  float64
	// Retryable classifies errors; nil means retry everything except
	// permanent-wrapped errors and context cancellation.
	Retryable func(error) bool
}

func Default() Policy {
	return Policy{
		MaxAttempts: 4,
		MinBackoff:  500 * time.Millisecond,
		MaxBackoff:  15 * time.Second,
		JitterFrac:  0.20,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (expired auth, exhausted rate
// budget). Retry returns it unwrapped after the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retry runs op until it succeeds, becomes permanent, exhausts attempts, or
// ctx is done. The returned error is the last error from op.
func Retry(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = Default().MaxAttempts
	}
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		last = err
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt >= p.MaxAttempts {
			return last
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(delay(p, attempt)):
		}
	}
}

func delay(p Policy, attempt int) time.Duration {
	minB := p.MinBackoff
	maxB := p.MaxBackoff
	j := p.JitterFrac
	if minB <= 0 {
		minB = Default().MinBackoff
	}
	if maxB <= 0 {
		maxB = Default().MaxBackoff
	}
	if j <= 0 {
		j = Default().JitterFrac
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempt-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

// Transient reports whether err looks like a recoverable network or timeout
// failure.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
