// Package retry implements the two activity retry profiles the chunk
// workflow needs, modeled on the exponential backoff the teacher's worker
// pipeline uses when a partition build fails
// (internal/copier/pipeline.go:processTask) — but generalized into a
// reusable helper instead of being inlined into one call site.
package retry

import (
	"context"
	"time"

	"github.com/rowforge/rowforge/internal/metrics"
)

// Profile is a bounded exponential-backoff retry policy for one activity
// family, matching the "Long" and "Short" profiles from the chunk workflow
// design.
type Profile struct {
	StartToCloseTimeout time.Duration
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	BackoffCoefficient  float64
	MaxAttempts         int
}

// Long is the retry profile for readChunkFromFile and processUserBatch.
var Long = Profile{
	StartToCloseTimeout: 2 * time.Hour,
	InitialInterval:     30 * time.Second,
	MaxInterval:         10 * time.Minute,
	BackoffCoefficient:  2,
	MaxAttempts:         3,
}

// Short is the retry profile for calculateChunkBoundaries,
// updateChunkProgress, finalizeChunk, and recordChunkFailure.
var Short = Profile{
	StartToCloseTimeout: 5 * time.Minute,
	InitialInterval:     5 * time.Second,
	MaxInterval:         2 * time.Minute,
	BackoffCoefficient:  1.5,
	MaxAttempts:         5,
}

// NonRetryable wraps an error to signal that Do should not retry it, even
// with attempts remaining — used for boundary-alignment failures, which are
// a data problem, not a transient one.
type NonRetryable struct {
	Err error
}

func (e *NonRetryable) Error() string { return e.Err.Error() }
func (e *NonRetryable) Unwrap() error { return e.Err }

// Do runs fn under the profile's backoff schedule, identifying itself as
// activity in the retry-attempts metric, matching the
// "if m := metrics.Get(); m != nil" guard the teacher's pipeline uses at its
// own retry decision point. It stops retrying when attempts are exhausted,
// the context is cancelled, or fn returns a *NonRetryable error.
func Do(ctx context.Context, activity string, p Profile, fn func(ctx context.Context, attempt int) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.StartToCloseTimeout)
	defer cancel()

	interval := p.InitialInterval
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(callCtx, attempt)
		if err == nil {
			return nil
		}

		var nr *NonRetryable
		if asNonRetryable(err, &nr) {
			return nr.Err
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 {
			break
		}

		if m := metrics.Get(); m != nil {
			m.RecordRetry(activity)
		}

		select {
		case <-time.After(interval):
		case <-callCtx.Done():
			return callCtx.Err()
		}

		interval = time.Duration(float64(interval) * p.BackoffCoefficient)
		if interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}

	return lastErr
}

func asNonRetryable(err error, target **NonRetryable) bool {
	for err != nil {
		if nr, ok := err.(*NonRetryable); ok {
			*target = nr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
