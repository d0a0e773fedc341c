package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fastProfile keeps backoff intervals in the microsecond range so tests
// exercise real retry/backoff logic without waiting on wall-clock time.
var fastProfile = Profile{
	StartToCloseTimeout: time.Second,
	InitialInterval:     time.Microsecond,
	MaxInterval:         time.Millisecond,
	BackoffCoefficient:  2,
	MaxAttempts:         3,
}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", fastProfile, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", fastProfile, func(ctx context.Context, attempt int) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	sentinel := errors.New("persistent failure")
	err := Do(context.Background(), "test", fastProfile, func(ctx context.Context, attempt int) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the last error to be returned, got %v", err)
	}
	if calls != fastProfile.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", fastProfile.MaxAttempts, calls)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad data")
	err := Do(context.Background(), "test", fastProfile, func(ctx context.Context, attempt int) error {
		calls++
		return &NonRetryable{Err: sentinel}
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the wrapped sentinel to unwrap via errors.Is, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before bailing out, got %d", calls)
	}
}

func TestDo_NonRetryableFoundBehindAnotherWrapLayerStillUnwraps(t *testing.T) {
	sentinel := errors.New("bad data")
	nonRetryable := &NonRetryable{Err: sentinel}
	// asNonRetryable must walk an Unwrap() chain to find the *NonRetryable
	// even when something else wrapped it on the way up.
	doublyWrapped := fmt.Errorf("while validating: %w", nonRetryable)

	calls := 0
	err := Do(context.Background(), "test", fastProfile, func(ctx context.Context, attempt int) error {
		calls++
		return doublyWrapped
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the sentinel to be reachable via errors.Is, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before bailing out, got %d", calls)
	}
}

func TestDo_ContextCancellationDuringBackoffStopsRetrying(t *testing.T) {
	slow := Profile{
		StartToCloseTimeout: time.Second,
		InitialInterval:     time.Hour,
		MaxInterval:         time.Hour,
		BackoffCoefficient:  1,
		MaxAttempts:         5,
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, "test", slow, func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return promptly after context cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before blocking on backoff, got %d", calls)
	}
}
