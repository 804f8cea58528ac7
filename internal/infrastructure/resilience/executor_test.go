package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("sudreg 503")
	err := exec.Execute(context.Background(), "sudreg.lookup", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("sudreg 400")
	err := exec.Execute(context.Background(), "sudreg.lookup", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("sudreg 503")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "sudreg.lookup", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "sudreg.lookup", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestExecuteReportsOutcomes(t *testing.T) {
	var outcomes []string
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: false},
		WithObserver(func(operation, outcome string, _ time.Duration) {
			outcomes = append(outcomes, operation+":"+outcome)
		}))

	_ = exec.Execute(context.Background(), "vies.check", func(context.Context) error { return nil }, nil)
	_ = exec.Execute(context.Background(), "vies.check", func(context.Context) error { return errors.New("soap fault") }, nil)

	if len(outcomes) != 2 || outcomes[0] != "vies.check:success" || outcomes[1] != "vies.check:failure" {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}

func TestExecuteWaitsForLimiterToken(t *testing.T) {
	var outcomes []string
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: false},
		WithLimiter(NewLimiter(0.001, 1)),
		WithObserver(func(_ string, outcome string, _ time.Duration) {
			outcomes = append(outcomes, outcome)
		}))

	calls := 0
	call := func(context.Context) error {
		calls++
		return nil
	}
	if err := exec.Execute(context.Background(), "sudreg.lookup", call, nil); err != nil {
		t.Fatalf("first call should use the burst token, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := exec.Execute(ctx, "sudreg.lookup", call, nil); err == nil {
		t.Fatalf("expected limiter wait to fail before the deadline")
	}
	if calls != 1 {
		t.Fatalf("expected limited call to be skipped, got %d calls", calls)
	}
	if outcomes[len(outcomes)-1] != OutcomeRateLimited {
		t.Fatalf("expected rate_limited outcome, got %v", outcomes)
	}
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background(), "any"); err != nil {
		t.Fatalf("nil limiter returned %v", err)
	}
	if NewLimiter(0, 5) != nil {
		t.Fatalf("expected nil limiter for non-positive rate")
	}
}
