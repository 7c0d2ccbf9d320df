package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_ClosedState(t *testing.T) {
	config := Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
		RequestTimeout:   50 * time.Millisecond,
	}
	breaker := NewBreaker(config)

	// Should start in closed state
	if breaker.State() != StateClosed {
		t.Errorf("Breaker should start in closed state, got %s", breaker.State())
	}

	// Successful requests should keep it closed
	err := breaker.Call(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Successful call should not error: %v", err)
	}

	if breaker.State() != StateClosed {
		t.Errorf("Breaker should remain closed after success, got %s", breaker.State())
	}
}

func TestBreaker_OpenOnFailures(t *testing.T) {
	config := Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
		RequestTimeout:   50 * time.Millisecond,
	}
	breaker := NewBreaker(config)

	// Fail multiple times to open circuit
	for i := 0; i < 3; i++ {
		err := breaker.Call(context.Background(), func(ctx context.Context) error {
			return errors.New("test failure")
		})
		if err == nil {
			t.Error("Failed call should return error")
		}
	}

	// Should now be in open state
	if breaker.State() != StateOpen {
		t.Errorf("Breaker should be open after failures, got %s", breaker.State())
	}

	// Further requests should be blocked with ErrCircuitOpen
	err := breaker.Call(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Open breaker should return ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	config := Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond, // Short timeout for testing
		RequestTimeout:   100 * time.Millisecond,
	}
	breaker := NewBreaker(config)

	// Open the circuit with failures
	for i := 0; i < 2; i++ {
		breaker.Call(context.Background(), func(ctx context.Context) error {
			return errors.New("failure")
		})
	}

	if breaker.State() != StateOpen {
		t.Error("Breaker should be open")
	}

	// Wait for timeout to allow recovery attempt
	time.Sleep(60 * time.Millisecond)

	// First call after timeout should be allowed (transitions to half-open)
	err := breaker.Call(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("First call after timeout should succeed: %v", err)
	}

	// Should be in half-open state after first success
	if breaker.State() != StateHalfOpen {
		t.Errorf("Breaker should be half-open, got %s", breaker.State())
	}

	// Need one more success to close
	err = breaker.Call(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Second success should not error: %v", err)
	}

	// Should now be closed
	if breaker.State() != StateClosed {
		t.Errorf("Breaker should be closed after success threshold, got %s", breaker.State())
	}
}

func TestBreaker_HalfOpenFailure(t *testing.T) {
	config := Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
		RequestTimeout:   100 * time.Millisecond,
	}
	breaker := NewBreaker(config)

	// Open the circuit
	breaker.Call(context.Background(), func(ctx context.Context) error {
		return errors.New("failure")
	})

	if breaker.State() != StateOpen {
		t.Error("Breaker should be open")
	}

	// Wait for timeout
	time.Sleep(60 * time.Millisecond)

	// Fail in half-open state should return to open
	err := breaker.Call(context.Background(), func(ctx context.Context) error {
		return errors.New("half-open failure")
	})
	if err == nil {
		t.Error("Failed call should return error")
	}

	// Should be open again
	if breaker.State() != StateOpen {
		t.Errorf("Breaker should be open after half-open failure, got %s", breaker.State())
	}
}

func TestBreaker_Timeout(t *testing.T) {
	config := Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          100 * time.Millisecond,
		RequestTimeout:   50 * time.Millisecond, // Short timeout
	}
	breaker := NewBreaker(config)

	// Call that takes longer than timeout
	err := breaker.Call(context.Background(), func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond) // Longer than request timeout
		return nil
	})

	if err != ErrRequestTimeout {
		t.Errorf("Should return timeout error, got %v", err)
	}

	// Timeouts should count as failures, pushing the breaker towards open
	if breaker.State() != StateClosed {
		t.Errorf("A single timeout should not yet open the breaker, got %s", breaker.State())
	}
}

func TestBreaker_TimeoutOpensAfterThreshold(t *testing.T) {
	config := Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          100 * time.Millisecond,
		RequestTimeout:   10 * time.Millisecond,
	}
	breaker := NewBreaker(config)

	breaker.Call(context.Background(), func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})

	if breaker.State() != StateOpen {
		t.Errorf("Breaker should open once the failure threshold is reached by timeouts, got %s", breaker.State())
	}
}
