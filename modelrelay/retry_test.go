package modelrelay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   60 * time.Second,
		Jitter:     false,
	}

	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for i, expected := range delays {
		got := policy.Delay(i)
		if got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i, expected, got)
		}
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Second,
		Jitter:     false,
	}

	// Attempt 10 would be 1024s without cap.
	if got := policy.Delay(10); got != 5*time.Second {
		t.Errorf("expected 5s (capped), got %v", got)
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   60 * time.Second,
		Jitter:     true,
	}

	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Errorf("jittered delay out of range: %v", got)
		}
	}
}

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func TestRetrySuccess(t *testing.T) {
	callCount := 0
	result, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		callCount++
		if callCount < 3 {
			return "", &ServerError{ProviderError: ProviderError{
				RelayError: RelayError{Message: "server error"}, Retryable: true,
			}}
		}
		return "success", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected %q, got %q", "success", result)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryNonRetryableError(t *testing.T) {
	callCount := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		callCount++
		return "", &AuthenticationError{ProviderError: ProviderError{
			RelayError: RelayError{Message: "invalid key"},
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call (no retries for non-retryable), got %d", callCount)
	}
}

func TestRetryExhausted(t *testing.T) {
	callCount := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		callCount++
		return "", &ServerError{ProviderError: ProviderError{
			RelayError: RelayError{Message: "server error"}, Retryable: true,
		}}
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if callCount != 3 { // 1 initial + 2 retries
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryRespectsRetryAfter(t *testing.T) {
	hint := 100 * time.Hour
	callCount := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		callCount++
		return "", &RateLimitError{ProviderError: ProviderError{
			RelayError: RelayError{Message: "slow down"}, Retryable: true, RetryAfter: &hint,
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// Retry-After beyond MaxDelay fails immediately.
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryCancelled(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, Multiplier: 1, MaxDelay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		callCount++
		return "", errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Errorf("expected AbortError, got %T", err)
	}
	if callCount > 3 {
		t.Errorf("expected fewer calls due to cancellation, got %d", callCount)
	}
}

func TestRetryNoError(t *testing.T) {
	result, err := Retry(context.Background(), DefaultRetryPolicy(), func(ctx context.Context) (string, error) {
		return "immediate", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "immediate" {
		t.Errorf("expected %q, got %q", "immediate", result)
	}
}
