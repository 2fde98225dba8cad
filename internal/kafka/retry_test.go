package kafka

import (
	"testing"
	"time"
)

func TestDefaultRetryPolicyLadder(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		failedAttempts int
		wantDelay      time.Duration
		wantRetry      bool
	}{
		{1, 5 * time.Second, true},
		{2, 5 * time.Second, true},
		{3, 1 * time.Minute, true},
		{4, 5 * time.Minute, true},
		{5, 15 * time.Minute, true},
		{6, 0, false},
		{7, 0, false},
	}

	for _, tt := range tests {
		delay, retry := policy.NextDelay(tt.failedAttempts)
		if delay != tt.wantDelay || retry != tt.wantRetry {
			t.Errorf("NextDelay(%d) = (%v, %t), want (%v, %t)",
				tt.failedAttempts, delay, retry, tt.wantDelay, tt.wantRetry)
		}
	}
}

func TestDefaultRetryPolicyMaxAttempts(t *testing.T) {
	policy := DefaultRetryPolicy()
	if got := policy.MaxAttempts(); got != 6 {
		t.Errorf("MaxAttempts() = %d, want 6", got)
	}

	// The last attempt still gets a delay, one past the max does not.
	if _, retry := policy.NextDelay(policy.MaxAttempts() - 1); !retry {
		t.Error("attempt before max must still be retryable")
	}
	if _, retry := policy.NextDelay(policy.MaxAttempts()); retry {
		t.Error("attempt at max must be exhausted")
	}
}

func TestRetryPolicyWithoutDelayedIntervals(t *testing.T) {
	policy := RetryPolicy{
		ImmediateAttempts: 2,
		ImmediateInterval: time.Second,
	}

	if delay, retry := policy.NextDelay(1); !retry || delay != time.Second {
		t.Errorf("NextDelay(1) = (%v, %t), want (1s, true)", delay, retry)
	}
	if _, retry := policy.NextDelay(2); retry {
		t.Error("policy without delayed intervals must exhaust after immediate attempts")
	}
}
