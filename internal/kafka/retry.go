package kafka

import "time"

// RetryPolicy is the escalation ladder for inbound command redelivery,
// applied uniformly to both command types. Outbox publishing has its own
// backoff; this ladder only governs the original inbound command.
//
// Tiers: up to ImmediateAttempts deliveries at ImmediateInterval for
// transient faults, then one delivery per entry of DelayedIntervals, then
// dead-letter.
type RetryPolicy struct {
	ImmediateAttempts int
	ImmediateInterval time.Duration
	DelayedIntervals  []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		ImmediateAttempts: 3,
		ImmediateInterval: 5 * time.Second,
		DelayedIntervals: []time.Duration{
			1 * time.Minute,
			5 * time.Minute,
			15 * time.Minute,
		},
	}
}

// NextDelay returns how long to wait before redelivering a command whose
// failedAttempts-th delivery just failed (1-based). ok=false means the ladder
// is exhausted and the command goes to the dead-letter queue.
func (p RetryPolicy) NextDelay(failedAttempts int) (delay time.Duration, ok bool) {
	if failedAttempts < 1 {
		failedAttempts = 1
	}
	if failedAttempts < p.ImmediateAttempts {
		return p.ImmediateInterval, true
	}
	idx := failedAttempts - p.ImmediateAttempts
	if idx < len(p.DelayedIntervals) {
		return p.DelayedIntervals[idx], true
	}
	return 0, false
}

// MaxAttempts is the total number of deliveries before dead-lettering.
func (p RetryPolicy) MaxAttempts() int {
	return p.ImmediateAttempts + len(p.DelayedIntervals)
}
