package domain

import "time"

// DefaultRetryDelays maps the 1-indexed attempt just completed to the delay
// before the job becomes eligible again.
var DefaultRetryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// BackoffPolicy is a fixed retry delay table.
type BackoffPolicy struct {
	delays []time.Duration
}

func NewBackoffPolicy(delays ...time.Duration) BackoffPolicy {
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	copied := make([]time.Duration, len(delays))
	copy(copied, delays)
	return BackoffPolicy{delays: copied}
}

// Delay returns the retry delay after the given attempt. Attempts past the end
// of the table reuse its last entry.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delays := p.delays
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(delays) {
		attempt = len(delays)
	}
	return delays[attempt-1]
}

// NextRetryAt returns the earliest time the job may be retried.
func (p BackoffPolicy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
