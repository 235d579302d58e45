package domain

import "time"

// DeliveryAttempt records a single dispatch attempt for a queued email.
type DeliveryAttempt struct {
	ID             string
	EmailID        int64
	AttemptNumber  int
	Error          *string
	DurationMillis int64
	CreatedAt      time.Time
}
