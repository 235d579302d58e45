package events

import (
	"context"
	"fmt"
	"time"
)

// Delivery outcomes announced to downstream consumers.
const (
	OutcomeSent           = "sent"
	OutcomeRetryScheduled = "retry_scheduled"
	OutcomeFailed         = "failed"
)

// DeliveryEvent reports a state change of one queued email after a dispatch.
type DeliveryEvent struct {
	EmailID     int64      `json:"emailId"`
	Recipient   string     `json:"recipient"`
	Outcome     string     `json:"outcome"`
	Attempt     int        `json:"attempt"`
	Error       *string    `json:"error,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

func (e DeliveryEvent) Validate() error {
	if e.EmailID <= 0 {
		return fmt.Errorf("emailId is required")
	}
	switch e.Outcome {
	case OutcomeSent, OutcomeRetryScheduled, OutcomeFailed:
		return nil
	default:
		return fmt.Errorf("invalid outcome %q", e.Outcome)
	}
}

// RoutingKey returns the topic routing key, e.g. email.sent.
func (e DeliveryEvent) RoutingKey() string {
	return "email." + e.Outcome
}

// Publisher announces delivery events. Publishing is best effort: the queue
// table stays the source of truth.
type Publisher interface {
	Publish(ctx context.Context, event DeliveryEvent) error
	Close() error
}
