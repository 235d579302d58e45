package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a queued email.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSending      Status = "sending"
	StatusPendingRetry Status = "pending_retry"
	StatusSent         Status = "sent"
	StatusFailed       Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusPendingRetry, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// IsDispatchable reports whether a poll cycle may claim a job in state s.
func (s Status) IsDispatchable() bool {
	return s == StatusPending || s == StatusPendingRetry
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// DispatchableStatuses lists the states a poll cycle selects from.
func DispatchableStatuses() []Status {
	return []Status{StatusPending, StatusPendingRetry}
}

const (
	DefaultMaxAttempts = 3

	// MaxAttemptsReached is recorded when a job is failed because its attempt budget is spent.
	MaxAttemptsReached = "max attempts reached"
)

// QueuedEmail is one persisted unit of outbound email work with its own retry state.
type QueuedEmail struct {
	ID           int64
	Recipient    string
	Subject      string
	Body         string
	Status       Status
	Attempts     int
	ScheduledFor time.Time
	SentAt       *time.Time
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (e *QueuedEmail) Validate() error {
	if strings.TrimSpace(e.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	if e.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0 (got %d)", ErrValidation, e.Attempts)
	}
	return nil
}

// IsDue reports whether the job may be dispatched at now.
func (e *QueuedEmail) IsDue(now time.Time) bool {
	return e.Status.IsDispatchable() && !e.ScheduledFor.After(now)
}
