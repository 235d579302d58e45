package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "sent", want: StatusSent},
		{name: "valid uppercase with spaces", input: " PENDING_RETRY ", want: StatusPendingRetry},
		{name: "invalid", input: "queued", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status       Status
		terminal     bool
		dispatchable bool
	}{
		{status: StatusPending, dispatchable: true},
		{status: StatusPendingRetry, dispatchable: true},
		{status: StatusSending},
		{status: StatusSent, terminal: true},
		{status: StatusFailed, terminal: true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.IsDispatchable(); got != tt.dispatchable {
			t.Errorf("%s.IsDispatchable() = %v, want %v", tt.status, got, tt.dispatchable)
		}
	}
}

func TestQueuedEmailValidate(t *testing.T) {
	t.Parallel()

	base := QueuedEmail{
		Recipient: "manager@example.com",
		Subject:   "Evaluation cycle opened",
		Body:      "<p>hello</p>",
		Status:    StatusPending,
	}

	tests := []struct {
		name    string
		mutate  func(*QueuedEmail)
		wantErr bool
	}{
		{
			name:   "valid email",
			mutate: func(e *QueuedEmail) {},
		},
		{
			name: "empty subject and body accepted",
			mutate: func(e *QueuedEmail) {
				e.Subject = ""
				e.Body = ""
			},
		},
		{
			name: "recipient without address format accepted",
			mutate: func(e *QueuedEmail) {
				e.Recipient = "not-an-address"
			},
		},
		{
			name: "blank recipient",
			mutate: func(e *QueuedEmail) {
				e.Recipient = "   "
			},
			wantErr: true,
		},
		{
			name: "invalid status",
			mutate: func(e *QueuedEmail) {
				e.Status = Status("queued")
			},
			wantErr: true,
		},
		{
			name: "negative attempts",
			mutate: func(e *QueuedEmail) {
				e.Attempts = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestQueuedEmailIsDue(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	email := QueuedEmail{Status: StatusPendingRetry, ScheduledFor: now.Add(time.Minute)}
	if email.IsDue(now) {
		t.Fatal("job scheduled in the future should not be due")
	}
	if !email.IsDue(now.Add(time.Minute)) {
		t.Fatal("job should be due once scheduled time is reached")
	}

	email.Status = StatusSent
	if email.IsDue(now.Add(time.Hour)) {
		t.Fatal("sent job should never be due")
	}
}
