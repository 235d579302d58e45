package domain

import "testing"

func TestNewStats(t *testing.T) {
	t.Parallel()

	stats := NewStats(map[Status]int64{
		StatusPending:      4,
		StatusSending:      1,
		StatusPendingRetry: 2,
		StatusSent:         7,
		StatusFailed:       3,
	})

	if stats.Pending != 7 {
		t.Fatalf("Pending = %d, want 7", stats.Pending)
	}
	if stats.Retrying != 2 {
		t.Fatalf("Retrying = %d, want 2", stats.Retrying)
	}
	if stats.Sent != 7 || stats.Failed != 3 {
		t.Fatalf("Sent/Failed = %d/%d, want 7/3", stats.Sent, stats.Failed)
	}
	if stats.DeliveryRate != 70.00 {
		t.Fatalf("DeliveryRate = %v, want 70.00", stats.DeliveryRate)
	}
}

func TestDeliveryRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sent   int64
		failed int64
		want   float64
	}{
		{name: "nothing resolved", want: 0},
		{name: "all sent", sent: 5, want: 100},
		{name: "all failed", failed: 5, want: 0},
		{name: "rounds to two decimals", sent: 2, failed: 1, want: 66.67},
		{name: "seventy percent", sent: 7, failed: 3, want: 70},
	}

	for _, tt := range tests {
		if got := DeliveryRate(tt.sent, tt.failed); got != tt.want {
			t.Errorf("%s: DeliveryRate(%d, %d) = %v, want %v", tt.name, tt.sent, tt.failed, got, tt.want)
		}
	}
}
