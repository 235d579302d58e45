package domain

import "math"

// Stats summarizes delivery outcomes across the queue.
type Stats struct {
	Pending      int64   `json:"pending"`
	Retrying     int64   `json:"retrying"`
	Sent         int64   `json:"sent"`
	Failed       int64   `json:"failed"`
	DeliveryRate float64 `json:"deliveryRate"`
}

// NewStats folds per-status counts into Stats. Pending covers every
// unresolved state, Retrying is the pending_retry subset of it.
func NewStats(counts map[Status]int64) Stats {
	stats := Stats{
		Pending:  counts[StatusPending] + counts[StatusSending] + counts[StatusPendingRetry],
		Retrying: counts[StatusPendingRetry],
		Sent:     counts[StatusSent],
		Failed:   counts[StatusFailed],
	}
	stats.DeliveryRate = DeliveryRate(stats.Sent, stats.Failed)
	return stats
}

// DeliveryRate is sent/(sent+failed)*100 rounded to two decimals, 0 when nothing resolved.
func DeliveryRate(sent, failed int64) float64 {
	total := sent + failed
	if total <= 0 {
		return 0
	}
	return math.Round(float64(sent)/float64(total)*100*100) / 100
}
