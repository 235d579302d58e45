package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mailqueue/internal/domain"
	"github.com/kursadbilgin/mailqueue/internal/events"
	"github.com/kursadbilgin/mailqueue/internal/observability"
	"github.com/kursadbilgin/mailqueue/internal/provider"
	"github.com/kursadbilgin/mailqueue/internal/ratelimit"
	"github.com/kursadbilgin/mailqueue/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize         = 10
	defaultSendTimeout       = 30 * time.Second
	defaultStaleSendingAfter = 10 * time.Minute
	defaultPublishTimeout    = 5 * time.Second
)

// Failure reasons used as metric labels.
const (
	failReasonMaxAttempts = "max_attempts"
	failReasonTransport   = "transport_error"
)

// Outcome is the result of dispatching one email.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSent
	OutcomeRetryScheduled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetryScheduled:
		return "retry_scheduled"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// DispatcherConfig tunes a Dispatcher. Zero values fall back to defaults.
type DispatcherConfig struct {
	BatchSize         int
	MaxAttempts       int
	Concurrency       int
	SendTimeout       time.Duration
	StaleSendingAfter time.Duration
	PublishTimeout    time.Duration
	Backoff           domain.BackoffPolicy
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = domain.DefaultMaxAttempts
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.StaleSendingAfter <= 0 {
		c.StaleSendingAfter = defaultStaleSendingAfter
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	return c
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Requeued int64 `json:"requeued"`
	Selected int   `json:"selected"`
	Sent     int   `json:"sent"`
	Retried  int   `json:"retried"`
	Failed   int   `json:"failed"`
	Skipped  int   `json:"skipped"`
	Errors   int   `json:"errors"`
}

// Dispatcher drives due emails through the transport with bounded retries.
type Dispatcher struct {
	emails      repository.EmailRepository
	attempts    repository.AttemptRepository
	transport   provider.Transport
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	events      events.Publisher
	cfg         DispatcherConfig
	now         func() time.Time
}

func NewDispatcher(
	emails repository.EmailRepository,
	attempts repository.AttemptRepository,
	transport provider.Transport,
	rateLimiter ratelimit.RateLimiter,
	cfg DispatcherConfig,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("mail transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		emails:      emails,
		attempts:    attempts,
		transport:   transport,
		rateLimiter: rateLimiter,
		logger:      logger,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SetEventPublisher enables delivery event announcements.
func (d *Dispatcher) SetEventPublisher(publisher events.Publisher) {
	if d == nil {
		return
	}
	d.events = publisher
}

// ProcessQueue runs one poll cycle. Failures are logged and reflected in the
// report; nothing is returned to the timer that triggered the cycle.
func (d *Dispatcher) ProcessQueue(ctx context.Context) CycleReport {
	if ctx == nil {
		ctx = context.Background()
	}

	var report CycleReport
	now := d.now().UTC()

	requeued, err := d.emails.RequeueStale(ctx, now.Add(-d.cfg.StaleSendingAfter), now)
	if err != nil {
		d.logger.Error("failed to requeue stale sending emails", zap.Error(err))
	} else if requeued > 0 {
		report.Requeued = requeued
		d.metrics.AddStaleRequeued(requeued)
		d.logger.Warn("requeued interrupted sends", zap.Int64("count", requeued))
	}

	due, err := d.emails.ListDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		d.metrics.IncPollCycle(observability.PollResultError)
		d.logger.Error("poll cycle skipped: failed to list due emails", zap.Error(err))
		report.Errors++
		return report
	}

	report.Selected = len(due)
	if len(due) == 0 {
		d.metrics.IncPollCycle(observability.PollResultEmpty)
		return report
	}

	var sent, retried, failed, skipped, errCount atomic.Int64
	record := func(id int64, outcome Outcome, err error) {
		if err != nil {
			errCount.Add(1)
			d.logger.Error("dispatch failed", zap.Int64("emailId", id), zap.Error(err))
			return
		}
		switch outcome {
		case OutcomeSent:
			sent.Add(1)
		case OutcomeRetryScheduled:
			retried.Add(1)
		case OutcomeFailed:
			failed.Add(1)
		default:
			skipped.Add(1)
		}
	}

	if d.cfg.Concurrency <= 1 {
		for i := range due {
			if ctx.Err() != nil {
				break
			}
			outcome, err := d.dispatch(ctx, due[i].ID)
			record(due[i].ID, outcome, err)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.cfg.Concurrency)
		for i := range due {
			id := due[i].ID
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				outcome, err := d.dispatch(ctx, id)
				record(id, outcome, err)
				return nil
			})
		}
		_ = g.Wait()
	}

	report.Sent = int(sent.Load())
	report.Retried = int(retried.Load())
	report.Failed = int(failed.Load())
	report.Skipped = int(skipped.Load())
	report.Errors += int(errCount.Load())

	d.metrics.IncPollCycle(observability.PollResultOK)
	d.logger.Info("poll cycle completed",
		zap.Int("selected", report.Selected),
		zap.Int("sent", report.Sent),
		zap.Int("retried", report.Retried),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)

	return report
}

// Dispatch processes exactly one email. A missing, terminal or already
// claimed email is a no-op. Only storage failures are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, id int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := d.dispatch(ctx, id)
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, id int64) (Outcome, error) {
	logger := observability.EmailLogger(d.logger, id)

	email, err := d.emails.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("email vanished before dispatch, skipping")
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, fmt.Errorf("failed to load email: %w", err)
	}

	// sent and failed are terminal; sending is owned by another dispatch.
	if !email.Status.IsDispatchable() {
		return OutcomeSkipped, nil
	}

	if email.Attempts >= d.cfg.MaxAttempts {
		return d.failExhausted(ctx, logger, email)
	}

	now := d.now().UTC()
	claimed, err := d.emails.Claim(ctx, email.ID, email.Attempts, now)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to claim email: %w", err)
	}
	if !claimed {
		logger.Debug("email claimed by another poller, skipping")
		return OutcomeSkipped, nil
	}

	attempt := email.Attempts + 1
	logger = logger.With(zap.Int("attempt", attempt))

	// A claimed job runs to completion: shutdown must not strand it in
	// sending after the relay accepted the message.
	workCtx := context.WithoutCancel(ctx)

	d.metrics.IncInflight()
	elapsed, sendErr := d.send(workCtx, email)
	d.metrics.DecInflight()
	d.metrics.ObserveSendDuration(d.transport.Name(), elapsed)

	outcome, err := d.resolve(workCtx, logger, email, attempt, sendErr)
	d.recordAttempt(workCtx, logger, email.ID, attempt, sendErr, elapsed)

	return outcome, err
}

// send waits for a rate limit slot and delivers the email. Both share the
// SendTimeout budget.
func (d *Dispatcher) send(ctx context.Context, email *domain.QueuedEmail) (time.Duration, error) {
	start := d.now()

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(sendCtx, d.transport.Name()); err != nil {
			return d.now().Sub(start), fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	err := d.transport.Send(sendCtx, provider.Message{
		To:      []string{strings.TrimSpace(email.Recipient)},
		Subject: email.Subject,
		HTML:    email.Body,
	})
	return d.now().Sub(start), err
}

func (d *Dispatcher) resolve(
	ctx context.Context,
	logger *zap.Logger,
	email *domain.QueuedEmail,
	attempt int,
	sendErr error,
) (Outcome, error) {
	id := email.ID
	now := d.now().UTC()

	if sendErr == nil {
		if err := d.emails.MarkSent(ctx, id, now); err != nil {
			return d.markError(logger, "sent", err)
		}
		d.metrics.IncSent(d.transport.Name())
		logger.Info("email sent")
		d.announce(ctx, logger, events.DeliveryEvent{
			EmailID:   id,
			Recipient: email.Recipient,
			Outcome:   events.OutcomeSent,
			Attempt:   attempt,
		})
		return OutcomeSent, nil
	}

	lastErr := sendErr.Error()
	if attempt >= d.cfg.MaxAttempts {
		if err := d.emails.MarkFailed(ctx, id, lastErr, now); err != nil {
			return d.markError(logger, "failed", err)
		}
		d.metrics.IncFailed(failReasonTransport)
		logger.Warn("email failed permanently",
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
		d.announce(ctx, logger, events.DeliveryEvent{
			EmailID:   id,
			Recipient: email.Recipient,
			Outcome:   events.OutcomeFailed,
			Attempt:   attempt,
			Error:     &lastErr,
		})
		return OutcomeFailed, nil
	}

	nextAt := d.cfg.Backoff.NextRetryAt(now, attempt)
	if err := d.emails.MarkRetry(ctx, id, lastErr, nextAt, now); err != nil {
		return d.markError(logger, "pending_retry", err)
	}
	d.metrics.IncRetryScheduled(d.transport.Name())
	logger.Warn("email send failed, retry scheduled",
		zap.Time("nextRetryAt", nextAt),
		zap.Bool("transient", provider.IsTransient(sendErr)),
		zap.Error(sendErr),
	)
	d.announce(ctx, logger, events.DeliveryEvent{
		EmailID:     id,
		Recipient:   email.Recipient,
		Outcome:     events.OutcomeRetryScheduled,
		Attempt:     attempt,
		Error:       &lastErr,
		NextRetryAt: &nextAt,
	})
	return OutcomeRetryScheduled, nil
}

func (d *Dispatcher) failExhausted(ctx context.Context, logger *zap.Logger, email *domain.QueuedEmail) (Outcome, error) {
	if err := d.emails.MarkFailed(ctx, email.ID, domain.MaxAttemptsReached, d.now().UTC()); err != nil {
		return d.markError(logger, "failed", err)
	}
	d.metrics.IncFailed(failReasonMaxAttempts)
	logger.Warn("email failed: max attempts reached", zap.Int("attempts", email.Attempts))

	reason := domain.MaxAttemptsReached
	d.announce(ctx, logger, events.DeliveryEvent{
		EmailID:   email.ID,
		Recipient: email.Recipient,
		Outcome:   events.OutcomeFailed,
		Attempt:   email.Attempts,
		Error:     &reason,
	})
	return OutcomeFailed, nil
}

// announce publishes a delivery event within PublishTimeout. Failures are
// logged only.
func (d *Dispatcher) announce(ctx context.Context, logger *zap.Logger, event events.DeliveryEvent) {
	if d.events == nil {
		return
	}
	event.OccurredAt = d.now().UTC()

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PublishTimeout)
	defer cancel()

	if err := d.events.Publish(publishCtx, event); err != nil {
		logger.Warn("failed to publish delivery event",
			zap.String("outcome", event.Outcome),
			zap.Error(err),
		)
	}
}

// markError treats a lost conditional update as a skip; anything else is a
// storage failure.
func (d *Dispatcher) markError(logger *zap.Logger, target string, err error) (Outcome, error) {
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
		logger.Warn("email changed state concurrently", zap.String("targetStatus", target))
		return OutcomeSkipped, nil
	}
	return OutcomeSkipped, fmt.Errorf("failed to mark email %s: %w", target, err)
}

func (d *Dispatcher) recordAttempt(
	ctx context.Context,
	logger *zap.Logger,
	id int64,
	attempt int,
	sendErr error,
	elapsed time.Duration,
) {
	if d.attempts == nil {
		return
	}

	var attemptErr *string
	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value
	}

	record := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		EmailID:        id,
		AttemptNumber:  attempt,
		Error:          attemptErr,
		DurationMillis: elapsed.Milliseconds(),
		CreatedAt:      d.now().UTC(),
	}
	if err := d.attempts.Create(ctx, record); err != nil {
		logger.Error("failed to record delivery attempt", zap.Error(err))
	}
}
