package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/mailqueue/internal/domain"
	"github.com/kursadbilgin/mailqueue/internal/observability"
	"github.com/kursadbilgin/mailqueue/internal/repository"
	"go.uber.org/zap"
)

// EnqueueRequest describes one email to be delivered. A nil ScheduledFor means
// the email is due immediately.
type EnqueueRequest struct {
	Recipient    string
	Subject      string
	Body         string
	ScheduledFor *time.Time
}

// QueueService is the request-path side of the delivery queue.
type QueueService struct {
	emails   repository.EmailRepository
	attempts repository.AttemptRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewQueueService(
	emails repository.EmailRepository,
	attempts repository.AttemptRepository,
	logger *zap.Logger,
) (*QueueService, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueService{
		emails:   emails,
		attempts: attempts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *QueueService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enqueue persists a pending email and returns its id. Storage failures are
// returned to the caller, never swallowed.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	scheduledFor := now
	if req.ScheduledFor != nil && !req.ScheduledFor.IsZero() {
		scheduledFor = req.ScheduledFor.UTC()
	}

	email := &domain.QueuedEmail{
		Recipient:    req.Recipient,
		Subject:      req.Subject,
		Body:         req.Body,
		Status:       domain.StatusPending,
		Attempts:     0,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := email.Validate(); err != nil {
		return 0, err
	}

	if err := s.emails.Create(ctx, email); err != nil {
		observability.LoggerFromContext(s.logger, ctx).Error("failed to enqueue email",
			zap.String("recipient", email.Recipient),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to enqueue email: %w", err)
	}

	s.metrics.IncEnqueued()
	observability.LoggerFromContext(s.logger, ctx).Info("email enqueued",
		zap.Int64("emailId", email.ID),
		zap.Time("scheduledFor", email.ScheduledFor),
	)

	return email.ID, nil
}

func (s *QueueService) GetByID(ctx context.Context, id int64) (*domain.QueuedEmail, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: email id must be positive", domain.ErrValidation)
	}
	return s.emails.GetByID(ctx, id)
}

// Attempts returns the delivery history of one email, oldest first.
func (s *QueueService) Attempts(ctx context.Context, id int64) ([]domain.DeliveryAttempt, error) {
	if s.attempts == nil {
		return nil, fmt.Errorf("attempt repository is not configured")
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.attempts.ListByEmailID(ctx, id)
}

func (s *QueueService) Stats(ctx context.Context) (domain.Stats, error) {
	counts, err := s.emails.CountByStatus(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to count emails by status: %w", err)
	}
	return domain.NewStats(counts), nil
}
