package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/mailqueue/internal/domain"
	"gorm.io/gorm"
)

// StaleSendingError is recorded on jobs recovered from an interrupted dispatch.
const StaleSendingError = "dispatch interrupted before completion"

type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

type EmailRepository interface {
	Create(ctx context.Context, e *domain.QueuedEmail) error
	GetByID(ctx context.Context, id int64) (*domain.QueuedEmail, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error)
	Claim(ctx context.Context, id int64, expectedAttempts int, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkRetry(ctx context.Context, id int64, lastErr string, nextAt time.Time, now time.Time) error
	MarkFailed(ctx context.Context, id int64, lastErr string, now time.Time) error
	RequeueStale(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
}

type GormEmailRepo struct {
	db *gorm.DB
}

func NewGormEmailRepo(db *gorm.DB) *GormEmailRepo {
	return &GormEmailRepo{db: db}
}

func (r *GormEmailRepo) Create(ctx context.Context, e *domain.QueuedEmail) error {
	model := emailModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return classifyError(err)
	}
	if e != nil {
		*e = *emailModelToDomain(model)
	}
	return nil
}

func (r *GormEmailRepo) GetByID(ctx context.Context, id int64) (*domain.QueuedEmail, error) {
	var model EmailModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		return nil, classifyError(err)
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error) {
	var models []EmailModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND scheduled_for <= ?", domain.DispatchableStatuses(), now).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, classifyError(err)
	}

	emails := make([]domain.QueuedEmail, 0, len(models))
	for i := range models {
		emails = append(emails, *emailModelToDomain(&models[i]))
	}

	return emails, nil
}

// Claim moves a due job to sending and counts the attempt in one conditional
// update. Only the caller whose update affected the row owns the dispatch.
func (r *GormEmailRepo) Claim(ctx context.Context, id int64, expectedAttempts int, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("id = ? AND status IN ? AND attempts = ? AND scheduled_for <= ?",
			id, domain.DispatchableStatuses(), expectedAttempts, now).
		Updates(map[string]any{
			"status":     domain.StatusSending,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return false, classifyError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormEmailRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("id = ? AND status = ?", id, domain.StatusSending).
		Updates(map[string]any{
			"status":     domain.StatusSent,
			"sent_at":    sentAt,
			"last_error": nil,
			"updated_at": sentAt,
		})
	if result.Error != nil {
		return classifyError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormEmailRepo) MarkRetry(ctx context.Context, id int64, lastErr string, nextAt time.Time, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("id = ? AND status = ?", id, domain.StatusSending).
		Updates(map[string]any{
			"status":        domain.StatusPendingRetry,
			"last_error":    lastErr,
			"scheduled_for": nextAt,
			"updated_at":    now,
		})
	if result.Error != nil {
		return classifyError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormEmailRepo) MarkFailed(ctx context.Context, id int64, lastErr string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("id = ? AND status NOT IN ?", id, []domain.Status{domain.StatusSent, domain.StatusFailed}).
		Updates(map[string]any{
			"status":     domain.StatusFailed,
			"last_error": lastErr,
			"updated_at": now,
		})
	if result.Error != nil {
		return classifyError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// RequeueStale returns jobs stuck in sending since before staleBefore to
// pending_retry. Their attempt has already been counted.
func (r *GormEmailRepo) RequeueStale(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("status = ? AND updated_at < ?", domain.StatusSending, staleBefore).
		Updates(map[string]any{
			"status":        domain.StatusPendingRetry,
			"last_error":    StaleSendingError,
			"scheduled_for": now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return 0, classifyError(result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GormEmailRepo) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, classifyError(err)
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
