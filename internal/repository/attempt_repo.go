package repository

import (
	"context"

	"github.com/kursadbilgin/mailqueue/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	ListByEmailID(ctx context.Context, emailID int64) ([]domain.DeliveryAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return classifyError(err)
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) ListByEmailID(ctx context.Context, emailID int64) ([]domain.DeliveryAttempt, error) {
	var models []EmailAttemptModel
	err := r.db.WithContext(ctx).
		Where("email_id = ?", emailID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, classifyError(err)
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
