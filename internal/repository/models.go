package repository

import (
	"time"

	"github.com/kursadbilgin/mailqueue/internal/domain"
)

// EmailModel is the persistence model for the email_queue table.
type EmailModel struct {
	ID           int64         `gorm:"primaryKey;autoIncrement"`
	Recipient    string        `gorm:"type:varchar(320);not null"`
	Subject      string        `gorm:"type:text;not null;default:''"`
	Body         string        `gorm:"type:text;not null;default:''"`
	Status       domain.Status `gorm:"type:varchar(20);not null"`
	Attempts     int           `gorm:"not null;default:0"`
	ScheduledFor time.Time     `gorm:"type:timestamptz;not null"`
	SentAt       *time.Time    `gorm:"type:timestamptz"`
	LastError    *string       `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (EmailModel) TableName() string {
	return "email_queue"
}

// EmailAttemptModel is the persistence model for email_attempts.
type EmailAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	EmailID        int64   `gorm:"not null"`
	AttemptNumber  int     `gorm:"not null"`
	Error          *string `gorm:"type:text"`
	DurationMillis int64   `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (EmailAttemptModel) TableName() string {
	return "email_attempts"
}

func emailModelFromDomain(e *domain.QueuedEmail) *EmailModel {
	if e == nil {
		return nil
	}

	return &EmailModel{
		ID:           e.ID,
		Recipient:    e.Recipient,
		Subject:      e.Subject,
		Body:         e.Body,
		Status:       e.Status,
		Attempts:     e.Attempts,
		ScheduledFor: e.ScheduledFor,
		SentAt:       e.SentAt,
		LastError:    e.LastError,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func emailModelToDomain(m *EmailModel) *domain.QueuedEmail {
	if m == nil {
		return nil
	}

	return &domain.QueuedEmail{
		ID:           m.ID,
		Recipient:    m.Recipient,
		Subject:      m.Subject,
		Body:         m.Body,
		Status:       m.Status,
		Attempts:     m.Attempts,
		ScheduledFor: m.ScheduledFor,
		SentAt:       m.SentAt,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *EmailAttemptModel {
	if a == nil {
		return nil
	}

	return &EmailAttemptModel{
		ID:             a.ID,
		EmailID:        a.EmailID,
		AttemptNumber:  a.AttemptNumber,
		Error:          a.Error,
		DurationMillis: a.DurationMillis,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *EmailAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		EmailID:        m.EmailID,
		AttemptNumber:  m.AttemptNumber,
		Error:          m.Error,
		DurationMillis: m.DurationMillis,
		CreatedAt:      m.CreatedAt,
	}
}
