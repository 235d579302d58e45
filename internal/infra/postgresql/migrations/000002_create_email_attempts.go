package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mailqueue/internal/repository"
	"gorm.io/gorm"
)

func createEmailAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_email_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_email_attempts_email_id ON email_attempts (email_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailAttemptModel{})
		},
	}
}
