package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mailqueue/internal/repository"
	"gorm.io/gorm"
)

func createEmailQueueTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_email_queue",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_email_queue_due ON email_queue (scheduled_for, id) WHERE status IN ('pending', 'pending_retry')`,
				`CREATE INDEX IF NOT EXISTS idx_email_queue_sending ON email_queue (updated_at) WHERE status = 'sending'`,
				`CREATE INDEX IF NOT EXISTS idx_email_queue_status ON email_queue (status)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailModel{})
		},
	}
}
