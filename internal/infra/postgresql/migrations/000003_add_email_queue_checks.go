package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addEmailQueueChecks() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_email_queue_checks",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE email_queue DROP CONSTRAINT IF EXISTS chk_email_queue_status`,
				`ALTER TABLE email_queue ADD CONSTRAINT chk_email_queue_status CHECK (status IN ('pending', 'sending', 'pending_retry', 'sent', 'failed'))`,
				`ALTER TABLE email_queue DROP CONSTRAINT IF EXISTS chk_email_queue_attempts`,
				`ALTER TABLE email_queue ADD CONSTRAINT chk_email_queue_attempts CHECK (attempts >= 0)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE email_queue DROP CONSTRAINT IF EXISTS chk_email_queue_attempts`,
				`ALTER TABLE email_queue DROP CONSTRAINT IF EXISTS chk_email_queue_status`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
