package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/mailqueue/internal/domain"
	"gorm.io/gorm"
)

// classifyError maps driver errors onto domain sentinels. Anything that is not
// a statement-level error reported by the server means the datastore could not
// be reached.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 connection exceptions, 57P admin/crash shutdown, 53 insufficient resources.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") || strings.HasPrefix(pgErr.Code, "53") {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		return err
	}

	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
