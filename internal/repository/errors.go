package repository

import (
	"errors"
	"fmt"

	"vendpay/internal/domain"

	"gorm.io/gorm"
)

// wrap tags datastore failures as persistence errors, keeping the cause in the chain.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
