package repository

import (
	"errors"
	"fmt"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict means a conditional update matched no row: another process moved the record first.
	ErrStatusConflict = errors.New("status changed concurrently")

	ErrImmutableField = errors.New("field cannot be updated")
)

func wrapNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
