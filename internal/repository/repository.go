// Package repository holds the gorm-backed lookups the services consume.
package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrStaleCounter means another login already stored an equal or higher
	// signature counter.
	ErrStaleCounter = errors.New("signature counter already advanced")
)

func mapError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
