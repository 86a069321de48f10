package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrStorageUnavailable means the local durable store could not serve
	// the call. Callers must treat this as non-fatal: read paths degrade to
	// "no cached data", write paths to online-only behavior.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrNotFound means the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition means a report status change violates the
	// write-queue state machine
	ErrInvalidTransition = errors.New("invalid report status transition")
)

// classify maps gorm errors onto the store taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
