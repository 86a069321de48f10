package store

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("nil must stay nil")
	}

	if err := classify(gorm.ErrRecordNotFound); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// Store sentinels raised inside transactions pass through untouched
	for _, sentinel := range []error{ErrInvalidTransition, ErrNotFound, ErrStorageUnavailable} {
		wrapped := fmt.Errorf("report r1: %w", sentinel)
		if err := classify(wrapped); !errors.Is(err, sentinel) {
			t.Errorf("Expected %v to pass through, got %v", sentinel, err)
		}
		if err := classify(wrapped); errors.Is(err, ErrStorageUnavailable) && sentinel != ErrStorageUnavailable {
			t.Errorf("Sentinel %v must not be re-wrapped as storage failure", sentinel)
		}
	}

	// Anything else is a storage failure
	err := classify(errors.New("connection refused"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}
