package common

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrStoreUnavailable marks a failed read or write against the persistent store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidInput marks a request rejected before any provider call.
	ErrInvalidInput = errors.New("invalid user input")
)

// StoreErr wraps a database error as ErrStoreUnavailable, leaving nil,
// gorm.ErrRecordNotFound and already wrapped errors untouched.
func StoreErr(op string, err error) error {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// InvalidInput builds an ErrInvalidInput with a reason.
func InvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
