package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when neither an email nor a phone number is given
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage matches every [StorageError]
	ErrStorage = errors.New("storage error")

	// ErrNotFound is returned by lookups for unknown contact ids
	ErrNotFound = errors.New("contact not found")
)

// StorageError wraps a failure of the contact store
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
