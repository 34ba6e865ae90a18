package domain

import (
	"errors"
	"fmt"
)

// ErrNotReady is matched by errors.Is for every NotReadyError.
var ErrNotReady = errors.New("transport not ready")

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// NotReadyError reports that the transport session cannot send right now.
type NotReadyError struct {
	State string
	HasQR bool
}

func (e *NotReadyError) Error() string {
	if e.HasQR {
		return "transport not connected: scan the pairing QR first"
	}
	return fmt.Sprintf("transport not ready (state=%s)", e.State)
}

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// StorageError wraps a failed durable-store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
