package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRequest   = errors.New("malformed request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrVerificationFailed = errors.New("signature verification failed")
	ErrBalanceNotFound    = errors.New("balance not found")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// NormalizationError reports a provider payload that does not fit its schema.
type NormalizationError struct {
	Provider Provider
	Field    string
	Reason   string
}

func (e *NormalizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("normalize %s payload: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("normalize %s payload: %s: %s", e.Provider, e.Field, e.Reason)
}

// StorageError wraps a ledger backend failure. Callers may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
