package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is the base for every "referenced entity absent" failure.
var ErrNotFound = errors.New("not found")

var (
	ErrKeyNotFound       = fmt.Errorf("key %w", ErrNotFound)
	ErrEmployeeNotFound  = fmt.Errorf("employee %w", ErrNotFound)
	ErrCardNotRecognized = fmt.Errorf("card %w", ErrNotFound)
)

var (
	ErrDuplicateCardID     = errors.New("card id already assigned to another employee")
	ErrKeyInUse            = errors.New("key is currently issued")
	ErrKeyUnavailable      = errors.New("key is not available")
	ErrKeyAlreadyAvailable = errors.New("key has already been returned")
	ErrWrongHolder         = errors.New("key was issued to another employee")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUnauthorized        = errors.New("administrator session required")
	ErrLedgerCorrupt       = errors.New("ledger does not alternate take/return")
)

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func required(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// rejectionReason maps custody errors to a metrics label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrEmployeeNotFound):
		return "employee_not_found"
	case errors.Is(err, ErrKeyUnavailable):
		return "key_unavailable"
	case errors.Is(err, ErrKeyAlreadyAvailable):
		return "key_already_available"
	case errors.Is(err, ErrWrongHolder):
		return "wrong_holder"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
