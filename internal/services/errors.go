package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("stale update")
	ErrConflictNotOpen   = errors.New("conflict is not open")
	ErrInvalidResolution = errors.New("invalid resolution")
)

// ConflictError is returned by MutationService.Apply when the caller's
// expected version no longer matches. The MutationConflict row has already
// been committed when it is returned.
type ConflictError struct {
	ConflictID       string
	CurrentUpdatedAt time.Time
}

func (e *ConflictError) Error() string {
	return ErrConflict.Error()
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Scope is the caller identity and active baby, resolved upstream.
type Scope struct {
	UserID string
	BabyID string
}
