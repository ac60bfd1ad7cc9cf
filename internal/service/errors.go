package service

import (
	"errors"
	"fmt"
)

// Typed outcomes of the mutation operations. Handlers map these to HTTP
// statuses; nothing here is ever a silent no-op.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("key already exists in scope")
	ErrValidation   = errors.New("validation failed")
	ErrLastAdmin    = errors.New("organization must keep at least one admin")
)

// DeniedError is an authorization failure. The reason is a short,
// display-safe string; it never carries storage detail.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "denied: " + e.Reason
}

func denied(reason string) error {
	return &DeniedError{Reason: reason}
}

// IsDenied reports whether err is an authorization denial.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func storagef(op string, err error) error {
	return fmt.Errorf("storage %s: %w", op, err)
}
