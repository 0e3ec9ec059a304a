package store

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a record was rejected by a store-side validation rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsRecordRejection reports whether err is a per-record rejection by the store
// rather than an infrastructure failure.
func IsRecordRejection(err error) bool {
	var validation *ValidationError
	var conflict *ConflictError
	var notFound *NotFoundError
	return errors.As(err, &validation) || errors.As(err, &conflict) || errors.As(err, &notFound)
}
