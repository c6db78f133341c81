package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrVideoIDRequired indicates a job without an identifier.
	ErrVideoIDRequired = errors.New("video id is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrInvalidDuration indicates a duration value that is neither seconds
	// nor a parseable duration string.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrDuplicateVideo indicates the same video id appears twice in one queue.
	ErrDuplicateVideo = errors.New("duplicate video id")
)
