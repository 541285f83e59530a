// Package apperr defines the error taxonomy shared by the engine and its
// callers. Configuration and validation failures are always surfaced;
// Forbidden is surfaced on single-entity operations and resolved by omission
// on filtered listings.
package apperr

import (
	"errors"
	"fmt"
)

// ConfigurationError means a field's own parameters are internally
// inconsistent (min > max, default out of range, default failing its own
// pattern). Raised at field create/update time, never at value-write time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("field %s misconfigured: %s", e.Field, e.Reason)
}

// ValidationError means an incoming value violates a structurally sound
// field's constraints. It carries enough detail for a user-facing message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Field, e.Reason)
}

// ForbiddenError means the actor's effective permission is insufficient for
// the attempted operation.
type ForbiddenError struct {
	Actor  string
	Target string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s has no access to %s", e.Actor, e.Target)
}

// ConflictError means a uniqueness invariant was violated: duplicate state
// name, duplicate field position, duplicate list item value or text.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string {
	return e.Reason
}

// ErrNotFound marks a missing template, state, field, issue or list item.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the entity that was looked up.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce ConfigurationError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var fe ForbiddenError
	return errors.As(err, &fe)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}
