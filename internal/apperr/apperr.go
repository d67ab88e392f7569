// Package apperr holds the error taxonomy shared by every workflow.
//
// Domain packages declare their own specific errors wrapping one of these
// sentinels, so callers can branch with errors.Is on either the specific
// error or its category.
package apperr

import "errors"

var (
	// ErrNotFound means a referenced SKU, item, posting, task, acceptance or
	// discount does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the operation is not legal in the entity's
	// current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict means a concurrent caller won a reservation race.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition means the entity is already terminal.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation means the request itself is malformed.
	ErrValidation = errors.New("validation failed")
)

// Category is the coarse classification of an error.
type Category string

const (
	CategoryNotFound          Category = "not_found"
	CategoryInvalidState      Category = "invalid_state"
	CategoryConflict          Category = "conflict"
	CategoryInvalidTransition Category = "invalid_transition"
	CategoryValidation        Category = "validation"
	CategoryInternal          Category = "internal"
)

// Kind classifies err into one of the taxonomy categories.
func Kind(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CategoryInvalidTransition
	case errors.Is(err, ErrInvalidState):
		return CategoryInvalidState
	case errors.Is(err, ErrConflict):
		return CategoryConflict
	case errors.Is(err, ErrValidation):
		return CategoryValidation
	default:
		return CategoryInternal
	}
}
