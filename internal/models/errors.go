package models

import "errors"

var (
	// ErrNotFound is returned when a subscription or profile does not exist
	// or is not owned by the caller.
	ErrNotFound = errors.New("record not found")
	// ErrNotAuthenticated is returned when a mutating operation is attempted
	// without a signed-in identity.
	ErrNotAuthenticated = errors.New("not authenticated")
)
