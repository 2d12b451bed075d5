package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates malformed or missing caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState indicates the operation is not permitted in the record's current lifecycle state.
	ErrInvalidState = errors.New("invalid state")
)
