package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint (email) would be violated.
var ErrDuplicate = errors.New("duplicate record")
