package storage

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput is returned when a write is rejected before reaching the backend.
var ErrInvalidInput = errors.New("invalid input")
