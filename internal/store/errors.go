// Package store holds the errors shared by every persistence backend.
package store

import "errors"

var (
	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict signals a lost optimistic write. The registry
	// retries once, then surfaces it as a persistence conflict.
	ErrVersionConflict = errors.New("store: version conflict")
)
