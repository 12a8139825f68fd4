package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleState is returned when a compare-and-set update finds a
	// different current status than expected.
	ErrStaleState = errors.New("stale state")

	// ErrAlreadyQueued is returned when a scene already has an active
	// queue entry.
	ErrAlreadyQueued = errors.New("scene already has an active queue entry")

	// ErrDuplicateEntry is returned when a ledger entry with the same
	// idempotency key already exists.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
)
