package domain

import "errors"

var (
	// ErrNotFound is returned when a board, list or task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidMove is returned for moves that reference a list outside the
	// board or a negative position.
	ErrInvalidMove = errors.New("invalid move")
)
