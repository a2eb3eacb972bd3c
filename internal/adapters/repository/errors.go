package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("activity not found")
	ErrConflict     = errors.New("activity state conflict")
	ErrInvalidLimit = errors.New("invalid scan limit")
	ErrClosed       = errors.New("store closed")
)
