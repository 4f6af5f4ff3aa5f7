package store

import "errors"

var (
	ErrConflict          = errors.New("conflict")
	ErrCapacityFull      = errors.New("capacity full")
	ErrOutsideHours      = errors.New("outside working hours")
	ErrBlocked           = errors.New("interval blocked")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)
