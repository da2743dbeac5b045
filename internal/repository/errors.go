// Package repository holds the reservation record stores and the error
// values they share.  These sentinel values let higher layers such as the
// booking service distinguish a missing record from a record whose state
// forbids the requested transition, independently of the backend in use.
package repository

import "errors"

// ErrNotFound is returned when no reservation has the requested id.
var ErrNotFound = errors.New("reservation not found")

// ErrAlreadyCancelled is returned by MarkCancelled when the reservation is
// already in its terminal state.  The stored record is left untouched.
var ErrAlreadyCancelled = errors.New("reservation already cancelled")

// ErrConflict is returned when Create is given an id that already exists.
var ErrConflict = errors.New("conflict")

// ListFilter narrows List.  Empty fields match everything.
type ListFilter struct {
	Date   string
	Status string
}
