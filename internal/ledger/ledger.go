// Package ledger tracks committed party sizes per (date, slot) and performs
// the admit-or-reject decision for new bookings.
//
// Every backend keeps a materialized counter per slot and guarantees that
// TryReserve is a single indivisible check-then-increment for that slot:
//
//   - Memory: per-slot mutual exclusion with a bounded lock wait
//   - Redis:  a Lua script evaluated atomically by the server
//   - MySQL:  a conditional UPDATE evaluated under the row lock
//   - Mongo:  a conditional $inc with a bounded optimistic retry loop
//
// When the bounded critical section cannot be entered the call fails closed
// with ErrCheckTimeout and nothing is committed.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrCheckTimeout means the admission check could not complete within its
	// bound.  No capacity was committed.
	ErrCheckTimeout = errors.New("capacity check timed out")
	// ErrInvariantViolation means a release would drive a committed total
	// below zero, which indicates the ledger and the records have diverged.
	ErrInvariantViolation = errors.New("ledger invariant violated")
	// ErrInvalidAmount is returned for non-positive party sizes or negative totals.
	ErrInvalidAmount = errors.New("invalid amount")
)

// CapacityFunc returns the per-slot capacity in effect on a date.
type CapacityFunc func(date string) int

// Ledger is the capacity ledger contract shared by all backends.
type Ledger interface {
	// Committed returns the committed total of a slot.
	Committed(ctx context.Context, date, slot string) (int, error)
	// Remaining returns capacity minus committed, clamped at zero.
	Remaining(ctx context.Context, date, slot string) (int, error)
	// TryReserve atomically adds partySize when it fits and reports whether
	// it was admitted.  A rejected call leaves the total unchanged.
	TryReserve(ctx context.Context, date, slot string, partySize int) (bool, error)
	// Release subtracts partySize.  It never clamps: going below zero
	// returns ErrInvariantViolation and leaves the total unchanged.
	Release(ctx context.Context, date, slot string, partySize int) error
	// Set overwrites the committed total unconditionally.  Only safe while
	// no bookings are in flight, e.g. when seeding or in maintenance.
	Set(ctx context.Context, date, slot string, committed int) error
	// CompareAndSet overwrites the committed total only while it still
	// equals expected and reports whether it did.  A missing slot counts
	// as zero.  Reconciliation corrects drift through this call so an
	// admission that lands in between is never erased.
	CompareAndSet(ctx context.Context, date, slot string, expected, committed int) (bool, error)
}

// Key joins a date and a slot label into the identifier used by the
// backends.  Labels never contain '|' so the join is unambiguous.
func Key(date, slot string) string { return date + "|" + slot }

func remaining(capacity, committed int) int {
	if r := capacity - committed; r > 0 {
		return r
	}
	return 0
}

// isTimeout reports whether err is a context deadline or cancellation.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
