package booking

import (
	"errors"
	"fmt"
)

// Error values returned by Service.  Callers branch with errors.Is; the
// returned errors wrap these with request details.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidPartySize     = fmt.Errorf("%w: party size out of range", ErrInvalidInput)
	ErrInvalidTimeFormat    = fmt.Errorf("%w: time must be HH:MM", ErrInvalidInput)
	ErrDateNotBookable      = errors.New("date not bookable")
	ErrSlotNotOffered       = errors.New("slot not offered")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrCapacityCheckTimeout = errors.New("capacity check timed out")
	ErrAlreadyCancelled     = errors.New("reservation already cancelled")
	ErrNotFound             = errors.New("reservation not found")
	ErrStorageFailure       = errors.New("storage failure")
)

// Kind returns a stable, machine readable name for err.  The more specific
// input errors are checked before ErrInvalidInput.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPartySize):
		return "invalid_party_size"
	case errors.Is(err, ErrInvalidTimeFormat):
		return "invalid_time_format"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDateNotBookable):
		return "date_not_bookable"
	case errors.Is(err, ErrSlotNotOffered):
		return "slot_not_offered"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrCapacityCheckTimeout):
		return "capacity_check_timeout"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	default:
		return "internal"
	}
}
