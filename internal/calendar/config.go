package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the operating-hours and capacity rules for the venue.  It is
// loaded once at startup and treated as read-only afterwards.  Dates used as
// keys in BlackoutDates and CapacityOverrides are civil dates in the venue's
// Location formatted as YYYY-MM-DD.
type Config struct {
	SlotMinutes       int                 // slot granularity in minutes
	OpenHour          int                 // first bookable hour (inclusive)
	CloseHour         int                 // closing hour (exclusive)
	CapacityPerSlot   int                 // default capacity shared by every slot
	MinPartySize      int                 // smallest accepted party
	MaxPartySize      int                 // largest accepted party
	BlackoutDates     map[string]struct{} // dates on which nothing is offered
	CapacityOverrides map[string]int      // per-date capacity replacing CapacityPerSlot
	Location          *time.Location      // venue time zone; nil means UTC
}

// Validate checks the invariants of the configuration.  A config that fails
// validation must not be used to build a Calendar.
func (c Config) Validate() error {
	if c.OpenHour < 0 || c.CloseHour > 24 || c.OpenHour >= c.CloseHour {
		return fmt.Errorf("calendar: open hour %d must be before close hour %d within 0..24", c.OpenHour, c.CloseHour)
	}
	if c.SlotMinutes <= 0 {
		return errors.New("calendar: slot minutes must be positive")
	}
	if span := (c.CloseHour - c.OpenHour) * 60; c.SlotMinutes > span {
		return fmt.Errorf("calendar: slot of %d minutes does not fit in %d open minutes", c.SlotMinutes, span)
	}
	if c.CapacityPerSlot <= 0 {
		return errors.New("calendar: capacity per slot must be positive")
	}
	if c.MinPartySize < 1 || c.MinPartySize > c.MaxPartySize {
		return fmt.Errorf("calendar: party size bounds [%d, %d] are invalid", c.MinPartySize, c.MaxPartySize)
	}
	for d := range c.BlackoutDates {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("calendar: blackout date %q: %w", d, ErrInvalidDate)
		}
	}
	for d, n := range c.CapacityOverrides {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("calendar: capacity override date %q: %w", d, ErrInvalidDate)
		}
		if n < 0 {
			return fmt.Errorf("calendar: capacity override for %s is negative", d)
		}
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
