// Package calendar turns operating-hours configuration into bookable slots.
// Everything here is pure: a Calendar never changes after construction and can
// be shared freely between goroutines.
package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DateLayout is the civil date format used for every date in the system.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidDate is returned for dates that are not strict YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date format")
	// ErrInvalidTimeFormat is returned for times that are not strict 24-hour HH:MM.
	ErrInvalidTimeFormat = errors.New("invalid time format")
)

var timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Calendar derives slots from a validated Config.
type Calendar struct {
	cfg Config
}

// New validates cfg and returns a Calendar bound to it.  The blackout and
// override maps are copied so later mutation by the caller has no effect.
func New(cfg Config) (*Calendar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	blackout := make(map[string]struct{}, len(cfg.BlackoutDates))
	for d := range cfg.BlackoutDates {
		blackout[d] = struct{}{}
	}
	overrides := make(map[string]int, len(cfg.CapacityOverrides))
	for d, n := range cfg.CapacityOverrides {
		overrides[d] = n
	}
	cfg.BlackoutDates = blackout
	cfg.CapacityOverrides = overrides
	return &Calendar{cfg: cfg}, nil
}

// Config returns a copy of the rules the calendar was built with.
func (c *Calendar) Config() Config { return c.cfg }

// Location returns the venue time zone.
func (c *Calendar) Location() *time.Location { return c.cfg.location() }

// ParseDate parses a strict YYYY-MM-DD date as midnight in the venue zone.
func (c *Calendar) ParseDate(s string) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.ParseInLocation(DateLayout, s, c.cfg.location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// Today returns the civil date of now in the venue zone.
func (c *Calendar) Today(now time.Time) string {
	return now.In(c.cfg.location()).Format(DateLayout)
}

// IsBlackout reports whether no slots are offered on date.
func (c *Calendar) IsBlackout(date string) bool {
	_, ok := c.cfg.BlackoutDates[date]
	return ok
}

// CapacityFor returns the per-slot capacity in effect on date.
func (c *Calendar) CapacityFor(date string) int {
	if n, ok := c.cfg.CapacityOverrides[date]; ok {
		return n
	}
	return c.cfg.CapacityPerSlot
}

// GenerateSlots returns every slot label offered on date in ascending order.
// A slot is offered when it starts at or after opening and can run a full
// interval before closing.  Blackout dates and malformed dates yield an empty
// result.
func (c *Calendar) GenerateSlots(date string) []string {
	if _, err := c.ParseDate(date); err != nil {
		return []string{}
	}
	if c.IsBlackout(date) {
		return []string{}
	}
	open := c.cfg.OpenHour * 60
	closing := c.cfg.CloseHour * 60
	slots := make([]string, 0, (closing-open)/c.cfg.SlotMinutes)
	for m := open; m+c.cfg.SlotMinutes <= closing; m += c.cfg.SlotMinutes {
		slots = append(slots, formatMinutes(m))
	}
	return slots
}

// Offers reports whether slot is one of GenerateSlots(date).
func (c *Calendar) Offers(date, slot string) bool {
	for _, s := range c.GenerateSlots(date) {
		if s == slot {
			return true
		}
	}
	return false
}

// NormalizeToSlot rounds a strict HH:MM time down to the start of the slot
// that contains it.  Slots are anchored at the opening hour, so with 30
// minute slots 18:47 becomes 18:30.  Operating hours are not checked here.
func (c *Calendar) NormalizeToSlot(hhmm string) (string, error) {
	m, err := parseMinutes(hhmm)
	if err != nil {
		return "", err
	}
	step := c.cfg.SlotMinutes
	anchor := (c.cfg.OpenHour * 60) % step
	off := (m - anchor) % step
	if off < 0 {
		off += step
	}
	start := m - off
	if start < 0 {
		start = 0
	}
	return formatMinutes(start), nil
}

// SlotStart returns the wall-clock instant at which slot begins on date.
func (c *Calendar) SlotStart(date, slot string) (time.Time, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	m, err := parseMinutes(slot)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, day.Location()), nil
}

func parseMinutes(hhmm string) (int, error) {
	if !timePattern.MatchString(hhmm) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, hhmm)
	}
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return h*60 + m, nil
}

func formatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
