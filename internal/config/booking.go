package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iliyamo/table-reservation/internal/calendar"
)

// LoadBooking builds the calendar rules from an optional YAML file plus
// BOOKING_* environment overrides (BOOKING_SLOT_MINUTES, BOOKING_OPEN_HOUR,
// BOOKING_BLACKOUT_DATES="2024-12-25,2024-12-26", ...).  A missing file is
// not an error; the defaults describe an 11:00-22:00 venue with 30 minute
// slots and 24 seats per slot.
func LoadBooking(path string) (calendar.Config, error) {
	v := viper.New()
	v.SetDefault("slot_minutes", 30)
	v.SetDefault("open_hour", 11)
	v.SetDefault("close_hour", 22)
	v.SetDefault("capacity_per_slot", 24)
	v.SetDefault("min_party_size", 1)
	v.SetDefault("max_party_size", 12)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("blackout_dates", []string{})

	v.SetEnvPrefix("BOOKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return calendar.Config{}, fmt.Errorf("read booking config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return calendar.Config{}, fmt.Errorf("stat booking config: %w", err)
		}
	}

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return calendar.Config{}, fmt.Errorf("booking timezone: %w", err)
	}

	blackout := make(map[string]struct{})
	for _, d := range splitList(v.GetStringSlice("blackout_dates")) {
		blackout[d] = struct{}{}
	}
	overrides := make(map[string]int)
	for date := range v.GetStringMap("capacity_overrides") {
		overrides[date] = v.GetInt("capacity_overrides." + date)
	}

	cfg := calendar.Config{
		SlotMinutes:       v.GetInt("slot_minutes"),
		OpenHour:          v.GetInt("open_hour"),
		CloseHour:         v.GetInt("close_hour"),
		CapacityPerSlot:   v.GetInt("capacity_per_slot"),
		MinPartySize:      v.GetInt("min_party_size"),
		MaxPartySize:      v.GetInt("max_party_size"),
		BlackoutDates:     blackout,
		CapacityOverrides: overrides,
		Location:          loc,
	}
	if err := cfg.Validate(); err != nil {
		return calendar.Config{}, fmt.Errorf("booking config: %w", err)
	}
	return cfg, nil
}

// splitList flattens entries that themselves hold comma separated values,
// which is how list values arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
