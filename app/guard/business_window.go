// Package guard decides whether the current instant is inside the configured send window.
package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/leadflow/models"
)

var (
	ErrInvalidBusinessHours = errors.New("business hour end must be after business hour start")
	ErrBusinessHourRange    = errors.New("business hours must be between 0 and 23")
	ErrUnknownTimezone      = errors.New("unknown timezone")
)

// IsAllowed reports whether a message may be sent at now under settings.
func IsAllowed(now time.Time, settings models.AutomationSettings) bool {
	if !settings.SendOnlyBusinessHours {
		return true
	}
	local := now.In(settings.Location())
	if settings.BlockWeekends && isWeekend(local.Weekday()) {
		return false
	}
	h := local.Hour()
	return h >= settings.BusinessHourStart && h < settings.BusinessHourEnd
}

// NextOpening returns the first instant at or after now when IsAllowed holds.
func NextOpening(now time.Time, settings models.AutomationSettings) time.Time {
	if IsAllowed(now, settings) {
		return now
	}
	loc := settings.Location()
	local := now.In(loc)
	for i := 0; i <= 7; i++ {
		open := time.Date(local.Year(), local.Month(), local.Day()+i, settings.BusinessHourStart, 0, 0, 0, loc)
		if open.Before(now) {
			continue
		}
		if settings.BlockWeekends && isWeekend(open.Weekday()) {
			continue
		}
		return open
	}
	return now
}

// ValidateWindow rejects window configurations that could never allow a send.
func ValidateWindow(settings models.AutomationSettings) error {
	if settings.BusinessHourStart < 0 || settings.BusinessHourStart > 23 ||
		settings.BusinessHourEnd < 0 || settings.BusinessHourEnd > 23 {
		return ErrBusinessHourRange
	}
	if settings.BusinessHourEnd <= settings.BusinessHourStart {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidBusinessHours, settings.BusinessHourStart, settings.BusinessHourEnd)
	}
	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownTimezone, settings.Timezone)
		}
	}
	return nil
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}
