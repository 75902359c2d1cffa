// Package recurrence computes when an automation column fires next for a lead.
//
// All arithmetic is done on local calendar days in the configured location, so a DST
// transition shifts the UTC offset of a fire but never skips or repeats a day.
package recurrence

import (
	"time"

	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
)

// ComputeNextFire returns the earliest fire instant at or after from, or false when the spec
// will not fire again. fired is the number of fires already completed for the position and
// only matters for the single-shot kinds (NONE and DAYS_FROM_NOW).
func ComputeNextFire(spec models.RecurrenceSpec, from time.Time, loc *time.Location, fired int) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}

	switch spec.Kind {
	case models.RecurrenceNone, "":
		if fired > 0 {
			return time.Time{}, false
		}
		return from, true

	case models.RecurrenceDaily:
		return nextDaily(spec, from, loc), true

	case models.RecurrenceWeekly:
		return nextWeekly(spec, from, loc)

	case models.RecurrenceMonthly:
		return nextMonthly(spec, from, loc)

	case models.RecurrenceCustomDates:
		return nextCustomDate(spec, from)

	case models.RecurrenceDaysFromNow:
		if fired > 0 {
			return time.Time{}, false
		}
		target := DaysFromNowTarget(spec, loc)
		if target.Before(from) {
			return from, true
		}
		return target, true

	default:
		return time.Time{}, false
	}
}

// InitialSchedule is the first NextScheduledAt of a lead entering a column at now.
func InitialSchedule(spec models.RecurrenceSpec, now time.Time, loc *time.Location) (time.Time, bool) {
	return ComputeNextFire(spec, now, loc, 0)
}

// DaysFromNowTarget resolves the fixed instant anchor + N local calendar days.
func DaysFromNowTarget(spec models.RecurrenceSpec, loc *time.Location) time.Time {
	a := spec.Anchor.In(loc)
	return time.Date(a.Year(), a.Month(), a.Day()+spec.DaysFromNow, a.Hour(), a.Minute(), a.Second(), a.Nanosecond(), loc)
}

type clock struct {
	hour, min, sec int
}

// timeOfDay is the anchor's local wall-clock time; a zero anchor means midnight.
func timeOfDay(spec models.RecurrenceSpec, loc *time.Location) clock {
	if spec.Anchor.IsZero() {
		return clock{}
	}
	a := spec.Anchor.In(loc)
	return clock{hour: a.Hour(), min: a.Minute(), sec: a.Second()}
}

func at(year int, month time.Month, day int, c clock, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.hour, c.min, c.sec, 0, loc)
}

func nextDaily(spec models.RecurrenceSpec, from time.Time, loc *time.Location) time.Time {
	c := timeOfDay(spec, loc)
	lf := from.In(loc)
	for i := 0; ; i++ {
		cand := at(lf.Year(), lf.Month(), lf.Day()+i, c, loc)
		if !cand.Before(from) {
			return cand
		}
	}
}

func nextWeekly(spec models.RecurrenceSpec, from time.Time, loc *time.Location) (time.Time, bool) {
	if len(spec.WeekDays) == 0 {
		return time.Time{}, false
	}
	days := make(map[time.Weekday]struct{}, len(spec.WeekDays))
	for _, d := range spec.WeekDays {
		if d >= 0 && d <= 6 {
			days[time.Weekday(d)] = struct{}{}
		}
	}
	if len(days) == 0 {
		return time.Time{}, false
	}

	c := timeOfDay(spec, loc)
	lf := from.In(loc)
	// 8 days covers the case where today's slot has already passed and today is the only weekday.
	for i := 0; i <= 7; i++ {
		cand := at(lf.Year(), lf.Month(), lf.Day()+i, c, loc)
		if _, ok := days[cand.Weekday()]; !ok {
			continue
		}
		if !cand.Before(from) {
			return cand, true
		}
	}
	return time.Time{}, false
}

func nextMonthly(spec models.RecurrenceSpec, from time.Time, loc *time.Location) (time.Time, bool) {
	if spec.MonthDay < 1 || spec.MonthDay > 31 {
		return time.Time{}, false
	}
	c := timeOfDay(spec, loc)
	lf := from.In(loc)
	for i := 0; i <= 12; i++ {
		first := time.Date(lf.Year(), lf.Month()+time.Month(i), 1, 0, 0, 0, 0, loc)
		day := spec.MonthDay
		if n := utils.DaysInMonth(first.Year(), first.Month()); day > n {
			day = n
		}
		cand := at(first.Year(), first.Month(), day, c, loc)
		if !cand.Before(from) {
			return cand, true
		}
	}
	return time.Time{}, false
}

func nextCustomDate(spec models.RecurrenceSpec, from time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, d := range spec.Dates {
		if d.Before(from) {
			continue
		}
		if !found || d.Before(best) {
			best = d
			found = true
		}
	}
	return best, found
}
