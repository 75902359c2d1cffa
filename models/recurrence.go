package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RecurrenceKind identifies which recurrence policy a column follows.
type RecurrenceKind string

const (
	RecurrenceNone        RecurrenceKind = "NONE"
	RecurrenceDaily       RecurrenceKind = "DAILY"
	RecurrenceWeekly      RecurrenceKind = "WEEKLY"
	RecurrenceMonthly     RecurrenceKind = "MONTHLY"
	RecurrenceCustomDates RecurrenceKind = "CUSTOM_DATES"
	RecurrenceDaysFromNow RecurrenceKind = "DAYS_FROM_NOW"
)

// Valid checks if the kind is valid.
func (k RecurrenceKind) Valid() bool {
	switch k {
	case RecurrenceNone,
		RecurrenceDaily,
		RecurrenceWeekly,
		RecurrenceMonthly,
		RecurrenceCustomDates,
		RecurrenceDaysFromNow:
		return true
	default:
		return false
	}
}

var (
	ErrRecurrenceUnknownKind   = errors.New("unknown recurrence kind")
	ErrRecurrenceEmptyWeekDays = errors.New("weekly recurrence requires at least one weekday")
	ErrRecurrenceBadWeekDay    = errors.New("weekday index must be between 0 and 6")
	ErrRecurrenceBadMonthDay   = errors.New("month day must be between 1 and 31")
	ErrRecurrenceNoDates       = errors.New("custom dates recurrence requires at least one date")
	ErrRecurrenceNegativeDays  = errors.New("days from now must not be negative")
)

// RecurrenceSpec describes when a column fires next for a lead. Only the fields of the
// selected Kind are meaningful. Anchor is the column's reference creation time: it supplies
// the time-of-day for calendar kinds and the base instant for DAYS_FROM_NOW.
type RecurrenceSpec struct {
	Kind        RecurrenceKind `json:"kind"`
	WeekDays    []int          `json:"weekDays,omitempty"`
	MonthDay    int            `json:"monthDay,omitempty"`
	Dates       []time.Time    `json:"dates,omitempty"`
	DaysFromNow int            `json:"daysFromNow,omitempty"`
	Anchor      time.Time      `json:"anchor"`
}

// Validate rejects malformed specs. It is called on every write path.
func (s RecurrenceSpec) Validate() error {
	switch s.Kind {
	case RecurrenceNone, RecurrenceDaily:
		return nil
	case RecurrenceWeekly:
		if len(s.WeekDays) == 0 {
			return ErrRecurrenceEmptyWeekDays
		}
		for _, d := range s.WeekDays {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: %d", ErrRecurrenceBadWeekDay, d)
			}
		}
		return nil
	case RecurrenceMonthly:
		if s.MonthDay < 1 || s.MonthDay > 31 {
			return fmt.Errorf("%w: %d", ErrRecurrenceBadMonthDay, s.MonthDay)
		}
		return nil
	case RecurrenceCustomDates:
		if len(s.Dates) == 0 {
			return ErrRecurrenceNoDates
		}
		return nil
	case RecurrenceDaysFromNow:
		if s.DaysFromNow < 0 {
			return ErrRecurrenceNegativeDays
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrRecurrenceUnknownKind, s.Kind)
	}
}

// Normalize sorts and de-duplicates list parameters so evaluation can rely on ordering.
func (s RecurrenceSpec) Normalize() RecurrenceSpec {
	out := s
	if len(s.WeekDays) > 0 {
		seen := make(map[int]struct{}, len(s.WeekDays))
		days := make([]int, 0, len(s.WeekDays))
		for _, d := range s.WeekDays {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			days = append(days, d)
		}
		sort.Ints(days)
		out.WeekDays = days
	}
	if len(s.Dates) > 0 {
		dates := make([]time.Time, len(s.Dates))
		copy(dates, s.Dates)
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		out.Dates = dates
	}
	return out
}

// UnmarshalJSON accepts weekDays either as an array or as a JSON-encoded string ("[1,3,5]"),
// which is how older rows stored it.
func (s *RecurrenceSpec) UnmarshalJSON(data []byte) error {
	type alias RecurrenceSpec
	var raw struct {
		alias
		WeekDays json.RawMessage `json:"weekDays,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = RecurrenceSpec(raw.alias)
	s.WeekDays = nil

	wd := strings.TrimSpace(string(raw.WeekDays))
	if wd == "" || wd == "null" {
		return nil
	}
	if strings.HasPrefix(wd, `"`) {
		var inner string
		if err := json.Unmarshal(raw.WeekDays, &inner); err != nil {
			return fmt.Errorf("weekDays: %w", err)
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return nil
		}
		wd = inner
	}
	var days []int
	if err := json.Unmarshal([]byte(wd), &days); err != nil {
		return fmt.Errorf("weekDays: %w", err)
	}
	s.WeekDays = days
	return nil
}

// Scan implements the sql.Scanner interface for RecurrenceSpec.
func (s *RecurrenceSpec) Scan(value any) error {
	if value == nil {
		*s = RecurrenceSpec{Kind: RecurrenceNone}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into RecurrenceSpec", value)
	}

	var spec RecurrenceSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("failed to decode recurrence spec: %w", err)
	}
	*s = spec.Normalize()
	return nil
}

// Value implements the driver.Valuer interface for RecurrenceSpec.
func (s RecurrenceSpec) Value() (driver.Value, error) {
	if !s.Kind.Valid() {
		return nil, fmt.Errorf("invalid RecurrenceKind: %s", s.Kind)
	}
	b, err := json.Marshal(s.Normalize())
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
