// Package quota enforces the rolling hourly and daily send budgets.
package quota

import (
	"context"
	"time"

	"github.com/amirphl/leadflow/models"
)

const (
	ReasonHourly = "hourly quota exhausted"
	ReasonDaily  = "daily quota exhausted"
)

// Limits are the caps of the two rolling windows. A non-positive cap disables that window.
type Limits struct {
	PerHour int
	PerDay  int
}

// LimitsFrom reads the caps from the automation settings.
func LimitsFrom(s models.AutomationSettings) Limits {
	return Limits{PerHour: s.MaxMessagesPerHour, PerDay: s.MaxMessagesPerDay}
}

// Reservation identifies the send a reservation is taken for.
type Reservation struct {
	LeadID   uint
	ColumnID uint
	Phone    string
}

// Decision is the outcome of TryReserve. ReservationID is the ledger row backing a grant
// (zero when the ledger write failed or the tracker has no ledger).
type Decision struct {
	Granted       bool
	Reason        string
	HourCount     int64
	DayCount      int64
	ReservationID uint
}

// Usage reports the current window counts.
type Usage struct {
	HourCount int64 `json:"hour_count"`
	DayCount  int64 `json:"day_count"`
}

// Tracker grants or denies send reservations. A grant is counted immediately and is never
// refunded, even if the delivery later fails.
type Tracker interface {
	TryReserve(ctx context.Context, now time.Time, limits Limits, r Reservation) (Decision, error)
	Usage(ctx context.Context, now time.Time) (Usage, error)
}

// Ledger is the durable record of reservations. repository.SentMessageRepository satisfies it.
type Ledger interface {
	Save(ctx context.Context, entity *models.SentMessage) error
	CountReservedSince(ctx context.Context, since time.Time) (int64, error)
	ReservedTimesSince(ctx context.Context, since time.Time) ([]time.Time, error)
}

func evaluate(hour, day int64, limits Limits) (bool, string) {
	if limits.PerHour > 0 && hour >= int64(limits.PerHour) {
		return false, ReasonHourly
	}
	if limits.PerDay > 0 && day >= int64(limits.PerDay) {
		return false, ReasonDaily
	}
	return true, ""
}

func newLedgerRow(now time.Time, r Reservation) *models.SentMessage {
	return &models.SentMessage{
		LeadID:     r.LeadID,
		ColumnID:   r.ColumnID,
		Phone:      r.Phone,
		Outcome:    models.SentMessageOutcomeReserved,
		ReservedAt: now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}
