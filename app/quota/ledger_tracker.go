package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/leadflow/utils"
)

// LedgerTracker counts reservations straight from the ledger table. Check and insert run under
// one mutex, so a single process never over-grants.
type LedgerTracker struct {
	mu     sync.Mutex
	ledger Ledger
}

func NewLedgerTracker(ledger Ledger) *LedgerTracker {
	return &LedgerTracker{ledger: ledger}
}

func (t *LedgerTracker) TryReserve(ctx context.Context, now time.Time, limits Limits, r Reservation) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hour, day, err := t.counts(ctx, now)
	if err != nil {
		return Decision{}, err
	}
	if ok, reason := evaluate(hour, day, limits); !ok {
		return Decision{Granted: false, Reason: reason, HourCount: hour, DayCount: day}, nil
	}

	row := newLedgerRow(now, r)
	if err := t.ledger.Save(ctx, row); err != nil {
		return Decision{}, fmt.Errorf("failed to record reservation: %w", err)
	}
	return Decision{Granted: true, HourCount: hour + 1, DayCount: day + 1, ReservationID: row.ID}, nil
}

func (t *LedgerTracker) Usage(ctx context.Context, now time.Time) (Usage, error) {
	hour, day, err := t.counts(ctx, now)
	if err != nil {
		return Usage{}, err
	}
	return Usage{HourCount: hour, DayCount: day}, nil
}

func (t *LedgerTracker) counts(ctx context.Context, now time.Time) (int64, int64, error) {
	hour, err := t.ledger.CountReservedSince(ctx, now.Add(-utils.QuotaHourWindow))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count hourly reservations: %w", err)
	}
	day, err := t.ledger.CountReservedSince(ctx, now.Add(-utils.QuotaDayWindow))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count daily reservations: %w", err)
	}
	return hour, day, nil
}
