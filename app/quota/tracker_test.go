package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/leadflow/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLedger struct {
	mu      sync.Mutex
	rows    []*models.SentMessage
	saveErr error
}

func (l *memLedger) Save(ctx context.Context, m *models.SentMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveErr != nil {
		return l.saveErr
	}
	m.ID = uint(len(l.rows) + 1)
	l.rows = append(l.rows, m)
	return nil
}

func (l *memLedger) CountReservedSince(ctx context.Context, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, r := range l.rows {
		if r.ReservedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ReservedTimesSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []time.Time
	for _, r := range l.rows {
		if r.ReservedAt.After(since) {
			out = append(out, r.ReservedAt)
		}
	}
	return out, nil
}

var base = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

func newRedisTracker(t *testing.T, ledger Ledger) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTracker(client, "test:", ledger, nil), mr
}

func trackers(t *testing.T) map[string]func() Tracker {
	return map[string]func() Tracker{
		"ledger": func() Tracker { return NewLedgerTracker(&memLedger{}) },
		"redis": func() Tracker {
			tr, _ := newRedisTracker(t, &memLedger{})
			return tr
		},
	}
}

func TestTracker_HourlyCapAndRollingWindow(t *testing.T) {
	for name, build := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			tr := build()
			ctx := context.Background()
			limits := Limits{PerHour: 5, PerDay: 100}

			for i := 0; i < 5; i++ {
				d, err := tr.TryReserve(ctx, base.Add(time.Duration(i)*time.Minute), limits, Reservation{LeadID: uint(i + 1)})
				require.NoError(t, err)
				assert.True(t, d.Granted, "reservation %d", i+1)
			}

			d, err := tr.TryReserve(ctx, base.Add(30*time.Minute), limits, Reservation{LeadID: 6})
			require.NoError(t, err)
			assert.False(t, d.Granted)
			assert.Equal(t, ReasonHourly, d.Reason)
			assert.EqualValues(t, 5, d.HourCount)

			// The oldest reservation leaves the window exactly one hour after it was taken.
			d, err = tr.TryReserve(ctx, base.Add(time.Hour), limits, Reservation{LeadID: 6})
			require.NoError(t, err)
			assert.True(t, d.Granted)

			d, err = tr.TryReserve(ctx, base.Add(time.Hour+30*time.Second), limits, Reservation{LeadID: 7})
			require.NoError(t, err)
			assert.False(t, d.Granted)
		})
	}
}

func TestTracker_DailyCap(t *testing.T) {
	for name, build := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			tr := build()
			ctx := context.Background()
			limits := Limits{PerHour: 10, PerDay: 3}

			for i := 0; i < 3; i++ {
				d, err := tr.TryReserve(ctx, base.Add(time.Duration(i)*2*time.Hour), limits, Reservation{})
				require.NoError(t, err)
				require.True(t, d.Granted)
			}

			d, err := tr.TryReserve(ctx, base.Add(10*time.Hour), limits, Reservation{})
			require.NoError(t, err)
			assert.False(t, d.Granted)
			assert.Equal(t, ReasonDaily, d.Reason)

			d, err = tr.TryReserve(ctx, base.Add(24*time.Hour), limits, Reservation{})
			require.NoError(t, err)
			assert.True(t, d.Granted)

			u, err := tr.Usage(ctx, base.Add(24*time.Hour))
			require.NoError(t, err)
			assert.EqualValues(t, 1, u.HourCount)
			assert.EqualValues(t, 3, u.DayCount)
		})
	}
}

func TestLedgerTracker_GrantWritesLedgerRow(t *testing.T) {
	ledger := &memLedger{}
	tr := NewLedgerTracker(ledger)

	d, err := tr.TryReserve(context.Background(), base, Limits{PerHour: 1, PerDay: 1}, Reservation{LeadID: 9, ColumnID: 2, Phone: "989120000000"})
	require.NoError(t, err)
	require.True(t, d.Granted)
	require.Len(t, ledger.rows, 1)
	assert.Equal(t, d.ReservationID, ledger.rows[0].ID)
	assert.Equal(t, uint(9), ledger.rows[0].LeadID)
	assert.Equal(t, models.SentMessageOutcomeReserved, ledger.rows[0].Outcome)
}

func TestLedgerTracker_LedgerFailureIsNotAGrant(t *testing.T) {
	tr := NewLedgerTracker(&memLedger{saveErr: errors.New("db down")})

	d, err := tr.TryReserve(context.Background(), base, Limits{PerHour: 1, PerDay: 1}, Reservation{})
	assert.Error(t, err)
	assert.False(t, d.Granted)
}

func TestRedisTracker_SeedsFromLedgerAfterRestart(t *testing.T) {
	ledger := &memLedger{}
	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.Save(context.Background(), &models.SentMessage{ReservedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	tr, mr := newRedisTracker(t, ledger)
	limits := Limits{PerHour: 3, PerDay: 10}

	d, err := tr.TryReserve(context.Background(), base.Add(10*time.Minute), limits, Reservation{})
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.EqualValues(t, 3, d.HourCount)
	assert.True(t, mr.Exists("test:quota:reservations"))
}

func TestRedisTracker_ReseedsAfterFlush(t *testing.T) {
	ledger := &memLedger{}
	tr, mr := newRedisTracker(t, ledger)
	ctx := context.Background()
	limits := Limits{PerHour: 3, PerDay: 10}

	for i := 0; i < 3; i++ {
		d, err := tr.TryReserve(ctx, base.Add(time.Duration(i)*time.Minute), limits, Reservation{LeadID: uint(i + 1)})
		require.NoError(t, err)
		require.True(t, d.Granted)
	}

	mr.FlushAll()

	d, err := tr.TryReserve(ctx, base.Add(5*time.Minute), limits, Reservation{LeadID: 4})
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, ReasonHourly, d.Reason)
	assert.EqualValues(t, 3, d.HourCount)

	hour, err := ledger.CountReservedSince(ctx, base.Add(5*time.Minute).Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, hour)

	mr.FlushAll()
	u, err := tr.Usage(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 3, u.HourCount)
}

func TestRedisTracker_LedgerFailureReleasesReservation(t *testing.T) {
	ledger := &memLedger{}
	tr, mr := newRedisTracker(t, ledger)
	ctx := context.Background()
	limits := Limits{PerHour: 1, PerDay: 10}

	ledger.saveErr = errors.New("db down")
	d, err := tr.TryReserve(ctx, base, limits, Reservation{LeadID: 1})
	assert.Error(t, err)
	assert.False(t, d.Granted)

	members, err := mr.ZMembers("test:quota:reservations")
	if err == nil {
		assert.Empty(t, members)
	}

	ledger.saveErr = nil
	d, err = tr.TryReserve(ctx, base.Add(time.Minute), limits, Reservation{LeadID: 1})
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.NotZero(t, d.ReservationID)
}
