package businessflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/repository"
	"github.com/stretchr/testify/require"
)

type fakeSettingsRepo struct {
	mu   sync.Mutex
	row  *models.AutomationSettings
	gets int
}

func (r *fakeSettingsRepo) Get(ctx context.Context) (*models.AutomationSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.row == nil {
		def := models.DefaultAutomationSettings()
		return &def, nil
	}
	cp := *r.row
	return &cp, nil
}

func (r *fakeSettingsRepo) Upsert(ctx context.Context, s *models.AutomationSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.row = &cp
	return nil
}

// staticSettings serves fixed settings without a repository.
type staticSettings struct {
	businessflow.AutomationSettingsFlow
	s models.AutomationSettings
}

func (f staticSettings) Current(ctx context.Context) (models.AutomationSettings, error) {
	return f.s, nil
}

type memLedger struct {
	mu    sync.Mutex
	times []time.Time
}

func (l *memLedger) Save(ctx context.Context, m *models.SentMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.times = append(l.times, m.ReservedAt)
	m.ID = uint(len(l.times))
	return nil
}

func (l *memLedger) CountReservedSince(ctx context.Context, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, t := range l.times {
		if t.After(since) {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ReservedTimesSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []time.Time
	for _, t := range l.times {
		if t.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// memPositions keeps positions in memory for flows that only read by lead and reset.
type memPositions struct {
	repository.LeadPositionRepository
	mu   sync.Mutex
	rows []*models.LeadAutomationPosition
}

func (r *memPositions) ByLeadID(ctx context.Context, leadID uint) (*models.LeadAutomationPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.LeadID == leadID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPositions) ResetRetriable(ctx context.Context, filter models.LeadPositionFilter, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.rows {
		if filter.LeadID != nil && p.LeadID != *filter.LeadID {
			continue
		}
		if filter.ColumnID != nil && p.ColumnID != *filter.ColumnID {
			continue
		}
		if !p.Status.Retriable() {
			continue
		}
		due := now
		p.Status = models.PositionStatusPending
		p.NextScheduledAt = &due
		p.LastError = nil
		n++
	}
	return n, nil
}

type memColumns struct {
	repository.AutomationColumnRepository
	byID map[uint]*models.AutomationColumn
}

func (r *memColumns) ByID(ctx context.Context, id uint) (*models.AutomationColumn, error) {
	return r.byID[id], nil
}

func requireBusinessCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var be *businessflow.BusinessError
	require.True(t, errors.As(err, &be), "expected a business error, got %v", err)
	require.Equal(t, code, be.Code)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
