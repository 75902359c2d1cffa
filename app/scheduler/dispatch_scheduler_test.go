package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/leadflow/app/connection"
	"github.com/amirphl/leadflow/app/quota"
	"github.com/amirphl/leadflow/app/services"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday, inside the default business window
var tuesday10 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

type fakeColumns struct {
	mu   sync.Mutex
	cols []*models.AutomationColumn
}

func (f *fakeColumns) ListOrdered(ctx context.Context, activeOnly bool) ([]*models.AutomationColumn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.AutomationColumn, 0, len(f.cols))
	for _, c := range f.cols {
		if activeOnly && !c.IsActive {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeColumns) TouchLastDispatch(ctx context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cols {
		if c.ID == id {
			t := at
			c.LastDispatchAt = &t
		}
	}
	return nil
}

func (f *fakeColumns) get(id uint) *models.AutomationColumn {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cols {
		if c.ID == id {
			cp := *c
			return &cp
		}
	}
	return nil
}

type fakePositions struct {
	mu   sync.Mutex
	rows map[uint]*models.LeadAutomationPosition
}

func newFakePositions(rows ...*models.LeadAutomationPosition) *fakePositions {
	f := &fakePositions{rows: map[uint]*models.LeadAutomationPosition{}}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakePositions) ListDue(ctx context.Context, columnID uint, now time.Time, statuses []models.PositionStatus, limit int) ([]*models.LeadAutomationPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := map[models.PositionStatus]bool{}
	for _, s := range statuses {
		allowed[s] = true
	}
	var out []*models.LeadAutomationPosition
	for _, r := range f.rows {
		if r.ColumnID != columnID || !allowed[r.Status] || r.NextScheduledAt == nil || r.NextScheduledAt.After(now) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextScheduledAt.Equal(*out[j].NextScheduledAt) {
			return out[i].NextScheduledAt.Before(*out[j].NextScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePositions) MarkDue(ctx context.Context, columnID uint, now time.Time, from []models.PositionStatus, to models.PositionStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.ColumnID != columnID || r.NextScheduledAt == nil || r.NextScheduledAt.After(now) {
			continue
		}
		for _, s := range from {
			if r.Status == s {
				r.Status = to
				n++
				break
			}
		}
	}
	return n, nil
}

func (f *fakePositions) SaveOutcome(ctx context.Context, p *models.LeadAutomationPosition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[p.ID]
	if !ok || r.ColumnID != p.ColumnID {
		return false, nil
	}
	r.Status = p.Status
	r.NextScheduledAt = p.NextScheduledAt
	r.LastSentAt = p.LastSentAt
	r.LastAttemptAt = p.LastAttemptAt
	r.LastError = p.LastError
	r.MessagesSentCount = p.MessagesSentCount
	r.FireCount = p.FireCount
	return true, nil
}

func (f *fakePositions) FailInterrupted(ctx context.Context, attemptedBefore time.Time, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Status != models.PositionStatusSending {
			continue
		}
		if r.LastAttemptAt != nil && !r.LastAttemptAt.Before(attemptedBefore) {
			continue
		}
		msg := reason
		r.Status = models.PositionStatusFailed
		r.LastError = &msg
		n++
	}
	return n, nil
}

func (f *fakePositions) get(id uint) models.LeadAutomationPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

type fakeLeads map[uint]*models.Lead

func (f fakeLeads) ByID(ctx context.Context, id uint) (*models.Lead, error) {
	return f[id], nil
}

type fakeSettings struct{ s models.AutomationSettings }

func (f *fakeSettings) Current(ctx context.Context) (models.AutomationSettings, error) {
	return f.s, nil
}

type fakeConn struct{ state connection.State }

func (f *fakeConn) Current() connection.State { return f.state }

type fakeTemplates map[uint]*models.MessageTemplate

func (f fakeTemplates) ByID(ctx context.Context, id uint) (*models.MessageTemplate, error) {
	return f[id], nil
}

type sentMessage struct {
	phone string
	body  string
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []sentMessage
	err   error
	block bool
}

func (f *fakeTransport) SendMessage(ctx context.Context, phone, body string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{phone: phone, body: body})
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type memLedger struct {
	mu   sync.Mutex
	rows []*models.SentMessage
}

func (l *memLedger) Save(ctx context.Context, m *models.SentMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
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

func (l *memLedger) MarkOutcome(ctx context.Context, id uint, outcome models.SentMessageOutcome, errMsg *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rows {
		if r.ID == id {
			r.Outcome = outcome
			r.Error = errMsg
			return nil
		}
	}
	return errors.New("reservation not found")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.DispatchEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev services.DispatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type harness struct {
	now       time.Time
	columns   *fakeColumns
	positions *fakePositions
	settings  *fakeSettings
	conn      *fakeConn
	transport *fakeTransport
	ledger    *memLedger
	publisher *recordingPublisher
	scheduler *DispatchScheduler
}

func dailyColumn(id uint, order, intervalSeconds int) *models.AutomationColumn {
	tpl := uint(1)
	return &models.AutomationColumn{
		ID:                  id,
		Name:                "column",
		Order:               order,
		IsActive:            true,
		SendIntervalSeconds: intervalSeconds,
		TemplateID:          &tpl,
		Recurrence: models.RecurrenceSpec{
			Kind:   models.RecurrenceDaily,
			Anchor: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

func position(id, leadID, columnID uint, status models.PositionStatus, next time.Time) *models.LeadAutomationPosition {
	return &models.LeadAutomationPosition{
		ID:              id,
		LeadID:          leadID,
		ColumnID:        columnID,
		Status:          status,
		NextScheduledAt: &next,
	}
}

func newHarness(t *testing.T, cols []*models.AutomationColumn, rows ...*models.LeadAutomationPosition) *harness {
	t.Helper()
	h := &harness{
		now:       tuesday10,
		columns:   &fakeColumns{cols: cols},
		positions: newFakePositions(rows...),
		transport: &fakeTransport{},
		ledger:    &memLedger{},
		publisher: &recordingPublisher{},
		conn:      &fakeConn{state: connection.State{Kind: connection.StateConnected}},
	}
	settings := models.DefaultAutomationSettings()
	settings.ColumnIntervalSeconds = 0
	h.settings = &fakeSettings{s: settings}

	leads := fakeLeads{}
	for _, r := range rows {
		leads[r.LeadID] = &models.Lead{ID: r.LeadID, Name: "Lead", Phone: fmt.Sprintf("98912000000%d", r.LeadID)}
	}
	clock := utils.ClockFunc(func() time.Time { return h.now })
	templates := fakeTemplates{1: {ID: 1, Body: "Hello {name}"}}
	executor := NewSendExecutor(h.transport, templates, h.ledger, h.publisher, time.Second, clock, nil)
	h.scheduler = NewDispatchScheduler(h.columns, h.positions, leads, h.settings, h.conn,
		quota.NewLedgerTracker(h.ledger), executor, clock, time.Second, nil)
	return h
}

func (h *harness) run(t *testing.T) TickReport {
	t.Helper()
	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	return report
}

func TestRunOnce_OneSendPerColumnPerTick(t *testing.T) {
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 60)},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-2*time.Minute)),
		position(2, 2, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)

	report := h.run(t)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, h.transport.count())

	first := h.positions.get(1)
	assert.Equal(t, models.PositionStatusScheduled, first.Status)
	assert.Equal(t, 1, first.MessagesSentCount)
	require.NotNil(t, first.NextScheduledAt)
	assert.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), first.NextScheduledAt.UTC())
	assert.Equal(t, models.PositionStatusPending, h.positions.get(2).Status)

	h.now = tuesday10.Add(10 * time.Second)
	report = h.run(t)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, h.transport.count())

	h.now = tuesday10.Add(61 * time.Second)
	report = h.run(t)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, h.transport.count())
	assert.Equal(t, models.PositionStatusScheduled, h.positions.get(2).Status)
}

func TestRunOnce_GlobalIntervalFloorApplies(t *testing.T) {
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0)},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-2*time.Minute)),
		position(2, 2, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)
	h.settings.s.ColumnIntervalSeconds = 120

	h.run(t)
	h.now = tuesday10.Add(90 * time.Second)
	report := h.run(t)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, h.transport.count())
}

func TestRunOnce_DisconnectedParksDuePositions(t *testing.T) {
	due := tuesday10.Add(-time.Minute)
	future := tuesday10.Add(time.Hour)
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0)},
		position(1, 1, 1, models.PositionStatusPending, due),
		position(2, 2, 1, models.PositionStatusScheduled, due),
		position(3, 3, 1, models.PositionStatusScheduled, future),
	)
	h.conn.state = connection.State{Kind: connection.StateDisconnected}

	report := h.run(t)
	assert.Equal(t, int64(2), report.Disconnected)
	assert.Zero(t, h.transport.count())

	for _, id := range []uint{1, 2} {
		p := h.positions.get(id)
		assert.Equal(t, models.PositionStatusWhatsAppDisconnected, p.Status)
		assert.True(t, p.NextScheduledAt.Equal(due), "schedule must not advance")
	}
	assert.Equal(t, models.PositionStatusScheduled, h.positions.get(3).Status)
	assert.Nil(t, h.columns.get(1).LastDispatchAt)

	h.conn.state = connection.State{Kind: connection.StateConnected}
	report = h.run(t)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, models.PositionStatusScheduled, h.positions.get(1).Status)
	assert.Equal(t, models.PositionStatusWhatsAppDisconnected, h.positions.get(2).Status)
}

func TestRunOnce_QuotaDeniedMarksRateLimited(t *testing.T) {
	due := tuesday10.Add(-time.Minute)
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0), dailyColumn(2, 1, 0)},
		position(1, 1, 1, models.PositionStatusPending, due),
		position(2, 2, 2, models.PositionStatusPending, due),
	)
	h.settings.s.MaxMessagesPerHour = 1

	report := h.run(t)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.RateLimited)

	limited := h.positions.get(2)
	assert.Equal(t, models.PositionStatusRateLimited, limited.Status)
	assert.True(t, limited.NextScheduledAt.Equal(due))
	assert.Nil(t, h.columns.get(2).LastDispatchAt, "a denied reservation does not consume the column's turn")
	assert.Len(t, h.ledger.rows, 1)

	// the hour window rolls over and the rate limited lead goes out
	h.now = tuesday10.Add(61 * time.Minute)
	report = h.run(t)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, models.PositionStatusScheduled, h.positions.get(2).Status)
}

func TestRunOnce_OutsideBusinessWindowLeavesPositions(t *testing.T) {
	saturday := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0)},
		position(1, 1, 1, models.PositionStatusPending, saturday.Add(-time.Hour)),
	)
	h.now = saturday

	report := h.run(t)
	assert.True(t, report.WindowClosed)
	assert.Zero(t, report.Sent)
	assert.Zero(t, h.transport.count())
	assert.Equal(t, models.PositionStatusPending, h.positions.get(1).Status)
	assert.Empty(t, h.ledger.rows)
}

func TestRunOnce_TransportFailureMarksFailed(t *testing.T) {
	due := tuesday10.Add(-time.Minute)
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0)},
		position(1, 1, 1, models.PositionStatusPending, due),
	)
	h.transport.err = errors.New("boom")

	report := h.run(t)
	assert.Equal(t, 1, report.Failed)

	p := h.positions.get(1)
	assert.Equal(t, models.PositionStatusFailed, p.Status)
	require.NotNil(t, p.LastError)
	assert.Contains(t, *p.LastError, "boom")
	assert.True(t, p.NextScheduledAt.Equal(due))
	require.Len(t, h.ledger.rows, 1)
	assert.Equal(t, models.SentMessageOutcomeFailed, h.ledger.rows[0].Outcome)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, "dispatch.failed", h.publisher.events[0].RoutingKey())

	// no automatic retry
	h.transport.err = nil
	h.now = tuesday10.Add(time.Hour)
	report = h.run(t)
	assert.Zero(t, report.Sent)
	assert.Equal(t, models.PositionStatusFailed, h.positions.get(1).Status)
}

func TestRunOnce_SingleShotEndsSent(t *testing.T) {
	col := dailyColumn(1, 0, 0)
	col.Recurrence = models.RecurrenceSpec{Kind: models.RecurrenceNone}
	h := newHarness(t,
		[]*models.AutomationColumn{col},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)

	h.run(t)
	p := h.positions.get(1)
	assert.Equal(t, models.PositionStatusSent, p.Status)
	assert.Nil(t, p.NextScheduledAt)
	assert.Equal(t, 1, p.FireCount)
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "Hello Lead", h.transport.sent[0].body)
	require.Len(t, h.ledger.rows, 1)
	assert.Equal(t, models.SentMessageOutcomeSent, h.ledger.rows[0].Outcome)

	h.now = tuesday10.Add(time.Hour)
	report := h.run(t)
	assert.Zero(t, report.Sent)
}

func TestRunOnce_InactiveColumnIsIgnored(t *testing.T) {
	col := dailyColumn(1, 0, 0)
	col.IsActive = false
	h := newHarness(t,
		[]*models.AutomationColumn{col},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)

	report := h.run(t)
	assert.Zero(t, report.Columns)
	assert.Zero(t, h.transport.count())
	assert.Equal(t, models.PositionStatusPending, h.positions.get(1).Status)
}

func TestRunOnce_MissingTemplateFails(t *testing.T) {
	col := dailyColumn(1, 0, 0)
	col.TemplateID = nil
	h := newHarness(t,
		[]*models.AutomationColumn{col},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)

	h.run(t)
	p := h.positions.get(1)
	assert.Equal(t, models.PositionStatusFailed, p.Status)
	require.NotNil(t, p.LastError)
	assert.Equal(t, ErrNoTemplate.Error(), *p.LastError)
}

func TestRunOnce_MovedPositionOutcomeIsDropped(t *testing.T) {
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0), dailyColumn(2, 1, 0)},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)
	// the lead is moved to column 2 while its send is in flight
	tomorrow := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	moving := &movingTransport{inner: h.transport, positions: h.positions, id: 1, to: 2, next: tomorrow}
	h.scheduler.sender = NewSendExecutor(moving, fakeTemplates{1: {ID: 1, Body: "hi"}}, h.ledger, h.publisher, time.Second, nil, nil)

	h.run(t)
	p := h.positions.get(1)
	assert.Equal(t, uint(2), p.ColumnID)
	assert.Equal(t, models.PositionStatusPending, p.Status)
	assert.True(t, p.NextScheduledAt.Equal(tomorrow))
	assert.Zero(t, p.MessagesSentCount)
	assert.Empty(t, h.publisher.events)
	assert.Equal(t, 1, h.transport.count())
}

func TestRunOnce_LeadMovedToDueColumnIsSentOncePerTick(t *testing.T) {
	due := tuesday10.Add(-time.Minute)
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0), dailyColumn(2, 1, 0)},
		position(1, 1, 1, models.PositionStatusPending, due),
	)
	// a single shot column places the moved lead due immediately
	moving := &movingTransport{inner: h.transport, positions: h.positions, id: 1, to: 2, next: due}
	h.scheduler.sender = NewSendExecutor(moving, fakeTemplates{1: {ID: 1, Body: "hi"}}, h.ledger, h.publisher, time.Second, nil, nil)

	report := h.run(t)
	assert.Equal(t, 1, h.transport.count())
	assert.Len(t, h.ledger.rows, 1)
	assert.Zero(t, report.RateLimited)
	assert.Equal(t, models.PositionStatusPending, h.positions.get(1).Status)

	// the next tick picks the lead up in its new column
	h.scheduler.sender = NewSendExecutor(h.transport, fakeTemplates{1: {ID: 1, Body: "hi"}}, h.ledger, h.publisher, time.Second, nil, nil)
	h.now = tuesday10.Add(time.Minute)
	h.run(t)
	assert.Equal(t, 2, h.transport.count())
	assert.Equal(t, models.PositionStatusScheduled, h.positions.get(1).Status)
}

func TestRunOnce_ShutdownMidSendRecordsFailure(t *testing.T) {
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0)},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.scheduler.sender = NewSendExecutor(&cancellingTransport{cancel: cancel}, fakeTemplates{1: {ID: 1, Body: "hi"}}, h.ledger, h.publisher, time.Second, nil, nil)

	_, _ = h.scheduler.RunOnce(ctx)

	p := h.positions.get(1)
	assert.Equal(t, models.PositionStatusFailed, p.Status)
	require.NotNil(t, p.LastError)
	assert.Contains(t, *p.LastError, context.Canceled.Error())
	assert.True(t, p.Status.Retriable())
	require.Len(t, h.ledger.rows, 1)
	assert.Equal(t, models.SentMessageOutcomeFailed, h.ledger.rows[0].Outcome)
}

func TestRunOnce_StaleSendingPositionIsFailed(t *testing.T) {
	stale := tuesday10.Add(-10 * time.Minute)
	recent := tuesday10.Add(-5 * time.Second)
	stuck := position(1, 1, 1, models.PositionStatusSending, tuesday10.Add(-time.Hour))
	stuck.LastAttemptAt = &stale
	inFlight := position(2, 2, 1, models.PositionStatusSending, tuesday10.Add(-time.Hour))
	inFlight.LastAttemptAt = &recent
	h := newHarness(t, []*models.AutomationColumn{dailyColumn(1, 0, 0)}, stuck, inFlight)

	report := h.run(t)
	assert.EqualValues(t, 1, report.Interrupted)

	p := h.positions.get(1)
	assert.Equal(t, models.PositionStatusFailed, p.Status)
	require.NotNil(t, p.LastError)
	assert.Equal(t, ErrSendInterrupted.Error(), *p.LastError)
	assert.True(t, p.Status.Retriable())
	assert.Equal(t, models.PositionStatusSending, h.positions.get(2).Status)
	assert.Zero(t, h.transport.count())
}

func TestRunOnce_MovedBeforeSendReleasesReservation(t *testing.T) {
	h := newHarness(t,
		[]*models.AutomationColumn{dailyColumn(1, 0, 0)},
		position(1, 1, 1, models.PositionStatusPending, tuesday10.Add(-time.Minute)),
	)
	h.scheduler.positions = &movedOnSave{fakePositions: h.positions}

	h.run(t)
	assert.Zero(t, h.transport.count())
	require.Len(t, h.ledger.rows, 1)
	assert.Equal(t, models.SentMessageOutcomeFailed, h.ledger.rows[0].Outcome)
	require.NotNil(t, h.ledger.rows[0].Error)
	assert.Equal(t, ErrPositionMoved.Error(), *h.ledger.rows[0].Error)
}

// movedOnSave reports every outcome write as hitting a position that left its column.
type movedOnSave struct {
	*fakePositions
}

func (m *movedOnSave) SaveOutcome(ctx context.Context, p *models.LeadAutomationPosition) (bool, error) {
	return false, nil
}

type movingTransport struct {
	inner     *fakeTransport
	positions *fakePositions
	id        uint
	to        uint
	next      time.Time
}

func (m *movingTransport) SendMessage(ctx context.Context, phone, body string) error {
	m.positions.mu.Lock()
	row := m.positions.rows[m.id]
	row.ColumnID = m.to
	row.Status = models.PositionStatusPending
	next := m.next
	row.NextScheduledAt = &next
	m.positions.mu.Unlock()
	return m.inner.SendMessage(ctx, phone, body)
}

// cancellingTransport cancels the tick's context while the send is in flight.
type cancellingTransport struct {
	cancel context.CancelFunc
}

func (c *cancellingTransport) SendMessage(ctx context.Context, phone, body string) error {
	c.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestSendExecutor_Timeout(t *testing.T) {
	transport := &fakeTransport{block: true}
	tpl := uint(1)
	executor := NewSendExecutor(transport, fakeTemplates{1: {ID: 1, Body: "hi"}}, nil, nil, 20*time.Millisecond, nil, nil)

	err := executor.Send(context.Background(), SendJob{
		Position: &models.LeadAutomationPosition{ID: 1},
		Lead:     &models.Lead{ID: 1, Phone: "989120000000"},
		Column:   &models.AutomationColumn{ID: 1, TemplateID: &tpl},
	})
	assert.ErrorIs(t, err, ErrSendTimeout)
}

func TestSendExecutor_RendersLeadVariables(t *testing.T) {
	transport := &fakeTransport{}
	tpl := uint(7)
	executor := NewSendExecutor(transport, fakeTemplates{7: {ID: 7, Body: "Hi {name}, your order {order} ships today"}}, nil, nil, time.Second, nil, nil)

	err := executor.Send(context.Background(), SendJob{
		Position: &models.LeadAutomationPosition{ID: 1},
		Lead:     &models.Lead{ID: 1, Name: "Sara", Phone: "989120000000", Variables: models.LeadVariables{"order": "#42"}},
		Column:   &models.AutomationColumn{ID: 1, TemplateID: &tpl},
	})
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "989120000000", transport.sent[0].phone)
	assert.Equal(t, "Hi Sara, your order #42 ships today", transport.sent[0].body)
}

// stubbornTransport ignores ctx and records how many calls overlap.
type stubbornTransport struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	hold     time.Duration
}

func (s *stubbornTransport) SendMessage(ctx context.Context, phone, body string) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(s.hold)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return nil
}

func TestSendExecutor_TimedOutSendsDoNotOverlap(t *testing.T) {
	transport := &stubbornTransport{hold: 60 * time.Millisecond}
	tpl := uint(1)
	executor := NewSendExecutor(transport, fakeTemplates{1: {ID: 1, Body: "hi"}}, nil, nil, 10*time.Millisecond, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = executor.Send(context.Background(), SendJob{
				Position: &models.LeadAutomationPosition{ID: uint(i + 1)},
				Lead:     &models.Lead{ID: uint(i + 1), Phone: "989120000000"},
				Column:   &models.AutomationColumn{ID: 1, TemplateID: &tpl},
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSendTimeout)
	}
	assert.Equal(t, 1, transport.maxSeen)
}
