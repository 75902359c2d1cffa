// Package scheduler drives automated WhatsApp sends for leads positioned in automation columns.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/leadflow/app/connection"
	"github.com/amirphl/leadflow/app/guard"
	"github.com/amirphl/leadflow/app/quota"
	"github.com/amirphl/leadflow/app/recurrence"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
	"go.uber.org/zap"
)

// candidatesPerColumn bounds how many due positions a column loads per tick. Only one of them
// is sent; the rest are walked past when they cannot be sent.
const candidatesPerColumn = 25

const (
	// outcomeWriteTimeout bounds outcome writes, which run detached from the tick's context
	outcomeWriteTimeout = 5 * time.Second

	// interruptedSendGrace is added to the send timeout before a SENDING position is
	// considered abandoned
	interruptedSendGrace = time.Minute
)

var (
	ErrLeadMissing     = errors.New("lead no longer exists")
	ErrSendInterrupted = errors.New("send interrupted before its outcome was recorded")
	ErrPositionMoved   = errors.New("position moved before send")
)

// ColumnSource lists the automation columns.
type ColumnSource interface {
	ListOrdered(ctx context.Context, activeOnly bool) ([]*models.AutomationColumn, error)
	TouchLastDispatch(ctx context.Context, id uint, at time.Time) error
}

// PositionStore reads and updates lead positions.
type PositionStore interface {
	ListDue(ctx context.Context, columnID uint, now time.Time, statuses []models.PositionStatus, limit int) ([]*models.LeadAutomationPosition, error)
	MarkDue(ctx context.Context, columnID uint, now time.Time, from []models.PositionStatus, to models.PositionStatus) (int64, error)
	SaveOutcome(ctx context.Context, position *models.LeadAutomationPosition) (bool, error)
	FailInterrupted(ctx context.Context, attemptedBefore time.Time, reason string) (int64, error)
}

// LeadSource resolves leads.
type LeadSource interface {
	ByID(ctx context.Context, id uint) (*models.Lead, error)
}

// SettingsSource returns the settings in effect.
type SettingsSource interface {
	Current(ctx context.Context) (models.AutomationSettings, error)
}

// ConnectionSource exposes the transport connection state.
type ConnectionSource interface {
	Current() connection.State
}

// Sender performs a granted delivery.
type Sender interface {
	Send(ctx context.Context, job SendJob) error
	Publish(ctx context.Context, pos *models.LeadAutomationPosition, phone string)
	Release(ctx context.Context, reservationID uint, cause error)
	Timeout() time.Duration
}

// TickReport summarizes one scheduler pass.
type TickReport struct {
	StartedAt    time.Time
	Duration     time.Duration
	Columns      int
	Sent         int
	Failed       int
	RateLimited  int
	Disconnected int64
	Interrupted  int64
	Skipped      int
	WindowClosed bool
}

// DispatchScheduler walks the active columns on every tick and hands at most one due lead per
// column to the sender.
type DispatchScheduler struct {
	columns   ColumnSource
	positions PositionStore
	leads     LeadSource
	settings  SettingsSource
	conn      ConnectionSource
	quota     quota.Tracker
	sender    Sender
	clock     utils.Clock
	interval  time.Duration
	logger    *zap.Logger

	tickMu sync.Mutex
}

// NewDispatchScheduler wires the scheduler. interval defaults to utils.DefaultTickInterval.
func NewDispatchScheduler(
	columns ColumnSource,
	positions PositionStore,
	leads LeadSource,
	settings SettingsSource,
	conn ConnectionSource,
	tracker quota.Tracker,
	sender Sender,
	clock utils.Clock,
	interval time.Duration,
	logger *zap.Logger,
) *DispatchScheduler {
	if interval <= 0 {
		interval = utils.DefaultTickInterval
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchScheduler{
		columns:   columns,
		positions: positions,
		leads:     leads,
		settings:  settings,
		conn:      conn,
		quota:     tracker,
		sender:    sender,
		clock:     clock,
		interval:  interval,
		logger:    logger.Named("dispatch"),
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function.
// The first tick runs immediately.
func (s *DispatchScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	s.logger.Info("dispatch scheduler started", zap.Duration("interval", s.interval))
	return func() {
		cancel()
		<-done
		s.logger.Info("dispatch scheduler stopped")
	}
}

func (s *DispatchScheduler) tick(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("dispatch tick failed", zap.Error(err))
		}
		return
	}
	if report.Sent+report.Failed+report.RateLimited > 0 || report.Disconnected > 0 {
		s.logger.Info("dispatch tick",
			zap.Int("columns", report.Columns),
			zap.Int("sent", report.Sent),
			zap.Int("failed", report.Failed),
			zap.Int("rate_limited", report.RateLimited),
			zap.Int64("disconnected", report.Disconnected),
			zap.Duration("duration", report.Duration))
	}
}

// RunOnce performs a single pass over the active columns. Concurrent calls are serialized.
func (s *DispatchScheduler) RunOnce(ctx context.Context) (report TickReport, err error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	started := time.Now()
	now := s.clock.Now()
	report.StartedAt = now
	defer func() {
		report.Duration = time.Since(started)
		dispatchTickDuration.Observe(report.Duration.Seconds())
	}()

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return report, fmt.Errorf("load settings: %w", err)
	}
	state := s.conn.Current()

	s.recoverInterrupted(ctx, now, &report)

	columns, err := s.columns.ListOrdered(ctx, true)
	if err != nil {
		return report, fmt.Errorf("list columns: %w", err)
	}
	report.Columns = len(columns)

	// a lead moved between columns mid-tick is sent at most once per tick
	dispatched := make(map[uint]struct{})
	for _, column := range columns {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.runColumn(ctx, column, settings, state, now, dispatched, &report)
	}
	return report, nil
}

// recoverInterrupted fails positions left in SENDING by a send whose outcome was never written
// (crash, shutdown). Ticks are serialized, so nothing of this process is in flight here.
func (s *DispatchScheduler) recoverInterrupted(ctx context.Context, now time.Time, report *TickReport) {
	cutoff := now.Add(-(s.sender.Timeout() + interruptedSendGrace))
	n, err := s.positions.FailInterrupted(ctx, cutoff, ErrSendInterrupted.Error())
	if err != nil {
		s.logger.Error("failed to recover interrupted sends", zap.Error(err))
		return
	}
	if n > 0 {
		report.Interrupted = n
		dispatchOutcomesTotal.WithLabelValues(string(models.PositionStatusFailed)).Add(float64(n))
		s.logger.Warn("interrupted sends marked failed", zap.Int64("count", n))
	}
}

func (s *DispatchScheduler) runColumn(ctx context.Context, column *models.AutomationColumn, settings models.AutomationSettings, state connection.State, now time.Time, dispatched map[uint]struct{}, report *TickReport) {
	log := s.logger.With(zap.Uint("column_id", column.ID), zap.String("column", column.Name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("column dispatch panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if column.LastDispatchAt != nil && now.Sub(*column.LastDispatchAt) < column.EffectiveInterval(settings.ColumnIntervalSeconds) {
		report.Skipped++
		return
	}

	if !state.IsConnected() {
		n, err := s.positions.MarkDue(ctx, column.ID, now,
			[]models.PositionStatus{models.PositionStatusPending, models.PositionStatusScheduled, models.PositionStatusRateLimited},
			models.PositionStatusWhatsAppDisconnected)
		if err != nil {
			log.Error("failed to mark positions disconnected", zap.Error(err))
			return
		}
		if n > 0 {
			report.Disconnected += n
			dispatchOutcomesTotal.WithLabelValues(string(models.PositionStatusWhatsAppDisconnected)).Add(float64(n))
			log.Warn("whatsapp not connected, due positions parked",
				zap.Int64("count", n),
				zap.String("state", string(state.Kind)))
		}
		return
	}

	candidates, err := s.positions.ListDue(ctx, column.ID, now, models.DispatchableStatuses, candidatesPerColumn)
	if err != nil {
		log.Error("failed to list due positions", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	if !guard.IsAllowed(now, settings) {
		report.WindowClosed = true
		log.Debug("outside business window",
			zap.Int("due", len(candidates)),
			zap.Time("next_opening", guard.NextOpening(now, settings)))
		return
	}

	limits := quota.LimitsFrom(settings)
	for _, pos := range candidates {
		if _, done := dispatched[pos.LeadID]; done {
			continue
		}
		lead, err := s.leads.ByID(ctx, pos.LeadID)
		if err != nil {
			log.Error("failed to load lead", zap.Uint("lead_id", pos.LeadID), zap.Error(err))
			continue
		}
		if lead == nil {
			s.fail(ctx, log, pos, "", now, ErrLeadMissing, report)
			continue
		}

		decision, err := s.quota.TryReserve(ctx, now, limits, quota.Reservation{LeadID: lead.ID, ColumnID: column.ID, Phone: lead.Phone})
		if err != nil {
			log.Error("quota reservation failed", zap.Uint("lead_id", lead.ID), zap.Error(err))
			return
		}
		if !decision.Granted {
			s.rateLimit(ctx, log, pos, lead.Phone, now, decision, report)
			return
		}

		dispatched[lead.ID] = struct{}{}
		s.dispatch(ctx, log, column, pos, lead, settings, now, decision.ReservationID, report)
		return
	}
}

func (s *DispatchScheduler) dispatch(ctx context.Context, log *zap.Logger, column *models.AutomationColumn, pos *models.LeadAutomationPosition, lead *models.Lead, settings models.AutomationSettings, now time.Time, reservationID uint, report *TickReport) {
	pos.Status = models.PositionStatusSending
	pos.LastAttemptAt = &now
	if ok, err := s.positions.SaveOutcome(ctx, pos); err != nil || !ok {
		log.Warn("position changed before send, skipping",
			zap.Uint("lead_id", pos.LeadID),
			zap.Bool("still_in_column", ok),
			zap.Error(err))
		cause := err
		if cause == nil {
			cause = ErrPositionMoved
		}
		s.sender.Release(ctx, reservationID, cause)
		return
	}
	if err := s.columns.TouchLastDispatch(ctx, column.ID, now); err != nil {
		log.Error("failed to record column dispatch", zap.Error(err))
	}

	sendErr := s.sender.Send(ctx, SendJob{
		Position:      pos,
		Lead:          lead,
		Column:        column,
		ReservationID: reservationID,
	})

	// the outcome is written even when the tick is cancelled mid-send
	outCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	if sendErr != nil {
		s.fail(outCtx, log, pos, lead.Phone, now, sendErr, report)
		return
	}

	pos.MessagesSentCount++
	pos.FireCount++
	pos.LastSentAt = &now
	pos.LastError = nil
	next, ok := recurrence.ComputeNextFire(column.Recurrence, now.Add(time.Second), settings.Location(), pos.FireCount)
	if ok {
		next = next.UTC()
		pos.Status = models.PositionStatusScheduled
		pos.NextScheduledAt = &next
	} else {
		pos.Status = models.PositionStatusSent
		pos.NextScheduledAt = nil
	}
	report.Sent++
	dispatchOutcomesTotal.WithLabelValues(string(models.PositionStatusSent)).Inc()
	s.persist(outCtx, log, pos, lead.Phone)

	log.Info("message sent",
		zap.Uint("lead_id", lead.ID),
		zap.String("status", string(pos.Status)),
		zap.Timep("next_scheduled_at", pos.NextScheduledAt))
}

func (s *DispatchScheduler) fail(ctx context.Context, log *zap.Logger, pos *models.LeadAutomationPosition, phone string, now time.Time, cause error, report *TickReport) {
	msg := cause.Error()
	pos.Status = models.PositionStatusFailed
	pos.LastError = &msg
	pos.LastAttemptAt = &now
	report.Failed++
	dispatchOutcomesTotal.WithLabelValues(string(models.PositionStatusFailed)).Inc()
	s.persist(ctx, log, pos, phone)

	log.Warn("send failed", zap.Uint("lead_id", pos.LeadID), zap.Error(cause))
}

func (s *DispatchScheduler) rateLimit(ctx context.Context, log *zap.Logger, pos *models.LeadAutomationPosition, phone string, now time.Time, decision quota.Decision, report *TickReport) {
	pos.Status = models.PositionStatusRateLimited
	reason := decision.Reason
	pos.LastError = &reason
	report.RateLimited++
	quotaDenialsTotal.WithLabelValues(decision.Reason).Inc()
	dispatchOutcomesTotal.WithLabelValues(string(models.PositionStatusRateLimited)).Inc()
	s.persist(ctx, log, pos, phone)

	log.Info("quota exhausted",
		zap.Uint("lead_id", pos.LeadID),
		zap.String("reason", decision.Reason),
		zap.Int64("hour_count", decision.HourCount),
		zap.Int64("day_count", decision.DayCount))
}

func (s *DispatchScheduler) persist(ctx context.Context, log *zap.Logger, pos *models.LeadAutomationPosition, phone string) {
	ok, err := s.positions.SaveOutcome(ctx, pos)
	if err != nil {
		log.Error("failed to save position outcome", zap.Uint("lead_id", pos.LeadID), zap.Error(err))
		return
	}
	if !ok {
		log.Info("position moved during dispatch, outcome dropped", zap.Uint("lead_id", pos.LeadID))
		return
	}
	s.sender.Publish(ctx, pos, phone)
}
