package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/leadflow/app/services"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
	"go.uber.org/zap"
)

var (
	ErrSendTimeout = errors.New("send timeout")
	ErrNoTemplate  = errors.New("column has no message template")
)

// defaultDrainTimeout is how long a timed out send keeps the executor busy waiting for the
// transport call to return.
const defaultDrainTimeout = 10 * time.Second

// Transport delivers a rendered message to a phone number. SendMessage is expected to return
// once ctx is done; a call that outlives it still blocks the next send for up to the drain
// timeout.
type Transport interface {
	SendMessage(ctx context.Context, phone, body string) error
}

// TemplateSource resolves message templates by id.
type TemplateSource interface {
	ByID(ctx context.Context, id uint) (*models.MessageTemplate, error)
}

// OutcomeLedger records the delivery outcome of a quota reservation.
type OutcomeLedger interface {
	MarkOutcome(ctx context.Context, id uint, outcome models.SentMessageOutcome, errMsg *string) error
}

// SendJob is one granted delivery.
type SendJob struct {
	Position      *models.LeadAutomationPosition
	Lead          *models.Lead
	Column        *models.AutomationColumn
	ReservationID uint
}

// SendExecutor performs deliveries one at a time over the single transport session.
type SendExecutor struct {
	mu        sync.Mutex
	transport Transport
	templates TemplateSource
	ledger    OutcomeLedger
	publisher services.EventPublisher
	timeout   time.Duration
	drain     time.Duration
	clock     utils.Clock
	logger    *zap.Logger
}

// NewSendExecutor creates an executor. ledger and publisher may be nil.
func NewSendExecutor(
	transport Transport,
	templates TemplateSource,
	ledger OutcomeLedger,
	publisher services.EventPublisher,
	timeout time.Duration,
	clock utils.Clock,
	logger *zap.Logger,
) *SendExecutor {
	if timeout <= 0 {
		timeout = utils.DefaultSendTimeout
	}
	if publisher == nil {
		publisher = services.NoopPublisher{}
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendExecutor{
		transport: transport,
		templates: templates,
		ledger:    ledger,
		publisher: publisher,
		timeout:   timeout,
		drain:     defaultDrainTimeout,
		clock:     clock,
		logger:    logger,
	}
}

// Send renders the column template for the lead and delivers it. The ledger row of the
// reservation is updated with the outcome either way.
func (e *SendExecutor) Send(ctx context.Context, job SendJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.deliver(ctx, job)

	outcome := models.SentMessageOutcomeSent
	var errMsg *string
	if err != nil {
		outcome = models.SentMessageOutcomeFailed
		msg := err.Error()
		errMsg = &msg
	}
	e.markOutcome(ctx, job.ReservationID, outcome, errMsg)
	return err
}

// Timeout is the bound of a single transport send.
func (e *SendExecutor) Timeout() time.Duration {
	return e.timeout
}

// Release closes the ledger row of a reservation that was granted but never sent.
func (e *SendExecutor) Release(ctx context.Context, reservationID uint, cause error) {
	msg := cause.Error()
	e.markOutcome(ctx, reservationID, models.SentMessageOutcomeFailed, &msg)
}

func (e *SendExecutor) markOutcome(ctx context.Context, reservationID uint, outcome models.SentMessageOutcome, errMsg *string) {
	if e.ledger == nil || reservationID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.drain)
	defer cancel()
	if err := e.ledger.MarkOutcome(ctx, reservationID, outcome, errMsg); err != nil {
		e.logger.Warn("failed to record send outcome",
			zap.Uint("reservation_id", reservationID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}
}

func (e *SendExecutor) deliver(ctx context.Context, job SendJob) error {
	if job.Column == nil || job.Column.TemplateID == nil {
		return ErrNoTemplate
	}
	tpl, err := e.templates.ByID(ctx, *job.Column.TemplateID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	if tpl == nil {
		return ErrNoTemplate
	}
	body := services.RenderTemplate(tpl.Body, job.Lead.TemplateData())

	sendCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- e.transport.SendMessage(sendCtx, job.Lead.Phone, body)
	}()

	select {
	case err = <-done:
	case <-sendCtx.Done():
		err = sendCtx.Err()
		e.awaitTransport(done, job.Lead.Phone)
	}
	sendDuration.Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		return ErrSendTimeout
	}
	return err
}

// awaitTransport keeps the send slot until an abandoned transport call returns, so two sends
// never overlap on the session.
func (e *SendExecutor) awaitTransport(done <-chan error, phone string) {
	timer := time.NewTimer(e.drain)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.logger.Error("transport ignored send deadline",
			zap.String("phone", phone),
			zap.Duration("waited", e.drain))
	}
}

// Publish emits the dispatch event of a position after its outcome has been persisted.
// Broker failures are logged and never change the outcome.
func (e *SendExecutor) Publish(ctx context.Context, pos *models.LeadAutomationPosition, phone string) {
	ev := services.DispatchEvent{
		PositionID: pos.ID,
		LeadID:     pos.LeadID,
		ColumnID:   pos.ColumnID,
		Phone:      phone,
		Status:     string(pos.Status),
		OccurredAt: e.clock.Now(),
	}
	if pos.LastError != nil {
		ev.Error = *pos.LastError
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to publish dispatch event",
			zap.Uint("lead_id", pos.LeadID),
			zap.String("status", ev.Status),
			zap.Error(err))
	}
}
