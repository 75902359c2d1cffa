package businessflow

import (
	"context"

	"github.com/amirphl/leadflow/app/dto"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/repository"
	"github.com/amirphl/leadflow/utils"
	"go.uber.org/zap"
)

// RetryFlow resets failed and disconnected positions so the scheduler picks them up again.
// Positions in any other status are left as they are, which makes every operation idempotent.
type RetryFlow interface {
	RetryLead(ctx context.Context, leadID uint) (*dto.RetryResponse, error)
	RetryColumn(ctx context.Context, columnID uint) (*dto.RetryResponse, error)
	RetryAllFailed(ctx context.Context) (*dto.RetryResponse, error)
}

// RetryFlowImpl implements RetryFlow.
type RetryFlowImpl struct {
	positionRepo repository.LeadPositionRepository
	columnRepo   repository.AutomationColumnRepository
	clock        utils.Clock
	logger       *zap.Logger
}

// NewRetryFlow creates a new retry flow.
func NewRetryFlow(
	positionRepo repository.LeadPositionRepository,
	columnRepo repository.AutomationColumnRepository,
	clock utils.Clock,
	logger *zap.Logger,
) RetryFlow {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryFlowImpl{
		positionRepo: positionRepo,
		columnRepo:   columnRepo,
		clock:        clock,
		logger:       logger,
	}
}

func (f *RetryFlowImpl) RetryLead(ctx context.Context, leadID uint) (*dto.RetryResponse, error) {
	position, err := f.positionRepo.ByLeadID(ctx, leadID)
	if err != nil {
		return nil, NewBusinessError("RETRY_FAILED", "Failed to load lead position", err)
	}
	if position == nil {
		return nil, NewBusinessError("LEAD_NOT_IN_AUTOMATION", "Lead is not positioned in any column", ErrLeadNotInAutomation)
	}
	if !position.Status.Retriable() {
		return &dto.RetryResponse{Message: "Lead is not in a retriable state", Count: 0}, nil
	}
	return f.reset(ctx, models.LeadPositionFilter{LeadID: &leadID}, zap.Uint("lead_id", leadID))
}

func (f *RetryFlowImpl) RetryColumn(ctx context.Context, columnID uint) (*dto.RetryResponse, error) {
	column, err := f.columnRepo.ByID(ctx, columnID)
	if err != nil {
		return nil, NewBusinessError("RETRY_FAILED", "Failed to load automation column", err)
	}
	if column == nil {
		return nil, NewBusinessError("COLUMN_NOT_FOUND", "Automation column not found", ErrColumnNotFound)
	}
	return f.reset(ctx, models.LeadPositionFilter{ColumnID: &columnID}, zap.Uint("column_id", columnID))
}

func (f *RetryFlowImpl) RetryAllFailed(ctx context.Context) (*dto.RetryResponse, error) {
	return f.reset(ctx, models.LeadPositionFilter{}, zap.String("scope", "all"))
}

func (f *RetryFlowImpl) reset(ctx context.Context, filter models.LeadPositionFilter, scope zap.Field) (*dto.RetryResponse, error) {
	count, err := f.positionRepo.ResetRetriable(ctx, filter, f.clock.Now())
	if err != nil {
		return nil, NewBusinessError("RETRY_FAILED", "Failed to reset positions", err)
	}
	f.logger.Info("positions queued for retry", scope, zap.Int64("count", count))
	return &dto.RetryResponse{
		Message: "Positions queued for retry",
		Count:   count,
	}, nil
}
