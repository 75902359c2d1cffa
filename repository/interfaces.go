// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/leadflow/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// AutomationColumnRepository defines operations for automation columns
type AutomationColumnRepository interface {
	Repository[models.AutomationColumn, models.AutomationColumnFilter]
	Update(ctx context.Context, column *models.AutomationColumn) error
	Delete(ctx context.Context, id uint) error
	ListOrdered(ctx context.Context, activeOnly bool) ([]*models.AutomationColumn, error)
	MaxOrder(ctx context.Context) (int, error)
	Reorder(ctx context.Context, orderedIDs []uint) error
	TouchLastDispatch(ctx context.Context, id uint, at time.Time) error
}

// LeadPositionRepository defines operations for lead automation positions
type LeadPositionRepository interface {
	Repository[models.LeadAutomationPosition, models.LeadPositionFilter]
	Update(ctx context.Context, position *models.LeadAutomationPosition) error
	SaveOutcome(ctx context.Context, position *models.LeadAutomationPosition) (bool, error)
	ByLeadID(ctx context.Context, leadID uint) (*models.LeadAutomationPosition, error)
	ListByColumn(ctx context.Context, columnID uint) ([]*models.LeadAutomationPosition, error)
	ListDue(ctx context.Context, columnID uint, now time.Time, statuses []models.PositionStatus, limit int) ([]*models.LeadAutomationPosition, error)
	MarkDue(ctx context.Context, columnID uint, now time.Time, from []models.PositionStatus, to models.PositionStatus) (int64, error)
	ResetRetriable(ctx context.Context, filter models.LeadPositionFilter, now time.Time) (int64, error)
	FailInterrupted(ctx context.Context, attemptedBefore time.Time, reason string) (int64, error)
	DeleteByLeadID(ctx context.Context, leadID uint) (bool, error)
	DeleteByColumn(ctx context.Context, columnID uint) (int64, error)
	CountByStatus(ctx context.Context, columnID *uint) (map[models.PositionStatus]int64, error)
}

// AutomationSettingsRepository defines operations for the singleton settings row
type AutomationSettingsRepository interface {
	Get(ctx context.Context) (*models.AutomationSettings, error)
	Upsert(ctx context.Context, settings *models.AutomationSettings) error
}

// SentMessageRepository defines operations for the quota ledger
type SentMessageRepository interface {
	Repository[models.SentMessage, models.SentMessageFilter]
	CountReservedSince(ctx context.Context, since time.Time) (int64, error)
	ReservedTimesSince(ctx context.Context, since time.Time) ([]time.Time, error)
	MarkOutcome(ctx context.Context, id uint, outcome models.SentMessageOutcome, errMsg *string) error
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// LeadRepository defines read access to CRM leads
type LeadRepository interface {
	ByID(ctx context.Context, id uint) (*models.Lead, error)
	ByIDs(ctx context.Context, ids []uint) (map[uint]*models.Lead, error)
}

// MessageTemplateRepository defines read access to message templates
type MessageTemplateRepository interface {
	ByID(ctx context.Context, id uint) (*models.MessageTemplate, error)
}
