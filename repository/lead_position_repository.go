package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
	"gorm.io/gorm"
)

// LeadPositionRepositoryImpl implements LeadPositionRepository interface.
type LeadPositionRepositoryImpl struct {
	*BaseRepository[models.LeadAutomationPosition, models.LeadPositionFilter]
}

// NewLeadPositionRepository creates a new lead position repository.
func NewLeadPositionRepository(db *gorm.DB) LeadPositionRepository {
	return &LeadPositionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.LeadAutomationPosition, models.LeadPositionFilter](db),
	}
}

func (r *LeadPositionRepositoryImpl) applyFilter(query *gorm.DB, filter models.LeadPositionFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.LeadID != nil {
		query = query.Where("lead_id = ?", *filter.LeadID)
	}
	if filter.ColumnID != nil {
		query = query.Where("column_id = ?", *filter.ColumnID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.DueBefore != nil {
		query = query.Where("next_scheduled_at IS NOT NULL AND next_scheduled_at <= ?", *filter.DueBefore)
	}
	if filter.UpdatedAfter != nil {
		query = query.Where("updated_at > ?", *filter.UpdatedAfter)
	}
	if filter.UpdatedBefore != nil {
		query = query.Where("updated_at < ?", *filter.UpdatedBefore)
	}
	return query
}

// ByFilter retrieves positions based on filter criteria.
func (r *LeadPositionRepositoryImpl) ByFilter(ctx context.Context, filter models.LeadPositionFilter, orderBy string, limit, offset int) ([]*models.LeadAutomationPosition, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.LeadAutomationPosition{}), filter)

	if orderBy == "" {
		orderBy = "id ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.LeadAutomationPosition
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns number of positions matching filter.
func (r *LeadPositionRepositoryImpl) Count(ctx context.Context, filter models.LeadPositionFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.LeadAutomationPosition{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any position matches the filter.
func (r *LeadPositionRepositoryImpl) Exists(ctx context.Context, filter models.LeadPositionFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// SaveOutcome writes the dispatch fields of a position, provided it still sits in the same
// column. Returns false when the lead was moved or removed in the meantime.
func (r *LeadPositionRepositoryImpl) SaveOutcome(ctx context.Context, position *models.LeadAutomationPosition) (bool, error) {
	res := r.getDB(ctx).Model(&models.LeadAutomationPosition{}).
		Where("id = ? AND column_id = ?", position.ID, position.ColumnID).
		Updates(map[string]any{
			"status":              position.Status,
			"next_scheduled_at":   utils.TimeToUTCPtr(position.NextScheduledAt),
			"last_sent_at":        utils.TimeToUTCPtr(position.LastSentAt),
			"last_attempt_at":     utils.TimeToUTCPtr(position.LastAttemptAt),
			"last_error":          position.LastError,
			"messages_sent_count": position.MessagesSentCount,
			"fire_count":          position.FireCount,
			"updated_at":          utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to save position outcome: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ByLeadID returns the single position of a lead, or nil.
func (r *LeadPositionRepositoryImpl) ByLeadID(ctx context.Context, leadID uint) (*models.LeadAutomationPosition, error) {
	var row models.LeadAutomationPosition
	if err := r.getDB(ctx).Where("lead_id = ?", leadID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListByColumn returns every position of a column, earliest due first.
func (r *LeadPositionRepositoryImpl) ListByColumn(ctx context.Context, columnID uint) ([]*models.LeadAutomationPosition, error) {
	return r.ByFilter(ctx, models.LeadPositionFilter{ColumnID: &columnID}, "next_scheduled_at ASC NULLS LAST, id ASC", 0, 0)
}

// ListDue returns positions of a column in one of statuses whose next fire is at or before now,
// oldest due first.
func (r *LeadPositionRepositoryImpl) ListDue(ctx context.Context, columnID uint, now time.Time, statuses []models.PositionStatus, limit int) ([]*models.LeadAutomationPosition, error) {
	filter := models.LeadPositionFilter{
		ColumnID:  &columnID,
		Statuses:  statuses,
		DueBefore: &now,
	}
	return r.ByFilter(ctx, filter, "next_scheduled_at ASC, id ASC", limit, 0)
}

// MarkDue moves due positions of a column from any of the given statuses to status, leaving the
// schedule untouched.
func (r *LeadPositionRepositoryImpl) MarkDue(ctx context.Context, columnID uint, now time.Time, from []models.PositionStatus, to models.PositionStatus) (int64, error) {
	res := r.getDB(ctx).Model(&models.LeadAutomationPosition{}).
		Where("column_id = ? AND status IN ? AND next_scheduled_at IS NOT NULL AND next_scheduled_at <= ?", columnID, from, now).
		Updates(map[string]any{"status": to, "updated_at": now.UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark due positions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ResetRetriable puts FAILED and WHATSAPP_DISCONNECTED positions matching filter back to PENDING,
// due at now.
func (r *LeadPositionRepositoryImpl) ResetRetriable(ctx context.Context, filter models.LeadPositionFilter, now time.Time) (int64, error) {
	filter.Status = nil
	filter.Statuses = models.RetriableStatuses
	query := r.applyFilter(r.getDB(ctx).Model(&models.LeadAutomationPosition{}), filter)
	res := query.Updates(map[string]any{
		"status":            models.PositionStatusPending,
		"next_scheduled_at": now.UTC(),
		"last_error":        nil,
		"updated_at":        now.UTC(),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset retriable positions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FailInterrupted moves SENDING positions whose last attempt is older than attemptedBefore to
// FAILED with reason, making them reachable by the retry operations again.
func (r *LeadPositionRepositoryImpl) FailInterrupted(ctx context.Context, attemptedBefore time.Time, reason string) (int64, error) {
	res := r.getDB(ctx).Model(&models.LeadAutomationPosition{}).
		Where("status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)", models.PositionStatusSending, attemptedBefore.UTC()).
		Updates(map[string]any{
			"status":     models.PositionStatusFailed,
			"last_error": reason,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail interrupted positions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteByLeadID removes a lead from automation. Returns false when it had no position.
func (r *LeadPositionRepositoryImpl) DeleteByLeadID(ctx context.Context, leadID uint) (bool, error) {
	res := r.getDB(ctx).Where("lead_id = ?", leadID).Delete(&models.LeadAutomationPosition{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteByColumn removes all positions of a column.
func (r *LeadPositionRepositoryImpl) DeleteByColumn(ctx context.Context, columnID uint) (int64, error) {
	res := r.getDB(ctx).Where("column_id = ?", columnID).Delete(&models.LeadAutomationPosition{})
	return res.RowsAffected, res.Error
}

// CountByStatus groups position counts by status, optionally within one column.
func (r *LeadPositionRepositoryImpl) CountByStatus(ctx context.Context, columnID *uint) (map[models.PositionStatus]int64, error) {
	var rows []struct {
		Status models.PositionStatus
		Total  int64
	}
	query := r.getDB(ctx).Model(&models.LeadAutomationPosition{}).Select("status, COUNT(*) AS total")
	if columnID != nil {
		query = query.Where("column_id = ?", *columnID)
	}
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[models.PositionStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
