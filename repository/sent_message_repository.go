package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
	"gorm.io/gorm"
)

// SentMessageRepositoryImpl implements SentMessageRepository interface.
type SentMessageRepositoryImpl struct {
	*BaseRepository[models.SentMessage, models.SentMessageFilter]
}

// NewSentMessageRepository creates a new quota ledger repository.
func NewSentMessageRepository(db *gorm.DB) SentMessageRepository {
	return &SentMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SentMessage, models.SentMessageFilter](db),
	}
}

func (r *SentMessageRepositoryImpl) applyFilter(query *gorm.DB, filter models.SentMessageFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.LeadID != nil {
		query = query.Where("lead_id = ?", *filter.LeadID)
	}
	if filter.ColumnID != nil {
		query = query.Where("column_id = ?", *filter.ColumnID)
	}
	if filter.Outcome != nil {
		query = query.Where("outcome = ?", *filter.Outcome)
	}
	if filter.ReservedAfter != nil {
		query = query.Where("reserved_at > ?", *filter.ReservedAfter)
	}
	if filter.ReservedBefore != nil {
		query = query.Where("reserved_at < ?", *filter.ReservedBefore)
	}
	return query
}

func (r *SentMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.SentMessageFilter, orderBy string, limit, offset int) ([]*models.SentMessage, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.SentMessage{}), filter)
	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.SentMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SentMessageRepositoryImpl) Count(ctx context.Context, filter models.SentMessageFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.SentMessage{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SentMessageRepositoryImpl) Exists(ctx context.Context, filter models.SentMessageFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// CountReservedSince counts reservations strictly after since.
func (r *SentMessageRepositoryImpl) CountReservedSince(ctx context.Context, since time.Time) (int64, error) {
	s := since.UTC()
	return r.Count(ctx, models.SentMessageFilter{ReservedAfter: &s})
}

// ReservedTimesSince lists reservation instants strictly after since.
func (r *SentMessageRepositoryImpl) ReservedTimesSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	var out []time.Time
	err := r.getDB(ctx).Model(&models.SentMessage{}).
		Where("reserved_at > ?", since.UTC()).
		Order("reserved_at ASC").
		Pluck("reserved_at", &out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation times: %w", err)
	}
	return out, nil
}

// MarkOutcome records the delivery result of a reservation.
func (r *SentMessageRepositoryImpl) MarkOutcome(ctx context.Context, id uint, outcome models.SentMessageOutcome, errMsg *string) error {
	return r.getDB(ctx).Model(&models.SentMessage{}).Where("id = ?", id).
		Updates(map[string]any{"outcome": outcome, "error": errMsg, "updated_at": utils.UTCNow()}).Error
}

// PruneBefore deletes ledger rows reserved before the cutoff.
func (r *SentMessageRepositoryImpl) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.getDB(ctx).Where("reserved_at < ?", before.UTC()).Delete(&models.SentMessage{})
	return res.RowsAffected, res.Error
}
