package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/leadflow/models"
	"gorm.io/gorm"
)

// AutomationColumnRepositoryImpl implements AutomationColumnRepository interface.
type AutomationColumnRepositoryImpl struct {
	*BaseRepository[models.AutomationColumn, models.AutomationColumnFilter]
}

// NewAutomationColumnRepository creates a new automation column repository.
func NewAutomationColumnRepository(db *gorm.DB) AutomationColumnRepository {
	return &AutomationColumnRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AutomationColumn, models.AutomationColumnFilter](db),
	}
}

func (r *AutomationColumnRepositoryImpl) applyFilter(query *gorm.DB, filter models.AutomationColumnFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if filter.TemplateID != nil {
		query = query.Where("template_id = ?", *filter.TemplateID)
	}
	return query
}

// ByFilter retrieves columns based on filter criteria.
func (r *AutomationColumnRepositoryImpl) ByFilter(ctx context.Context, filter models.AutomationColumnFilter, orderBy string, limit, offset int) ([]*models.AutomationColumn, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.AutomationColumn{}), filter)

	if orderBy == "" {
		orderBy = "column_order ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.AutomationColumn
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns number of columns matching filter.
func (r *AutomationColumnRepositoryImpl) Count(ctx context.Context, filter models.AutomationColumnFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.AutomationColumn{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any column matches the filter.
func (r *AutomationColumnRepositoryImpl) Exists(ctx context.Context, filter models.AutomationColumnFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// Delete removes a column. Positions must have been removed first; the foreign key restricts it otherwise.
func (r *AutomationColumnRepositoryImpl) Delete(ctx context.Context, id uint) error {
	res := r.getDB(ctx).Delete(&models.AutomationColumn{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete column %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListOrdered returns columns in ascending order.
func (r *AutomationColumnRepositoryImpl) ListOrdered(ctx context.Context, activeOnly bool) ([]*models.AutomationColumn, error) {
	filter := models.AutomationColumnFilter{}
	if activeOnly {
		active := true
		filter.IsActive = &active
	}
	return r.ByFilter(ctx, filter, "column_order ASC, id ASC", 0, 0)
}

// MaxOrder returns the highest order in use, or -1 when there are no columns.
func (r *AutomationColumnRepositoryImpl) MaxOrder(ctx context.Context) (int, error) {
	var max *int
	if err := r.getDB(ctx).Model(&models.AutomationColumn{}).Select("MAX(column_order)").Scan(&max).Error; err != nil {
		return 0, err
	}
	if max == nil {
		return -1, nil
	}
	return *max, nil
}

// Reorder assigns order = index for the given ids. The rows are first moved to negative orders so
// the unique index never sees two columns sharing an order mid-update.
func (r *AutomationColumnRepositoryImpl) Reorder(ctx context.Context, orderedIDs []uint) error {
	db := r.getDB(ctx)
	for i, id := range orderedIDs {
		if err := db.Model(&models.AutomationColumn{}).Where("id = ?", id).
			Update("column_order", -(i + 1)).Error; err != nil {
			return fmt.Errorf("failed to stage column order: %w", err)
		}
	}
	for i, id := range orderedIDs {
		if err := db.Model(&models.AutomationColumn{}).Where("id = ?", id).
			Updates(map[string]any{"column_order": i, "updated_at": time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("failed to apply column order: %w", err)
		}
	}
	return nil
}

// TouchLastDispatch records when the column last handed a lead to the sender.
func (r *AutomationColumnRepositoryImpl) TouchLastDispatch(ctx context.Context, id uint, at time.Time) error {
	return r.getDB(ctx).Model(&models.AutomationColumn{}).Where("id = ?", id).
		Update("last_dispatch_at", at.UTC()).Error
}
