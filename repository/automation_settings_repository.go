package repository

import (
	"context"
	"errors"

	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutomationSettingsRepositoryImpl implements AutomationSettingsRepository interface.
type AutomationSettingsRepositoryImpl struct {
	*BaseRepository[models.AutomationSettings, struct{}]
}

// NewAutomationSettingsRepository creates a new settings repository.
func NewAutomationSettingsRepository(db *gorm.DB) AutomationSettingsRepository {
	return &AutomationSettingsRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AutomationSettings, struct{}](db),
	}
}

// Get returns the stored settings, or the defaults when the row has not been written yet.
func (r *AutomationSettingsRepositoryImpl) Get(ctx context.Context) (*models.AutomationSettings, error) {
	var row models.AutomationSettings
	err := r.getDB(ctx).First(&row, utils.AutomationSettingsID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			def := models.DefaultAutomationSettings()
			return &def, nil
		}
		return nil, err
	}
	return &row, nil
}

// Upsert writes the singleton row.
func (r *AutomationSettingsRepositoryImpl) Upsert(ctx context.Context, settings *models.AutomationSettings) error {
	settings.ID = utils.AutomationSettingsID
	settings.UpdatedAt = utils.UTCNow()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = settings.UpdatedAt
	}
	return r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"column_interval_seconds",
			"max_messages_per_hour",
			"max_messages_per_day",
			"send_only_business_hours",
			"business_hour_start",
			"business_hour_end",
			"block_weekends",
			"timezone",
			"updated_at",
		}),
	}).Create(settings).Error
}
