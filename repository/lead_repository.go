package repository

import (
	"context"
	"errors"

	"github.com/amirphl/leadflow/models"
	"gorm.io/gorm"
)

// LeadRepositoryImpl implements LeadRepository interface.
type LeadRepositoryImpl struct {
	*BaseRepository[models.Lead, struct{}]
}

// NewLeadRepository creates a new lead repository.
func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &LeadRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Lead, struct{}](db),
	}
}

// ByIDs loads leads keyed by id. Missing ids are absent from the map.
func (r *LeadRepositoryImpl) ByIDs(ctx context.Context, ids []uint) (map[uint]*models.Lead, error) {
	out := make(map[uint]*models.Lead, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*models.Lead
	if err := r.getDB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return out, nil
		}
		return nil, err
	}
	for _, l := range rows {
		out[l.ID] = l
	}
	return out, nil
}

// MessageTemplateRepositoryImpl implements MessageTemplateRepository interface.
type MessageTemplateRepositoryImpl struct {
	*BaseRepository[models.MessageTemplate, struct{}]
}

// NewMessageTemplateRepository creates a new template repository.
func NewMessageTemplateRepository(db *gorm.DB) MessageTemplateRepository {
	return &MessageTemplateRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MessageTemplate, struct{}](db),
	}
}
