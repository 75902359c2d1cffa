package models

import (
	"time"

	"github.com/amirphl/leadflow/utils"
	"gorm.io/gorm"
)

// AutomationColumn is an ordered stage of the automation board. Leads positioned in an
// active column receive the column's template whenever its recurrence fires.
type AutomationColumn struct {
	ID                  uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                string         `gorm:"type:varchar(255);not null" json:"name"`
	Order               int            `gorm:"column:column_order;not null;uniqueIndex:uk_automation_columns_order" json:"order"`
	IsActive            bool           `gorm:"not null;default:true;index" json:"is_active"`
	SendIntervalSeconds int            `gorm:"not null;default:0" json:"send_interval_seconds"`
	Recurrence          RecurrenceSpec `gorm:"type:jsonb;not null" json:"recurrence"`
	TemplateID          *uint          `gorm:"index" json:"template_id,omitempty"`
	LastDispatchAt      *time.Time     `json:"last_dispatch_at,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Template *MessageTemplate `gorm:"foreignKey:TemplateID;references:ID;constraint:OnDelete:SET NULL" json:"template,omitempty"`
}

func (AutomationColumn) TableName() string { return "automation_columns" }

// BeforeCreate ensures timestamps are set.
func (c *AutomationColumn) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// EffectiveInterval is the spacing enforced between two dispatches of this column: the larger
// of the column's own interval and the global floor.
func (c AutomationColumn) EffectiveInterval(globalFloorSeconds int) time.Duration {
	secs := c.SendIntervalSeconds
	if globalFloorSeconds > secs {
		secs = globalFloorSeconds
	}
	return time.Duration(secs) * time.Second
}

// AutomationColumnFilter represents filter criteria for automation column queries.
type AutomationColumnFilter struct {
	ID         *uint `json:"id,omitempty"`
	IsActive   *bool `json:"is_active,omitempty"`
	TemplateID *uint `json:"template_id,omitempty"`
}
