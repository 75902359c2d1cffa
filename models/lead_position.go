package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/leadflow/utils"
	"gorm.io/gorm"
)

// PositionStatus is the send-status lifecycle of a lead inside its column.
type PositionStatus string

const (
	PositionStatusPending              PositionStatus = "PENDING"
	PositionStatusSending              PositionStatus = "SENDING"
	PositionStatusSent                 PositionStatus = "SENT"
	PositionStatusFailed               PositionStatus = "FAILED"
	PositionStatusWhatsAppDisconnected PositionStatus = "WHATSAPP_DISCONNECTED"
	PositionStatusRateLimited          PositionStatus = "RATE_LIMITED"
	PositionStatusScheduled            PositionStatus = "SCHEDULED"
)

// Valid checks if the status is valid.
func (s PositionStatus) Valid() bool {
	switch s {
	case PositionStatusPending,
		PositionStatusSending,
		PositionStatusSent,
		PositionStatusFailed,
		PositionStatusWhatsAppDisconnected,
		PositionStatusRateLimited,
		PositionStatusScheduled:
		return true
	default:
		return false
	}
}

// Retriable reports whether the retry operations may reset this status.
func (s PositionStatus) Retriable() bool {
	return s == PositionStatusFailed || s == PositionStatusWhatsAppDisconnected
}

// Dispatchable reports whether a due position in this status may be picked by a tick.
func (s PositionStatus) Dispatchable() bool {
	switch s {
	case PositionStatusPending,
		PositionStatusScheduled,
		PositionStatusRateLimited,
		PositionStatusWhatsAppDisconnected:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for PositionStatus.
func (s *PositionStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = PositionStatus(v)
	case []byte:
		*s = PositionStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into PositionStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for PositionStatus.
func (s PositionStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid PositionStatus: %s", s)
	}
	return string(s), nil
}

// DispatchableStatuses lists every status a tick selects when the position is due.
var DispatchableStatuses = []PositionStatus{
	PositionStatusPending,
	PositionStatusScheduled,
	PositionStatusRateLimited,
	PositionStatusWhatsAppDisconnected,
}

// RetriableStatuses lists the statuses the retry operations reset.
var RetriableStatuses = []PositionStatus{
	PositionStatusFailed,
	PositionStatusWhatsAppDisconnected,
}

// LeadAutomationPosition places one lead in exactly one column.
type LeadAutomationPosition struct {
	ID                uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	LeadID            uint           `gorm:"not null;uniqueIndex:uk_lead_automation_positions_lead" json:"lead_id"`
	ColumnID          uint           `gorm:"not null;index:idx_lead_positions_column_due,priority:1" json:"column_id"`
	Status            PositionStatus `gorm:"type:varchar(32);not null;default:'PENDING';index" json:"status"`
	NextScheduledAt   *time.Time     `gorm:"index:idx_lead_positions_column_due,priority:2" json:"next_scheduled_at,omitempty"`
	LastSentAt        *time.Time     `json:"last_sent_at,omitempty"`
	LastAttemptAt     *time.Time     `json:"last_attempt_at,omitempty"`
	LastError         *string        `gorm:"type:text" json:"last_error,omitempty"`
	MessagesSentCount int            `gorm:"not null;default:0" json:"messages_sent_count"`
	FireCount         int            `gorm:"not null;default:0" json:"fire_count"`
	CreatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Column *AutomationColumn `gorm:"foreignKey:ColumnID;references:ID;constraint:OnDelete:RESTRICT" json:"column,omitempty"`
	Lead   *Lead             `gorm:"foreignKey:LeadID;references:ID;constraint:OnDelete:CASCADE" json:"lead,omitempty"`
}

func (LeadAutomationPosition) TableName() string { return "lead_automation_positions" }

// BeforeCreate ensures timestamps are set.
func (p *LeadAutomationPosition) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = utils.UTCNow()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// IsDue reports whether the position is selectable at now.
func (p LeadAutomationPosition) IsDue(now time.Time) bool {
	return p.Status.Dispatchable() && p.NextScheduledAt != nil && !p.NextScheduledAt.After(now)
}

// LeadPositionFilter represents filter criteria for lead position queries.
type LeadPositionFilter struct {
	ID            *uint            `json:"id,omitempty"`
	LeadID        *uint            `json:"lead_id,omitempty"`
	ColumnID      *uint            `json:"column_id,omitempty"`
	Status        *PositionStatus  `json:"status,omitempty"`
	Statuses      []PositionStatus `json:"statuses,omitempty"`
	DueBefore     *time.Time       `json:"due_before,omitempty"`
	UpdatedAfter  *time.Time       `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time       `json:"updated_before,omitempty"`
}
