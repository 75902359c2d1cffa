package models

import (
	"time"
)

// AutomationSettings holds the process-wide dispatch policy. A single row (id=1) exists.
type AutomationSettings struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	ColumnIntervalSeconds int       `gorm:"not null;default:60" json:"column_interval_seconds"`
	MaxMessagesPerHour    int       `gorm:"not null;default:30" json:"max_messages_per_hour"`
	MaxMessagesPerDay     int       `gorm:"not null;default:200" json:"max_messages_per_day"`
	SendOnlyBusinessHours bool      `gorm:"not null;default:true" json:"send_only_business_hours"`
	BusinessHourStart     int       `gorm:"not null;default:9" json:"business_hour_start"`
	BusinessHourEnd       int       `gorm:"not null;default:18" json:"business_hour_end"`
	BlockWeekends         bool      `gorm:"not null;default:true" json:"block_weekends"`
	Timezone              string    `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`
	CreatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (AutomationSettings) TableName() string { return "automation_settings" }

// DefaultAutomationSettings returns the settings used when no row has been stored yet.
func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		ID:                    1,
		ColumnIntervalSeconds: 60,
		MaxMessagesPerHour:    30,
		MaxMessagesPerDay:     200,
		SendOnlyBusinessHours: true,
		BusinessHourStart:     9,
		BusinessHourEnd:       18,
		BlockWeekends:         true,
		Timezone:              "UTC",
	}
}

// Location resolves the configured timezone, or UTC when it cannot be loaded.
func (s AutomationSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
