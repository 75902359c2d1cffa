package models

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the automation schema. Parents come before the tables that
// reference them.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Lead{},
		&MessageTemplate{},
		&AutomationColumn{},
		&LeadAutomationPosition{},
		&AutomationSettings{},
		&SentMessage{},
	); err != nil {
		return fmt.Errorf("failed to migrate automation schema: %w", err)
	}
	return nil
}
