package models

import "time"

// SentMessageOutcome tracks what happened to a reserved send.
type SentMessageOutcome string

const (
	SentMessageOutcomeReserved SentMessageOutcome = "RESERVED"
	SentMessageOutcomeSent     SentMessageOutcome = "SENT"
	SentMessageOutcomeFailed   SentMessageOutcome = "FAILED"
)

// SentMessage is one row of the quota ledger. A row is written for every granted reservation,
// so failed deliveries keep consuming quota.
type SentMessage struct {
	ID         uint               `gorm:"primaryKey" json:"id"`
	LeadID     uint               `gorm:"not null;index:idx_sent_messages_lead_id" json:"lead_id"`
	ColumnID   uint               `gorm:"not null;index:idx_sent_messages_column_id" json:"column_id"`
	Phone      string             `gorm:"size:32" json:"phone"`
	Outcome    SentMessageOutcome `gorm:"type:varchar(16);not null;default:'RESERVED'" json:"outcome"`
	Error      *string            `gorm:"type:text" json:"error,omitempty"`
	ReservedAt time.Time          `gorm:"not null;index:idx_sent_messages_reserved_at" json:"reserved_at"`
	UpdatedAt  time.Time          `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (SentMessage) TableName() string { return "sent_messages" }

// SentMessageFilter provides filter fields for repository queries
type SentMessageFilter struct {
	ID             *uint
	LeadID         *uint
	ColumnID       *uint
	Outcome        *SentMessageOutcome
	ReservedAfter  *time.Time
	ReservedBefore *time.Time
}
