package dto

import "time"

// RecurrenceDTO is the wire form of a column recurrence.
type RecurrenceDTO struct {
	Kind        string      `json:"kind" validate:"required,oneof=NONE DAILY WEEKLY MONTHLY CUSTOM_DATES DAYS_FROM_NOW"`
	WeekDays    []int       `json:"week_days,omitempty" validate:"omitempty,dive,min=0,max=6"`
	MonthDay    int         `json:"month_day,omitempty" validate:"omitempty,min=1,max=31"`
	Dates       []time.Time `json:"dates,omitempty"`
	DaysFromNow int         `json:"days_from_now,omitempty" validate:"omitempty,min=0"`
	Anchor      *time.Time  `json:"anchor,omitempty"`
}

// CreateColumnRequest represents payload for creating an automation column.
type CreateColumnRequest struct {
	Name                string        `json:"name" validate:"required,max=255"`
	Order               *int          `json:"order,omitempty" validate:"omitempty,min=0"`
	IsActive            *bool         `json:"is_active,omitempty"`
	SendIntervalSeconds int           `json:"send_interval_seconds" validate:"min=0"`
	Recurrence          RecurrenceDTO `json:"recurrence" validate:"required"`
	TemplateID          *uint         `json:"template_id,omitempty"`
}

// UpdateColumnRequest represents a partial column update. Nil fields are left unchanged.
type UpdateColumnRequest struct {
	Name                *string        `json:"name,omitempty" validate:"omitempty,max=255"`
	IsActive            *bool          `json:"is_active,omitempty"`
	SendIntervalSeconds *int           `json:"send_interval_seconds,omitempty" validate:"omitempty,min=0"`
	Recurrence          *RecurrenceDTO `json:"recurrence,omitempty"`
	TemplateID          *uint          `json:"template_id,omitempty"`
	ClearTemplate       bool           `json:"clear_template,omitempty"`
}

// ReorderColumnsRequest lists every column id in its new order.
type ReorderColumnsRequest struct {
	ColumnIDs []uint `json:"column_ids" validate:"required,min=1"`
}

// ColumnItem represents an automation column in responses.
type ColumnItem struct {
	ID                  uint             `json:"id"`
	Name                string           `json:"name"`
	Order               int              `json:"order"`
	IsActive            bool             `json:"is_active"`
	SendIntervalSeconds int              `json:"send_interval_seconds"`
	Recurrence          RecurrenceDTO    `json:"recurrence"`
	TemplateID          *uint            `json:"template_id,omitempty"`
	LastDispatchAt      *string          `json:"last_dispatch_at,omitempty"`
	PositionCounts      map[string]int64 `json:"position_counts,omitempty"`
	CreatedAt           string           `json:"created_at"`
	UpdatedAt           string           `json:"updated_at"`
}

// ColumnResponse wraps a single column.
type ColumnResponse struct {
	Message string     `json:"message"`
	Column  ColumnItem `json:"column"`
}

// ListColumnsResponse represents the ordered board.
type ListColumnsResponse struct {
	Message string       `json:"message"`
	Items   []ColumnItem `json:"items"`
}

// DeleteColumnResponse reports a column removal.
type DeleteColumnResponse struct {
	Message          string `json:"message"`
	ID               uint   `json:"id"`
	RemovedPositions int64  `json:"removed_positions"`
}

// MoveLeadRequest places a lead in a column.
type MoveLeadRequest struct {
	LeadID   uint `json:"lead_id" validate:"required"`
	ColumnID uint `json:"column_id" validate:"required"`
}

// PositionItem represents a lead position in responses.
type PositionItem struct {
	ID                uint    `json:"id"`
	LeadID            uint    `json:"lead_id"`
	LeadName          string  `json:"lead_name,omitempty"`
	Phone             string  `json:"phone,omitempty"`
	ColumnID          uint    `json:"column_id"`
	Status            string  `json:"status"`
	NextScheduledAt   *string `json:"next_scheduled_at,omitempty"`
	LastSentAt        *string `json:"last_sent_at,omitempty"`
	LastAttemptAt     *string `json:"last_attempt_at,omitempty"`
	LastError         *string `json:"last_error,omitempty"`
	MessagesSentCount int     `json:"messages_sent_count"`
	UpdatedAt         string  `json:"updated_at"`
}

// PositionResponse wraps a single position.
type PositionResponse struct {
	Message  string       `json:"message"`
	Position PositionItem `json:"position"`
}

// ListPositionsRequest filters positions of a column.
type ListPositionsRequest struct {
	ColumnID *uint  `query:"column_id" json:"column_id,omitempty"`
	Status   string `query:"status" json:"status,omitempty" validate:"omitempty,oneof=PENDING SENDING SENT FAILED WHATSAPP_DISCONNECTED RATE_LIMITED SCHEDULED"`
	Page     int    `query:"page" json:"page,omitempty" validate:"omitempty,min=1"`
	PageSize int    `query:"page_size" json:"page_size,omitempty" validate:"omitempty,min=1,max=500"`
}

// ListPositionsResponse represents a page of positions.
type ListPositionsResponse struct {
	Message  string         `json:"message"`
	Items    []PositionItem `json:"items"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// AutomationSettingsDTO is the wire form of the dispatch policy.
type AutomationSettingsDTO struct {
	ColumnIntervalSeconds int    `json:"column_interval_seconds"`
	MaxMessagesPerHour    int    `json:"max_messages_per_hour"`
	MaxMessagesPerDay     int    `json:"max_messages_per_day"`
	SendOnlyBusinessHours bool   `json:"send_only_business_hours"`
	BusinessHourStart     int    `json:"business_hour_start"`
	BusinessHourEnd       int    `json:"business_hour_end"`
	BlockWeekends         bool   `json:"block_weekends"`
	Timezone              string `json:"timezone"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

// UpdateAutomationSettingsRequest is a partial settings update.
type UpdateAutomationSettingsRequest struct {
	ColumnIntervalSeconds *int    `json:"column_interval_seconds,omitempty" validate:"omitempty,min=0"`
	MaxMessagesPerHour    *int    `json:"max_messages_per_hour,omitempty" validate:"omitempty,min=1"`
	MaxMessagesPerDay     *int    `json:"max_messages_per_day,omitempty" validate:"omitempty,min=1"`
	SendOnlyBusinessHours *bool   `json:"send_only_business_hours,omitempty"`
	BusinessHourStart     *int    `json:"business_hour_start,omitempty" validate:"omitempty,min=0,max=23"`
	BusinessHourEnd       *int    `json:"business_hour_end,omitempty" validate:"omitempty,min=1,max=23"`
	BlockWeekends         *bool   `json:"block_weekends,omitempty"`
	Timezone              *string `json:"timezone,omitempty" validate:"omitempty,max=64"`
}

// AutomationSettingsResponse wraps the settings.
type AutomationSettingsResponse struct {
	Message  string                `json:"message"`
	Settings AutomationSettingsDTO `json:"settings"`
}

// RetryRequest selects what to retry. At most one of LeadID and ColumnID may be given; none
// means every failed position.
type RetryRequest struct {
	LeadID   *uint `json:"lead_id,omitempty"`
	ColumnID *uint `json:"column_id,omitempty"`
}

// RetryResponse reports how many positions were reset.
type RetryResponse struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// QuotaUsageResponse reports the rolling windows.
type QuotaUsageResponse struct {
	Message    string `json:"message"`
	HourCount  int64  `json:"hour_count"`
	HourLimit  int    `json:"hour_limit"`
	DayCount   int64  `json:"day_count"`
	DayLimit   int    `json:"day_limit"`
	WindowOpen bool   `json:"window_open"`
	NextOpenAt string `json:"next_open_at,omitempty"`
}

// AccountDTO describes the paired WhatsApp account.
type AccountDTO struct {
	JID      string `json:"jid"`
	PushName string `json:"push_name,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ConnectionStatusResponse reports the connection state.
type ConnectionStatusResponse struct {
	Message     string              `json:"message"`
	State       string              `json:"state"`
	QRAvailable bool                `json:"qr_available"`
	Account     *AccountDTO         `json:"account,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Error       string              `json:"error,omitempty"`
	Recoverable bool                `json:"recoverable,omitempty"`
	Since       string              `json:"since"`
	Quota       *QuotaUsageResponse `json:"quota,omitempty"`
}

// QRCodeResponse carries the pairing code.
type QRCodeResponse struct {
	Message string `json:"message"`
	QRCode  string `json:"qr_code"`
	Attempt int    `json:"attempt"`
}

// DispatchRunResponse summarizes a manual tick.
type DispatchRunResponse struct {
	Message      string `json:"message"`
	Columns      int    `json:"columns"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
	RateLimited  int    `json:"rate_limited"`
	Disconnected int64  `json:"disconnected"`
	Skipped      int    `json:"skipped"`
	DurationMS   int64  `json:"duration_ms"`
}
