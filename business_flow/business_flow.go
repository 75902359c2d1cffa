// Package businessflow contains the automation use cases exposed to the admin API.
package businessflow

import (
	"time"

	"github.com/amirphl/leadflow/app/dto"
	"github.com/amirphl/leadflow/models"
)

// Cache keys, relative to the configured redis prefix
const (
	SettingsCacheKey = "automation:settings"
)

func redisKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toRecurrenceDTO(spec models.RecurrenceSpec) dto.RecurrenceDTO {
	out := dto.RecurrenceDTO{
		Kind:        string(spec.Kind),
		WeekDays:    spec.WeekDays,
		MonthDay:    spec.MonthDay,
		Dates:       spec.Dates,
		DaysFromNow: spec.DaysFromNow,
	}
	if !spec.Anchor.IsZero() {
		anchor := spec.Anchor.UTC()
		out.Anchor = &anchor
	}
	return out
}

// fromRecurrenceDTO builds a normalized spec. A missing anchor defaults to now.
func fromRecurrenceDTO(in dto.RecurrenceDTO, now time.Time) models.RecurrenceSpec {
	spec := models.RecurrenceSpec{
		Kind:        models.RecurrenceKind(in.Kind),
		WeekDays:    in.WeekDays,
		MonthDay:    in.MonthDay,
		Dates:       in.Dates,
		DaysFromNow: in.DaysFromNow,
		Anchor:      now.UTC(),
	}
	if in.Anchor != nil && !in.Anchor.IsZero() {
		spec.Anchor = in.Anchor.UTC()
	}
	return spec.Normalize()
}

func toColumnItem(c *models.AutomationColumn, counts map[models.PositionStatus]int64) dto.ColumnItem {
	item := dto.ColumnItem{
		ID:                  c.ID,
		Name:                c.Name,
		Order:               c.Order,
		IsActive:            c.IsActive,
		SendIntervalSeconds: c.SendIntervalSeconds,
		Recurrence:          toRecurrenceDTO(c.Recurrence),
		TemplateID:          c.TemplateID,
		LastDispatchAt:      formatTimePtr(c.LastDispatchAt),
		CreatedAt:           formatTime(c.CreatedAt),
		UpdatedAt:           formatTime(c.UpdatedAt),
	}
	if len(counts) > 0 {
		item.PositionCounts = make(map[string]int64, len(counts))
		for status, n := range counts {
			item.PositionCounts[string(status)] = n
		}
	}
	return item
}

func toPositionItem(p *models.LeadAutomationPosition, lead *models.Lead) dto.PositionItem {
	item := dto.PositionItem{
		ID:                p.ID,
		LeadID:            p.LeadID,
		ColumnID:          p.ColumnID,
		Status:            string(p.Status),
		NextScheduledAt:   formatTimePtr(p.NextScheduledAt),
		LastSentAt:        formatTimePtr(p.LastSentAt),
		LastAttemptAt:     formatTimePtr(p.LastAttemptAt),
		LastError:         p.LastError,
		MessagesSentCount: p.MessagesSentCount,
		UpdatedAt:         formatTime(p.UpdatedAt),
	}
	if lead != nil {
		item.LeadName = lead.Name
		item.Phone = lead.Phone
	}
	return item
}

func toSettingsDTO(s models.AutomationSettings) dto.AutomationSettingsDTO {
	out := dto.AutomationSettingsDTO{
		ColumnIntervalSeconds: s.ColumnIntervalSeconds,
		MaxMessagesPerHour:    s.MaxMessagesPerHour,
		MaxMessagesPerDay:     s.MaxMessagesPerDay,
		SendOnlyBusinessHours: s.SendOnlyBusinessHours,
		BusinessHourStart:     s.BusinessHourStart,
		BusinessHourEnd:       s.BusinessHourEnd,
		BlockWeekends:         s.BlockWeekends,
		Timezone:              s.Timezone,
	}
	if !s.UpdatedAt.IsZero() {
		out.UpdatedAt = formatTime(s.UpdatedAt)
	}
	return out
}
