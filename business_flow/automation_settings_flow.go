package businessflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/amirphl/leadflow/app/dto"
	"github.com/amirphl/leadflow/app/guard"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/repository"
	"github.com/amirphl/leadflow/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AutomationSettingsFlow reads and writes the process-wide dispatch policy.
type AutomationSettingsFlow interface {
	// Current returns the settings in effect. The scheduler calls it once per tick.
	Current(ctx context.Context) (models.AutomationSettings, error)
	GetSettings(ctx context.Context) (*dto.AutomationSettingsResponse, error)
	UpdateSettings(ctx context.Context, req *dto.UpdateAutomationSettingsRequest) (*dto.AutomationSettingsResponse, error)
}

// AutomationSettingsFlowImpl implements AutomationSettingsFlow.
type AutomationSettingsFlowImpl struct {
	settingsRepo repository.AutomationSettingsRepository
	rc           redis.UniversalClient
	cacheKey     string
	logger       *zap.Logger
}

// NewAutomationSettingsFlow creates a new settings flow. rc may be nil, in which case every
// read goes to the database.
func NewAutomationSettingsFlow(
	settingsRepo repository.AutomationSettingsRepository,
	rc redis.UniversalClient,
	cachePrefix string,
	logger *zap.Logger,
) AutomationSettingsFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutomationSettingsFlowImpl{
		settingsRepo: settingsRepo,
		rc:           rc,
		cacheKey:     redisKey(cachePrefix, SettingsCacheKey),
		logger:       logger,
	}
}

func (f *AutomationSettingsFlowImpl) Current(ctx context.Context) (models.AutomationSettings, error) {
	if f.rc != nil {
		if bs, err := f.rc.Get(ctx, f.cacheKey).Bytes(); err == nil && len(bs) > 0 {
			var cached models.AutomationSettings
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		} else if err != nil && !errors.Is(err, redis.Nil) {
			f.logger.Warn("settings cache read failed", zap.Error(err))
		}
	}

	row, err := f.settingsRepo.Get(ctx)
	if err != nil {
		return models.AutomationSettings{}, err
	}

	if f.rc != nil {
		if bs, err := json.Marshal(row); err == nil {
			_ = f.rc.Set(ctx, f.cacheKey, bs, utils.SettingsCacheTTL).Err()
		}
	}
	return *row, nil
}

func (f *AutomationSettingsFlowImpl) GetSettings(ctx context.Context) (*dto.AutomationSettingsResponse, error) {
	s, err := f.Current(ctx)
	if err != nil {
		return nil, NewBusinessError("GET_SETTINGS_FAILED", "Failed to load automation settings", err)
	}
	return &dto.AutomationSettingsResponse{
		Message:  "Automation settings retrieved",
		Settings: toSettingsDTO(s),
	}, nil
}

func (f *AutomationSettingsFlowImpl) UpdateSettings(ctx context.Context, req *dto.UpdateAutomationSettingsRequest) (*dto.AutomationSettingsResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}

	current, err := f.settingsRepo.Get(ctx)
	if err != nil {
		return nil, NewBusinessError("GET_SETTINGS_FAILED", "Failed to load automation settings", err)
	}
	next := *current

	if req.ColumnIntervalSeconds != nil {
		next.ColumnIntervalSeconds = *req.ColumnIntervalSeconds
	}
	if req.MaxMessagesPerHour != nil {
		next.MaxMessagesPerHour = *req.MaxMessagesPerHour
	}
	if req.MaxMessagesPerDay != nil {
		next.MaxMessagesPerDay = *req.MaxMessagesPerDay
	}
	if req.SendOnlyBusinessHours != nil {
		next.SendOnlyBusinessHours = *req.SendOnlyBusinessHours
	}
	if req.BusinessHourStart != nil {
		next.BusinessHourStart = *req.BusinessHourStart
	}
	if req.BusinessHourEnd != nil {
		next.BusinessHourEnd = *req.BusinessHourEnd
	}
	if req.BlockWeekends != nil {
		next.BlockWeekends = *req.BlockWeekends
	}
	if req.Timezone != nil {
		next.Timezone = *req.Timezone
	}

	if err := validateSettings(next); err != nil {
		return nil, err
	}

	if err := f.settingsRepo.Upsert(ctx, &next); err != nil {
		return nil, NewBusinessError("UPDATE_SETTINGS_FAILED", "Failed to save automation settings", err)
	}
	f.invalidate(ctx)

	f.logger.Info("automation settings updated",
		zap.Int("column_interval_seconds", next.ColumnIntervalSeconds),
		zap.Int("max_per_hour", next.MaxMessagesPerHour),
		zap.Int("max_per_day", next.MaxMessagesPerDay),
		zap.Bool("business_hours_only", next.SendOnlyBusinessHours),
		zap.String("timezone", next.Timezone),
	)

	return &dto.AutomationSettingsResponse{
		Message:  "Automation settings updated successfully",
		Settings: toSettingsDTO(next),
	}, nil
}

func (f *AutomationSettingsFlowImpl) invalidate(ctx context.Context) {
	if f.rc == nil {
		return
	}
	if err := f.rc.Del(ctx, f.cacheKey).Err(); err != nil {
		f.logger.Warn("settings cache invalidation failed", zap.Error(err))
	}
}

func validateSettings(s models.AutomationSettings) error {
	if s.MaxMessagesPerHour <= 0 || s.MaxMessagesPerDay <= 0 {
		return NewBusinessError("INVALID_QUOTA", "Message caps must be positive", ErrInvalidQuota)
	}
	if s.ColumnIntervalSeconds < 0 {
		return NewBusinessError("INVALID_INTERVAL", "Column interval must not be negative", ErrInvalidInterval)
	}
	if err := guard.ValidateWindow(s); err != nil {
		if errors.Is(err, guard.ErrUnknownTimezone) {
			return NewBusinessError("INVALID_TIMEZONE", "Unknown timezone", errors.Join(ErrInvalidTimezone, err))
		}
		return NewBusinessError("INVALID_BUSINESS_HOURS", "Business hours are invalid", errors.Join(ErrInvalidBusinessHours, err))
	}
	return nil
}
