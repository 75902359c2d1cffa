package businessflow

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/leadflow/app/dto"
	"github.com/amirphl/leadflow/app/guard"
	"github.com/amirphl/leadflow/app/quota"
	"github.com/amirphl/leadflow/app/scheduler"
	"github.com/amirphl/leadflow/utils"
	"go.uber.org/zap"
)

// DispatchRunner runs a single scheduler pass on demand.
type DispatchRunner interface {
	RunOnce(ctx context.Context) (scheduler.TickReport, error)
}

// DispatchFlow exposes manual dispatch and quota inspection to operators.
type DispatchFlow interface {
	RunNow(ctx context.Context) (*dto.DispatchRunResponse, error)
	QuotaUsage(ctx context.Context) (*dto.QuotaUsageResponse, error)
}

// DispatchFlowImpl implements DispatchFlow.
type DispatchFlowImpl struct {
	runner   DispatchRunner
	tracker  quota.Tracker
	settings AutomationSettingsFlow
	clock    utils.Clock
	logger   *zap.Logger
}

// NewDispatchFlow creates a new dispatch flow.
func NewDispatchFlow(
	runner DispatchRunner,
	tracker quota.Tracker,
	settings AutomationSettingsFlow,
	clock utils.Clock,
	logger *zap.Logger,
) DispatchFlow {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchFlowImpl{
		runner:   runner,
		tracker:  tracker,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
}

// RunNow triggers a tick outside the timer. It waits for an in-flight tick to finish first.
func (f *DispatchFlowImpl) RunNow(ctx context.Context) (*dto.DispatchRunResponse, error) {
	if f.runner == nil {
		return nil, NewBusinessError("SCHEDULER_DISABLED", "Dispatch scheduler is not running", errors.New("no dispatch runner configured"))
	}
	report, err := f.runner.RunOnce(ctx)
	if err != nil {
		f.logger.Error("Manual dispatch failed", zap.Error(err))
		return nil, NewBusinessError("DISPATCH_FAILED", "Dispatch run failed", err)
	}

	f.logger.Info("Manual dispatch completed",
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("rate_limited", report.RateLimited))

	return &dto.DispatchRunResponse{
		Message:      "Dispatch run completed",
		Columns:      report.Columns,
		Sent:         report.Sent,
		Failed:       report.Failed,
		RateLimited:  report.RateLimited,
		Disconnected: report.Disconnected,
		Skipped:      report.Skipped,
		DurationMS:   report.Duration.Milliseconds(),
	}, nil
}

func (f *DispatchFlowImpl) QuotaUsage(ctx context.Context) (*dto.QuotaUsageResponse, error) {
	resp, err := buildQuotaUsage(ctx, f.tracker, f.settings, f.clock.Now())
	if err != nil {
		return nil, err
	}
	resp.Message = "Quota usage retrieved successfully"
	return resp, nil
}

func buildQuotaUsage(ctx context.Context, tracker quota.Tracker, settingsFlow AutomationSettingsFlow, now time.Time) (*dto.QuotaUsageResponse, error) {
	settings, err := settingsFlow.Current(ctx)
	if err != nil {
		return nil, NewBusinessError("SETTINGS_LOAD_FAILED", "Failed to load automation settings", err)
	}
	usage, err := tracker.Usage(ctx, now)
	if err != nil {
		return nil, NewBusinessError("QUOTA_LOAD_FAILED", "Failed to read quota usage", err)
	}

	resp := &dto.QuotaUsageResponse{
		HourCount:  usage.HourCount,
		HourLimit:  settings.MaxMessagesPerHour,
		DayCount:   usage.DayCount,
		DayLimit:   settings.MaxMessagesPerDay,
		WindowOpen: guard.IsAllowed(now, settings),
	}
	if !resp.WindowOpen {
		resp.NextOpenAt = formatTime(guard.NextOpening(now, settings))
	}
	return resp, nil
}
