package businessflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/leadflow/app/dto"
	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedSettingsFlow(t *testing.T) (businessflow.AutomationSettingsFlow, *fakeSettingsRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	repo := &fakeSettingsRepo{}
	return businessflow.NewAutomationSettingsFlow(repo, rc, "leadflow", nil), repo, mr
}

func TestAutomationSettingsFlow_CurrentIsCached(t *testing.T) {
	flow, repo, mr := newCachedSettingsFlow(t)
	ctx := context.Background()

	first, err := flow.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, first.MaxMessagesPerHour)

	second, err := flow.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.MaxMessagesPerHour, second.MaxMessagesPerHour)
	assert.Equal(t, 1, repo.gets)
	assert.True(t, mr.Exists("leadflow:"+businessflow.SettingsCacheKey))
}

func TestAutomationSettingsFlow_UpdateInvalidatesCache(t *testing.T) {
	flow, repo, mr := newCachedSettingsFlow(t)
	ctx := context.Background()

	_, err := flow.Current(ctx)
	require.NoError(t, err)

	perHour := 10
	tz := "Asia/Tehran"
	resp, err := flow.UpdateSettings(ctx, &dto.UpdateAutomationSettingsRequest{
		MaxMessagesPerHour: &perHour,
		Timezone:           &tz,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.Settings.MaxMessagesPerHour)
	assert.Equal(t, "Asia/Tehran", resp.Settings.Timezone)
	assert.False(t, mr.Exists("leadflow:"+businessflow.SettingsCacheKey))

	current, err := flow.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, current.MaxMessagesPerHour)
	assert.Equal(t, 200, current.MaxMessagesPerDay)
	assert.Equal(t, 3, repo.gets)
}

func TestAutomationSettingsFlow_WithoutCache(t *testing.T) {
	repo := &fakeSettingsRepo{}
	flow := businessflow.NewAutomationSettingsFlow(repo, nil, "", nil)

	for i := 0; i < 3; i++ {
		_, err := flow.Current(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, repo.gets)
}

func TestAutomationSettingsFlow_UpdateValidation(t *testing.T) {
	start, end := 18, 9
	zero := 0
	badTZ := "Mars/Olympus"

	tests := []struct {
		name    string
		req     *dto.UpdateAutomationSettingsRequest
		code    string
		wantErr error
	}{
		{
			name:    "end before start",
			req:     &dto.UpdateAutomationSettingsRequest{BusinessHourStart: &start, BusinessHourEnd: &end},
			code:    "INVALID_BUSINESS_HOURS",
			wantErr: businessflow.ErrInvalidBusinessHours,
		},
		{
			name:    "zero hourly cap",
			req:     &dto.UpdateAutomationSettingsRequest{MaxMessagesPerHour: &zero},
			code:    "INVALID_QUOTA",
			wantErr: businessflow.ErrInvalidQuota,
		},
		{
			name:    "unknown timezone",
			req:     &dto.UpdateAutomationSettingsRequest{Timezone: &badTZ},
			code:    "INVALID_TIMEZONE",
			wantErr: businessflow.ErrInvalidTimezone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeSettingsRepo{}
			flow := businessflow.NewAutomationSettingsFlow(repo, nil, "", nil)

			_, err := flow.UpdateSettings(context.Background(), tt.req)
			requireBusinessCode(t, err, tt.code)
			assert.True(t, errors.Is(err, tt.wantErr))
			assert.Nil(t, repo.row, "rejected settings must not be stored")
		})
	}
}
