package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/amirphl/leadflow/app/dto"
	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettingsFlow struct {
	businessflow.AutomationSettingsFlow
	updated *dto.UpdateAutomationSettingsRequest
}

func (f *fakeSettingsFlow) UpdateSettings(ctx context.Context, req *dto.UpdateAutomationSettingsRequest) (*dto.AutomationSettingsResponse, error) {
	f.updated = req
	return &dto.AutomationSettingsResponse{Message: "Settings updated"}, nil
}

type fakeConnectionFlow struct {
	businessflow.ConnectionFlow
	qrErr error
}

func (f *fakeConnectionFlow) RequestQRCode(ctx context.Context) (*dto.QRCodeResponse, error) {
	if f.qrErr != nil {
		return nil, f.qrErr
	}
	return &dto.QRCodeResponse{Message: "QR code available", QRCode: "2@abc", Attempt: 1}, nil
}

func (f *fakeConnectionFlow) RequestStatus(ctx context.Context) (*dto.ConnectionStatusResponse, error) {
	return &dto.ConnectionStatusResponse{Message: "Connection status", State: "connected"}, nil
}

type fakeDispatchFlow struct {
	businessflow.DispatchFlow
	err error
}

func (f *fakeDispatchFlow) RunNow(ctx context.Context) (*dto.DispatchRunResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.DispatchRunResponse{Message: "Dispatch tick completed", Sent: 1}, nil
}

func newControlApp(settings *fakeSettingsFlow, conn *fakeConnectionFlow, dispatch *fakeDispatchFlow) *fiber.App {
	h := NewControlHandler(settings, conn, dispatch)
	app := fiber.New()
	app.Put("/settings", h.UpdateSettings)
	app.Get("/connection", h.ConnectionStatus)
	app.Get("/connection/qr", h.QRCode)
	app.Post("/dispatch/run", h.RunDispatch)
	return app
}

func TestControlHandler_UpdateSettings(t *testing.T) {
	settings := &fakeSettingsFlow{}
	app := newControlApp(settings, &fakeConnectionFlow{}, &fakeDispatchFlow{})

	resp, envelope := doJSON(t, app, http.MethodPut, "/settings", `{"max_messages_per_hour":10,"timezone":"Europe/Berlin"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)
	require.NotNil(t, settings.updated)
	assert.Equal(t, 10, *settings.updated.MaxMessagesPerHour)

	resp, envelope = doJSON(t, app, http.MethodPut, "/settings", `{"business_hour_start":25}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, envelope))
}

func TestControlHandler_QRCode(t *testing.T) {
	conn := &fakeConnectionFlow{}
	app := newControlApp(&fakeSettingsFlow{}, conn, &fakeDispatchFlow{})

	resp, envelope := doJSON(t, app, http.MethodGet, "/connection/qr", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2@abc", data["qr_code"])

	conn.qrErr = businessflow.NewBusinessError("QR_NOT_AVAILABLE", "No QR code in state connected", businessflow.ErrQRNotAvailable)
	resp, envelope = doJSON(t, app, http.MethodGet, "/connection/qr", "")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "QR_NOT_AVAILABLE", errorCode(t, envelope))
}

func TestControlHandler_RunDispatch(t *testing.T) {
	dispatch := &fakeDispatchFlow{}
	app := newControlApp(&fakeSettingsFlow{}, &fakeConnectionFlow{}, dispatch)

	resp, envelope := doJSON(t, app, http.MethodPost, "/dispatch/run", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)

	dispatch.err = businessflow.NewBusinessError("SCHEDULER_DISABLED", "Scheduler is not running", nil)
	resp, envelope = doJSON(t, app, http.MethodPost, "/dispatch/run", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "SCHEDULER_DISABLED", errorCode(t, envelope))
}
