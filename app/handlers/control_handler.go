package handlers

import (
	"github.com/amirphl/leadflow/app/dto"
	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/gofiber/fiber/v3"
)

// ControlHandlerInterface defines the operator endpoints: dispatch policy, WhatsApp session and manual ticks.
type ControlHandlerInterface interface {
	GetSettings(c fiber.Ctx) error
	UpdateSettings(c fiber.Ctx) error

	ConnectionStatus(c fiber.Ctx) error
	QRCode(c fiber.Ctx) error
	Reconnect(c fiber.Ctx) error
	Logout(c fiber.Ctx) error

	QuotaUsage(c fiber.Ctx) error
	RunDispatch(c fiber.Ctx) error
}

type ControlHandler struct {
	baseHandler
	settingsFlow   businessflow.AutomationSettingsFlow
	connectionFlow businessflow.ConnectionFlow
	dispatchFlow   businessflow.DispatchFlow
}

func NewControlHandler(
	settingsFlow businessflow.AutomationSettingsFlow,
	connectionFlow businessflow.ConnectionFlow,
	dispatchFlow businessflow.DispatchFlow,
) ControlHandlerInterface {
	return &ControlHandler{
		baseHandler:    newBaseHandler(),
		settingsFlow:   settingsFlow,
		connectionFlow: connectionFlow,
		dispatchFlow:   dispatchFlow,
	}
}

// GetSettings returns the dispatch policy
// @Summary Get Automation Settings
// @Tags Automation Control
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.AutomationSettingsResponse}
// @Router /api/v1/automation/settings [get]
func (h *ControlHandler) GetSettings(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/settings")
	defer cancel()

	res, err := h.settingsFlow.GetSettings(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "GET_SETTINGS_FAILED", "Failed to load settings")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// UpdateSettings changes the dispatch policy
// @Summary Update Automation Settings
// @Tags Automation Control
// @Accept json
// @Produce json
// @Param request body dto.UpdateAutomationSettingsRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.AutomationSettingsResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/automation/settings [put]
func (h *ControlHandler) UpdateSettings(c fiber.Ctx) error {
	var req dto.UpdateAutomationSettingsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/settings")
	defer cancel()

	res, err := h.settingsFlow.UpdateSettings(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "UPDATE_SETTINGS_FAILED", "Failed to update settings")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// ConnectionStatus reports the WhatsApp session state with quota usage
// @Summary WhatsApp Connection Status
// @Tags Automation Control
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ConnectionStatusResponse}
// @Router /api/v1/automation/connection [get]
func (h *ControlHandler) ConnectionStatus(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/connection")
	defer cancel()

	res, err := h.connectionFlow.RequestStatus(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "CONNECTION_STATUS_FAILED", "Failed to read connection status")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// QRCode returns the current pairing code
// @Summary WhatsApp Pairing QR Code
// @Tags Automation Control
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.QRCodeResponse}
// @Failure 409 {object} dto.APIResponse "No QR code in the current state"
// @Router /api/v1/automation/connection/qr [get]
func (h *ControlHandler) QRCode(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/connection/qr")
	defer cancel()

	res, err := h.connectionFlow.RequestQRCode(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "QR_FAILED", "Failed to read QR code")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// Reconnect tears the session down and dials again
// @Summary Reconnect WhatsApp
// @Tags Automation Control
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ConnectionStatusResponse}
// @Failure 503 {object} dto.APIResponse "Transport not configured"
// @Router /api/v1/automation/connection/reconnect [post]
func (h *ControlHandler) Reconnect(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/connection/reconnect")
	defer cancel()

	res, err := h.connectionFlow.Reconnect(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "RECONNECT_FAILED", "Failed to reconnect")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// Logout unpairs the WhatsApp account
// @Summary Logout WhatsApp
// @Tags Automation Control
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ConnectionStatusResponse}
// @Router /api/v1/automation/connection/logout [post]
func (h *ControlHandler) Logout(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/connection/logout")
	defer cancel()

	res, err := h.connectionFlow.Logout(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "LOGOUT_FAILED", "Failed to logout")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// QuotaUsage reports the rolling hour and day counters
// @Summary Quota Usage
// @Tags Automation Control
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.QuotaUsageResponse}
// @Router /api/v1/automation/quota [get]
func (h *ControlHandler) QuotaUsage(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/quota")
	defer cancel()

	res, err := h.dispatchFlow.QuotaUsage(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "QUOTA_LOAD_FAILED", "Failed to load quota usage")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// RunDispatch runs one scheduler tick immediately
// @Summary Run Dispatch Tick
// @Tags Automation Control
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.DispatchRunResponse}
// @Failure 503 {object} dto.APIResponse "Scheduler disabled"
// @Router /api/v1/automation/dispatch/run [post]
func (h *ControlHandler) RunDispatch(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContextWithTimeout(c, "/api/v1/automation/dispatch/run", 2*requestTimeout)
	defer cancel()

	res, err := h.dispatchFlow.RunNow(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "DISPATCH_FAILED", "Dispatch run failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

var _ ControlHandlerInterface = (*ControlHandler)(nil)
var _ AutomationHandlerInterface = (*AutomationHandler)(nil)
