// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/leadflow/app/dto"
	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/amirphl/leadflow/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// baseHandler carries the response envelope helpers shared by every handler.
type baseHandler struct {
	validator *validator.Validate
}

func newBaseHandler() baseHandler {
	return baseHandler{validator: validator.New()}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    code,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes the 400 response when it fails.
// It returns true when the request may proceed.
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	if err := h.validator.Struct(req); err != nil {
		var validationErrors []string
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, e := range fieldErrors {
				validationErrors = append(validationErrors, getValidationErrorMessage(e))
			}
		} else {
			validationErrors = append(validationErrors, err.Error())
		}
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}
	return true, nil
}

// BusinessErrorResponse maps a flow error to an HTTP response. Errors that are not
// business errors are logged and reported as internal failures with fallbackCode.
func (h *baseHandler) BusinessErrorResponse(c fiber.Ctx, err error, fallbackCode, fallbackMessage string) error {
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		status := statusForCode(be.Code)
		if status >= fiber.StatusInternalServerError {
			zap.L().Error(fallbackMessage,
				zap.String("code", be.Code),
				zap.String("request_id", requestID(c)),
				zap.Error(err),
			)
		}
		return h.ErrorResponse(c, status, be.Message, be.Code, nil)
	}
	zap.L().Error(fallbackMessage, zap.String("request_id", requestID(c)), zap.Error(err))
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// createRequestContext builds the request-scoped context handed to business flows.
func (h *baseHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	return h.createRequestContextWithTimeout(c, endpoint, requestTimeout)
}

func (h *baseHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestID(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	if adminID, ok := c.Locals("admin_id").(string); ok {
		ctx = context.WithValue(ctx, utils.AdminIDKey, adminID)
	}
	return ctx, cancel
}

func requestID(c fiber.Ctx) string {
	if id := requestid.FromContext(c); id != "" {
		return id
	}
	return c.Get("X-Request-ID")
}

// parseIDParam reads a positive integer path parameter.
func parseIDParam(c fiber.Ctx, name string) (uint, bool) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// statusForCode maps business error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case "COLUMN_NOT_FOUND", "LEAD_NOT_FOUND", "LEAD_NOT_IN_AUTOMATION", "TEMPLATE_NOT_FOUND":
		return fiber.StatusNotFound
	case "COLUMN_HAS_LEADS", "COLUMN_ORDER_TAKEN", "QR_NOT_AVAILABLE", "NO_SCHEDULE_LEFT":
		return fiber.StatusConflict
	case "VALIDATION_ERROR", "INVALID_REQUEST", "INVALID_RECURRENCE", "INVALID_REORDER",
		"INVALID_INTERVAL", "INVALID_STATUS", "INVALID_BUSINESS_HOURS", "INVALID_QUOTA",
		"INVALID_TIMEZONE", "COLUMN_NAME_REQUIRED":
		return fiber.StatusBadRequest
	case "TRANSPORT_NOT_READY", "SCHEDULER_DISABLED":
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
