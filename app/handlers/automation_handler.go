package handlers

import (
	"github.com/amirphl/leadflow/app/dto"
	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/gofiber/fiber/v3"
)

// AutomationHandlerInterface defines the board endpoints: columns, lead positions and retries.
type AutomationHandlerInterface interface {
	ListColumns(c fiber.Ctx) error
	GetColumn(c fiber.Ctx) error
	CreateColumn(c fiber.Ctx) error
	UpdateColumn(c fiber.Ctx) error
	DeleteColumn(c fiber.Ctx) error
	ReorderColumns(c fiber.Ctx) error

	MoveLead(c fiber.Ctx) error
	RemoveLead(c fiber.Ctx) error
	ListPositions(c fiber.Ctx) error
	ExportPositions(c fiber.Ctx) error

	Retry(c fiber.Ctx) error
}

// AutomationHandler serves the automation board.
type AutomationHandler struct {
	baseHandler
	columnFlow businessflow.AutomationColumnFlow
	retryFlow  businessflow.RetryFlow
}

func NewAutomationHandler(columnFlow businessflow.AutomationColumnFlow, retryFlow businessflow.RetryFlow) AutomationHandlerInterface {
	return &AutomationHandler{
		baseHandler: newBaseHandler(),
		columnFlow:  columnFlow,
		retryFlow:   retryFlow,
	}
}

// ListColumns returns the board in order
// @Summary List Automation Columns
// @Tags Automation
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ListColumnsResponse}
// @Router /api/v1/automation/columns [get]
func (h *AutomationHandler) ListColumns(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/columns")
	defer cancel()

	res, err := h.columnFlow.ListColumns(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "LIST_COLUMNS_FAILED", "Failed to list columns")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// GetColumn returns one column with its position counts
// @Summary Get Automation Column
// @Tags Automation
// @Produce json
// @Param id path int true "Column ID"
// @Success 200 {object} dto.APIResponse{data=dto.ColumnResponse}
// @Failure 404 {object} dto.APIResponse "Column not found"
// @Router /api/v1/automation/columns/{id} [get]
func (h *AutomationHandler) GetColumn(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid column id", "INVALID_REQUEST", nil)
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/columns/:id")
	defer cancel()

	res, err := h.columnFlow.GetColumn(ctx, id)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "GET_COLUMN_FAILED", "Failed to get column")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// CreateColumn adds a column to the board
// @Summary Create Automation Column
// @Tags Automation
// @Accept json
// @Produce json
// @Param request body dto.CreateColumnRequest true "Column payload"
// @Success 201 {object} dto.APIResponse{data=dto.ColumnResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 409 {object} dto.APIResponse "Order already taken"
// @Router /api/v1/automation/columns [post]
func (h *AutomationHandler) CreateColumn(c fiber.Ctx) error {
	var req dto.CreateColumnRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/columns")
	defer cancel()

	res, err := h.columnFlow.CreateColumn(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "CREATE_COLUMN_FAILED", "Failed to create column")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, res.Message, res)
}

// UpdateColumn applies a partial update to a column
// @Summary Update Automation Column
// @Tags Automation
// @Accept json
// @Produce json
// @Param id path int true "Column ID"
// @Param request body dto.UpdateColumnRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.ColumnResponse}
// @Router /api/v1/automation/columns/{id} [put]
func (h *AutomationHandler) UpdateColumn(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid column id", "INVALID_REQUEST", nil)
	}
	var req dto.UpdateColumnRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/columns/:id")
	defer cancel()

	res, err := h.columnFlow.UpdateColumn(ctx, id, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "UPDATE_COLUMN_FAILED", "Failed to update column")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// DeleteColumn removes a column. Without cascade=true the column must be empty.
// @Summary Delete Automation Column
// @Tags Automation
// @Produce json
// @Param id path int true "Column ID"
// @Param cascade query bool false "Also remove the leads positioned in the column"
// @Success 200 {object} dto.APIResponse{data=dto.DeleteColumnResponse}
// @Failure 409 {object} dto.APIResponse "Column still has leads"
// @Router /api/v1/automation/columns/{id} [delete]
func (h *AutomationHandler) DeleteColumn(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid column id", "INVALID_REQUEST", nil)
	}
	cascade := fiber.Query[bool](c, "cascade", false)

	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/columns/:id")
	defer cancel()

	res, err := h.columnFlow.DeleteColumn(ctx, id, cascade)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "DELETE_COLUMN_FAILED", "Failed to delete column")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// ReorderColumns rewrites the board order
// @Summary Reorder Automation Columns
// @Tags Automation
// @Accept json
// @Produce json
// @Param request body dto.ReorderColumnsRequest true "Every column id in its new order"
// @Success 200 {object} dto.APIResponse{data=dto.ListColumnsResponse}
// @Router /api/v1/automation/columns/reorder [post]
func (h *AutomationHandler) ReorderColumns(c fiber.Ctx) error {
	var req dto.ReorderColumnsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/columns/reorder")
	defer cancel()

	res, err := h.columnFlow.ReorderColumns(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "REORDER_COLUMNS_FAILED", "Failed to reorder columns")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// MoveLead places a lead in a column and computes its first fire
// @Summary Move Lead
// @Tags Automation
// @Accept json
// @Produce json
// @Param request body dto.MoveLeadRequest true "Lead and target column"
// @Success 200 {object} dto.APIResponse{data=dto.PositionResponse}
// @Router /api/v1/automation/positions [post]
func (h *AutomationHandler) MoveLead(c fiber.Ctx) error {
	var req dto.MoveLeadRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/positions")
	defer cancel()

	res, err := h.columnFlow.MoveLead(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "MOVE_LEAD_FAILED", "Failed to move lead")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// RemoveLead takes a lead out of the automation
// @Summary Remove Lead From Automation
// @Tags Automation
// @Produce json
// @Param lead_id path int true "Lead ID"
// @Success 200 {object} dto.APIResponse
// @Router /api/v1/automation/positions/{lead_id} [delete]
func (h *AutomationHandler) RemoveLead(c fiber.Ctx) error {
	leadID, ok := parseIDParam(c, "lead_id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead id", "INVALID_REQUEST", nil)
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/positions/:lead_id")
	defer cancel()

	if err := h.columnFlow.RemoveLead(ctx, leadID); err != nil {
		return h.BusinessErrorResponse(c, err, "REMOVE_LEAD_FAILED", "Failed to remove lead")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Lead removed from automation", fiber.Map{"lead_id": leadID})
}

// ListPositions returns a page of lead positions
// @Summary List Lead Positions
// @Tags Automation
// @Produce json
// @Param column_id query int false "Column filter"
// @Param status query string false "Status filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListPositionsResponse}
// @Router /api/v1/automation/positions [get]
func (h *AutomationHandler) ListPositions(c fiber.Ctx) error {
	var req dto.ListPositionsRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/positions")
	defer cancel()

	res, err := h.columnFlow.ListPositions(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "LIST_POSITIONS_FAILED", "Failed to list positions")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// ExportPositions downloads positions as an xlsx workbook
// @Summary Export Lead Positions
// @Tags Automation
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param column_id query int false "Column filter"
// @Success 200 {file} file
// @Router /api/v1/automation/positions/export [get]
func (h *AutomationHandler) ExportPositions(c fiber.Ctx) error {
	var columnID *uint
	if raw := fiber.Query[uint](c, "column_id", 0); raw > 0 {
		columnID = &raw
	}
	ctx, cancel := h.createRequestContextWithTimeout(c, "/api/v1/automation/positions/export", 2*requestTimeout)
	defer cancel()

	filename, data, err := h.columnFlow.ExportPositions(ctx, columnID)
	if err != nil {
		return h.BusinessErrorResponse(c, err, "EXPORT_POSITIONS_FAILED", "Failed to export positions")
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// Retry resets failed, disconnected and rate limited positions to pending
// @Summary Retry Failed Sends
// @Description Give lead_id to retry one lead, column_id to retry a column, or neither to retry every failed position
// @Tags Automation
// @Accept json
// @Produce json
// @Param request body dto.RetryRequest false "Retry scope"
// @Success 200 {object} dto.APIResponse{data=dto.RetryResponse}
// @Router /api/v1/automation/retry [post]
func (h *AutomationHandler) Retry(c fiber.Ctx) error {
	var req dto.RetryRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if req.LeadID != nil && req.ColumnID != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Give either lead_id or column_id, not both", "VALIDATION_ERROR", nil)
	}
	ctx, cancel := h.createRequestContext(c, "/api/v1/automation/retry")
	defer cancel()

	var (
		res *dto.RetryResponse
		err error
	)
	switch {
	case req.LeadID != nil:
		res, err = h.retryFlow.RetryLead(ctx, *req.LeadID)
	case req.ColumnID != nil:
		res, err = h.retryFlow.RetryColumn(ctx, *req.ColumnID)
	default:
		res, err = h.retryFlow.RetryAllFailed(ctx)
	}
	if err != nil {
		return h.BusinessErrorResponse(c, err, "RETRY_FAILED", "Failed to retry positions")
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}
