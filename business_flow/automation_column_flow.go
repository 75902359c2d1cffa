package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/amirphl/leadflow/app/dto"
	"github.com/amirphl/leadflow/app/recurrence"
	"github.com/amirphl/leadflow/models"
	"github.com/amirphl/leadflow/repository"
	"github.com/amirphl/leadflow/utils"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPositionsPageSize = 50
	positionsSheetName       = "positions"
)

// AutomationColumnFlow manages the ordered columns of the automation board and the leads
// positioned in them.
type AutomationColumnFlow interface {
	CreateColumn(ctx context.Context, req *dto.CreateColumnRequest) (*dto.ColumnResponse, error)
	UpdateColumn(ctx context.Context, columnID uint, req *dto.UpdateColumnRequest) (*dto.ColumnResponse, error)
	DeleteColumn(ctx context.Context, columnID uint, cascade bool) (*dto.DeleteColumnResponse, error)
	ReorderColumns(ctx context.Context, req *dto.ReorderColumnsRequest) (*dto.ListColumnsResponse, error)
	ListColumns(ctx context.Context) (*dto.ListColumnsResponse, error)
	GetColumn(ctx context.Context, columnID uint) (*dto.ColumnResponse, error)

	MoveLead(ctx context.Context, req *dto.MoveLeadRequest) (*dto.PositionResponse, error)
	RemoveLead(ctx context.Context, leadID uint) error
	ListPositions(ctx context.Context, req *dto.ListPositionsRequest) (*dto.ListPositionsResponse, error)
	ExportPositions(ctx context.Context, columnID *uint) (string, []byte, error)
}

// AutomationColumnFlowImpl implements AutomationColumnFlow.
type AutomationColumnFlowImpl struct {
	columnRepo   repository.AutomationColumnRepository
	positionRepo repository.LeadPositionRepository
	leadRepo     repository.LeadRepository
	templateRepo repository.MessageTemplateRepository
	settings     AutomationSettingsFlow
	clock        utils.Clock
	db           *gorm.DB
	logger       *zap.Logger
}

// NewAutomationColumnFlow creates a new column registry flow.
func NewAutomationColumnFlow(
	columnRepo repository.AutomationColumnRepository,
	positionRepo repository.LeadPositionRepository,
	leadRepo repository.LeadRepository,
	templateRepo repository.MessageTemplateRepository,
	settings AutomationSettingsFlow,
	clock utils.Clock,
	db *gorm.DB,
	logger *zap.Logger,
) AutomationColumnFlow {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutomationColumnFlowImpl{
		columnRepo:   columnRepo,
		positionRepo: positionRepo,
		leadRepo:     leadRepo,
		templateRepo: templateRepo,
		settings:     settings,
		clock:        clock,
		db:           db,
		logger:       logger,
	}
}

func (f *AutomationColumnFlowImpl) CreateColumn(ctx context.Context, req *dto.CreateColumnRequest) (*dto.ColumnResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}
	if req.Name == "" {
		return nil, NewBusinessError("COLUMN_NAME_REQUIRED", "Column name is required", ErrColumnNameRequired)
	}
	if req.SendIntervalSeconds < 0 {
		return nil, NewBusinessError("INVALID_INTERVAL", "Send interval must not be negative", ErrInvalidInterval)
	}

	spec := fromRecurrenceDTO(req.Recurrence, f.clock.Now())
	if err := spec.Validate(); err != nil {
		return nil, NewBusinessError("INVALID_RECURRENCE", err.Error(), errors.Join(ErrInvalidRecurrence, err))
	}
	if err := f.checkTemplate(ctx, req.TemplateID); err != nil {
		return nil, err
	}

	column := &models.AutomationColumn{
		Name:                req.Name,
		IsActive:            true,
		SendIntervalSeconds: req.SendIntervalSeconds,
		Recurrence:          spec,
		TemplateID:          req.TemplateID,
	}
	if req.IsActive != nil {
		column.IsActive = *req.IsActive
	}

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if req.Order != nil {
			existing, err := f.columnRepo.ListOrdered(txCtx, false)
			if err != nil {
				return err
			}
			for _, c := range existing {
				if c.Order == *req.Order {
					return NewBusinessErrorf("COLUMN_ORDER_TAKEN", "Order %d is already used by column %d", nil, *req.Order, c.ID)
				}
			}
			column.Order = *req.Order
		} else {
			maxOrder, err := f.columnRepo.MaxOrder(txCtx)
			if err != nil {
				return err
			}
			column.Order = maxOrder + 1
		}
		return f.columnRepo.Save(txCtx, column)
	})
	if err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, NewBusinessError("CREATE_COLUMN_FAILED", "Failed to create automation column", err)
	}

	f.logger.Info("automation column created",
		zap.Uint("column_id", column.ID),
		zap.String("name", column.Name),
		zap.Int("order", column.Order),
		zap.String("recurrence", string(spec.Kind)),
	)

	return &dto.ColumnResponse{
		Message: "Automation column created successfully",
		Column:  toColumnItem(column, nil),
	}, nil
}

func (f *AutomationColumnFlowImpl) UpdateColumn(ctx context.Context, columnID uint, req *dto.UpdateColumnRequest) (*dto.ColumnResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}

	column, err := f.loadColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, NewBusinessError("COLUMN_NAME_REQUIRED", "Column name is required", ErrColumnNameRequired)
		}
		column.Name = *req.Name
	}
	if req.IsActive != nil {
		column.IsActive = *req.IsActive
	}
	if req.SendIntervalSeconds != nil {
		if *req.SendIntervalSeconds < 0 {
			return nil, NewBusinessError("INVALID_INTERVAL", "Send interval must not be negative", ErrInvalidInterval)
		}
		column.SendIntervalSeconds = *req.SendIntervalSeconds
	}
	if req.Recurrence != nil {
		spec := fromRecurrenceDTO(*req.Recurrence, f.clock.Now())
		if err := spec.Validate(); err != nil {
			return nil, NewBusinessError("INVALID_RECURRENCE", err.Error(), errors.Join(ErrInvalidRecurrence, err))
		}
		column.Recurrence = spec
	}
	if req.ClearTemplate {
		column.TemplateID = nil
	} else if req.TemplateID != nil {
		if err := f.checkTemplate(ctx, req.TemplateID); err != nil {
			return nil, err
		}
		column.TemplateID = req.TemplateID
	}
	column.Template = nil
	column.UpdatedAt = f.clock.Now()

	if err := f.columnRepo.Update(ctx, column); err != nil {
		return nil, NewBusinessError("UPDATE_COLUMN_FAILED", "Failed to update automation column", err)
	}

	return &dto.ColumnResponse{
		Message: "Automation column updated successfully",
		Column:  toColumnItem(column, nil),
	}, nil
}

func (f *AutomationColumnFlowImpl) DeleteColumn(ctx context.Context, columnID uint, cascade bool) (*dto.DeleteColumnResponse, error) {
	var removed int64
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		column, err := f.columnRepo.ByID(txCtx, columnID)
		if err != nil {
			return err
		}
		if column == nil {
			return NewBusinessError("COLUMN_NOT_FOUND", "Automation column not found", ErrColumnNotFound)
		}

		count, err := f.positionRepo.Count(txCtx, models.LeadPositionFilter{ColumnID: &columnID})
		if err != nil {
			return err
		}
		if count > 0 && !cascade {
			return NewBusinessErrorf("COLUMN_HAS_LEADS", "Column still holds %d leads", ErrColumnHasLeads, count)
		}
		if count > 0 {
			if removed, err = f.positionRepo.DeleteByColumn(txCtx, columnID); err != nil {
				return err
			}
		}
		return f.columnRepo.Delete(txCtx, columnID)
	})
	if err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, NewBusinessError("DELETE_COLUMN_FAILED", "Failed to delete automation column", err)
	}

	f.logger.Info("automation column deleted", zap.Uint("column_id", columnID), zap.Int64("removed_positions", removed))

	return &dto.DeleteColumnResponse{
		Message:          "Automation column deleted successfully",
		ID:               columnID,
		RemovedPositions: removed,
	}, nil
}

func (f *AutomationColumnFlowImpl) ReorderColumns(ctx context.Context, req *dto.ReorderColumnsRequest) (*dto.ListColumnsResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		existing, err := f.columnRepo.ListOrdered(txCtx, false)
		if err != nil {
			return err
		}
		if !isPermutation(existing, req.ColumnIDs) {
			return NewBusinessError("INVALID_REORDER", "Reorder must list every column exactly once", ErrInvalidReorder)
		}
		return f.columnRepo.Reorder(txCtx, req.ColumnIDs)
	})
	if err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, NewBusinessError("REORDER_COLUMNS_FAILED", "Failed to reorder automation columns", err)
	}

	resp, err := f.ListColumns(ctx)
	if err != nil {
		return nil, err
	}
	resp.Message = "Automation columns reordered successfully"
	return resp, nil
}

func isPermutation(columns []*models.AutomationColumn, ids []uint) bool {
	if len(columns) != len(ids) {
		return false
	}
	want := make(map[uint]bool, len(columns))
	for _, c := range columns {
		want[c.ID] = true
	}
	for _, id := range ids {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}

func (f *AutomationColumnFlowImpl) ListColumns(ctx context.Context) (*dto.ListColumnsResponse, error) {
	columns, err := f.columnRepo.ListOrdered(ctx, false)
	if err != nil {
		return nil, NewBusinessError("LIST_COLUMNS_FAILED", "Failed to list automation columns", err)
	}

	items := make([]dto.ColumnItem, 0, len(columns))
	for _, c := range columns {
		counts, err := f.positionRepo.CountByStatus(ctx, &c.ID)
		if err != nil {
			return nil, NewBusinessError("LIST_COLUMNS_FAILED", "Failed to count column positions", err)
		}
		items = append(items, toColumnItem(c, counts))
	}

	return &dto.ListColumnsResponse{
		Message: "Automation columns retrieved",
		Items:   items,
	}, nil
}

func (f *AutomationColumnFlowImpl) GetColumn(ctx context.Context, columnID uint) (*dto.ColumnResponse, error) {
	column, err := f.loadColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	counts, err := f.positionRepo.CountByStatus(ctx, &column.ID)
	if err != nil {
		return nil, NewBusinessError("GET_COLUMN_FAILED", "Failed to count column positions", err)
	}
	return &dto.ColumnResponse{
		Message: "Automation column retrieved",
		Column:  toColumnItem(column, counts),
	}, nil
}

// MoveLead creates the lead's position or moves it to another column. The position restarts in
// the target column: the fire counter, error and schedule are reset.
func (f *AutomationColumnFlowImpl) MoveLead(ctx context.Context, req *dto.MoveLeadRequest) (*dto.PositionResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}

	settings, err := f.settings.Current(ctx)
	if err != nil {
		return nil, NewBusinessError("GET_SETTINGS_FAILED", "Failed to load automation settings", err)
	}
	now := f.clock.Now()

	var (
		position *models.LeadAutomationPosition
		lead     *models.Lead
	)
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		lead, err = f.leadRepo.ByID(txCtx, req.LeadID)
		if err != nil {
			return err
		}
		if lead == nil {
			return NewBusinessError("LEAD_NOT_FOUND", "Lead not found", ErrLeadNotFound)
		}
		column, err := f.columnRepo.ByID(txCtx, req.ColumnID)
		if err != nil {
			return err
		}
		if column == nil {
			return NewBusinessError("COLUMN_NOT_FOUND", "Automation column not found", ErrColumnNotFound)
		}

		next, ok := recurrence.InitialSchedule(column.Recurrence, now, settings.Location())
		if !ok {
			return NewBusinessError("NO_SCHEDULE_LEFT", "Column recurrence will not fire again", ErrLeadNoScheduleLeft)
		}
		status := models.PositionStatusScheduled
		if !next.After(now) {
			status = models.PositionStatusPending
		}
		next = next.UTC()

		position, err = f.positionRepo.ByLeadID(txCtx, lead.ID)
		if err != nil {
			return err
		}
		if position == nil {
			position = &models.LeadAutomationPosition{
				LeadID:          lead.ID,
				ColumnID:        column.ID,
				Status:          status,
				NextScheduledAt: &next,
			}
			return f.positionRepo.Save(txCtx, position)
		}

		position.ColumnID = column.ID
		position.Status = status
		position.NextScheduledAt = &next
		position.LastError = nil
		position.FireCount = 0
		position.UpdatedAt = now
		position.Column = nil
		position.Lead = nil
		return f.positionRepo.Update(txCtx, position)
	})
	if err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, NewBusinessError("MOVE_LEAD_FAILED", "Failed to move lead", err)
	}

	f.logger.Info("lead moved",
		zap.Uint("lead_id", position.LeadID),
		zap.Uint("column_id", position.ColumnID),
		zap.String("status", string(position.Status)),
		zap.Timep("next_scheduled_at", position.NextScheduledAt),
	)

	return &dto.PositionResponse{
		Message:  "Lead moved successfully",
		Position: toPositionItem(position, lead),
	}, nil
}

func (f *AutomationColumnFlowImpl) RemoveLead(ctx context.Context, leadID uint) error {
	removed, err := f.positionRepo.DeleteByLeadID(ctx, leadID)
	if err != nil {
		return NewBusinessError("REMOVE_LEAD_FAILED", "Failed to remove lead from automation", err)
	}
	if !removed {
		return NewBusinessError("LEAD_NOT_IN_AUTOMATION", "Lead is not positioned in any column", ErrLeadNotInAutomation)
	}
	f.logger.Info("lead removed from automation", zap.Uint("lead_id", leadID))
	return nil
}

func (f *AutomationColumnFlowImpl) ListPositions(ctx context.Context, req *dto.ListPositionsRequest) (*dto.ListPositionsResponse, error) {
	if req == nil {
		req = &dto.ListPositionsRequest{}
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = defaultPositionsPageSize
	}

	filter, err := f.positionFilter(ctx, req.ColumnID, req.Status)
	if err != nil {
		return nil, err
	}

	total, err := f.positionRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_POSITIONS_FAILED", "Failed to count positions", err)
	}
	rows, err := f.positionRepo.ByFilter(ctx, filter, "next_scheduled_at ASC NULLS LAST, id ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_POSITIONS_FAILED", "Failed to list positions", err)
	}

	leads, err := f.leadsOf(ctx, rows)
	if err != nil {
		return nil, NewBusinessError("LIST_POSITIONS_FAILED", "Failed to load leads", err)
	}

	items := make([]dto.PositionItem, 0, len(rows))
	for _, p := range rows {
		items = append(items, toPositionItem(p, leads[p.LeadID]))
	}

	return &dto.ListPositionsResponse{
		Message:  "Positions retrieved",
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// ExportPositions writes positions, optionally of a single column, to an xlsx workbook.
func (f *AutomationColumnFlowImpl) ExportPositions(ctx context.Context, columnID *uint) (string, []byte, error) {
	filter, err := f.positionFilter(ctx, columnID, "")
	if err != nil {
		return "", nil, err
	}
	rows, err := f.positionRepo.ByFilter(ctx, filter, "column_id ASC, next_scheduled_at ASC NULLS LAST, id ASC", 0, 0)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_POSITIONS_FAILED", "Failed to list positions", err)
	}
	leads, err := f.leadsOf(ctx, rows)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_POSITIONS_FAILED", "Failed to load leads", err)
	}

	header := []string{"id", "lead_id", "lead_name", "phone", "column_id", "status", "next_scheduled_at", "last_sent_at", "last_attempt_at", "last_error", "messages_sent_count", "updated_at"}
	records := make([][]string, 0, len(rows)+1)
	records = append(records, header)
	for _, p := range rows {
		item := toPositionItem(p, leads[p.LeadID])
		records = append(records, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			strconv.FormatUint(uint64(item.LeadID), 10),
			item.LeadName,
			item.Phone,
			strconv.FormatUint(uint64(item.ColumnID), 10),
			item.Status,
			derefString(item.NextScheduledAt),
			derefString(item.LastSentAt),
			derefString(item.LastAttemptAt),
			derefString(item.LastError),
			strconv.Itoa(item.MessagesSentCount),
			item.UpdatedAt,
		})
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()
	if err := xl.SetSheetName(xl.GetSheetName(0), positionsSheetName); err != nil {
		return "", nil, NewBusinessError("EXPORT_POSITIONS_FAILED", "Failed to prepare worksheet", err)
	}
	if err := writeSheetRows(xl, positionsSheetName, records); err != nil {
		return "", nil, NewBusinessError("EXPORT_POSITIONS_FAILED", "Failed to write positions", err)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	filename := fmt.Sprintf("automation_positions_%s.xlsx", f.clock.Now().UTC().Format("20060102_150405"))
	if columnID != nil {
		filename = fmt.Sprintf("automation_positions_column_%d_%s.xlsx", *columnID, f.clock.Now().UTC().Format("20060102_150405"))
	}
	return filename, buf.Bytes(), nil
}

// writeSheetRows writes records to sheet starting at A1, one record per row.
func writeSheetRows(xl *excelize.File, sheet string, records [][]string) error {
	for i := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(sheet, cell, &records[i]); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	return nil
}

func (f *AutomationColumnFlowImpl) positionFilter(ctx context.Context, columnID *uint, status string) (models.LeadPositionFilter, error) {
	filter := models.LeadPositionFilter{}
	if columnID != nil {
		if _, err := f.loadColumn(ctx, *columnID); err != nil {
			return filter, err
		}
		filter.ColumnID = columnID
	}
	if status != "" {
		s := models.PositionStatus(status)
		if !s.Valid() {
			return filter, NewBusinessErrorf("INVALID_STATUS", "Unknown position status %q", nil, status)
		}
		filter.Status = &s
	}
	return filter, nil
}

func (f *AutomationColumnFlowImpl) leadsOf(ctx context.Context, rows []*models.LeadAutomationPosition) (map[uint]*models.Lead, error) {
	if len(rows) == 0 {
		return map[uint]*models.Lead{}, nil
	}
	ids := make([]uint, 0, len(rows))
	for _, p := range rows {
		ids = append(ids, p.LeadID)
	}
	return f.leadRepo.ByIDs(ctx, ids)
}

func (f *AutomationColumnFlowImpl) loadColumn(ctx context.Context, columnID uint) (*models.AutomationColumn, error) {
	column, err := f.columnRepo.ByID(ctx, columnID)
	if err != nil {
		return nil, NewBusinessError("GET_COLUMN_FAILED", "Failed to load automation column", err)
	}
	if column == nil {
		return nil, NewBusinessError("COLUMN_NOT_FOUND", "Automation column not found", ErrColumnNotFound)
	}
	return column, nil
}

func (f *AutomationColumnFlowImpl) checkTemplate(ctx context.Context, templateID *uint) error {
	if templateID == nil {
		return nil
	}
	tpl, err := f.templateRepo.ByID(ctx, *templateID)
	if err != nil {
		return NewBusinessError("GET_TEMPLATE_FAILED", "Failed to load message template", err)
	}
	if tpl == nil {
		return NewBusinessError("TEMPLATE_NOT_FOUND", "Message template not found", ErrTemplateNotFound)
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
