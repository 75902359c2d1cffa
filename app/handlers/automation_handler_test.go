package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amirphl/leadflow/app/dto"
	businessflow "github.com/amirphl/leadflow/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeColumnFlow struct {
	businessflow.AutomationColumnFlow

	created    *dto.CreateColumnRequest
	deletedID  uint
	cascade    bool
	err        error
	exportedID *uint
}

func (f *fakeColumnFlow) CreateColumn(ctx context.Context, req *dto.CreateColumnRequest) (*dto.ColumnResponse, error) {
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	return &dto.ColumnResponse{Message: "Column created", Column: dto.ColumnItem{ID: 7, Name: req.Name}}, nil
}

func (f *fakeColumnFlow) GetColumn(ctx context.Context, columnID uint) (*dto.ColumnResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.ColumnResponse{Message: "Column retrieved", Column: dto.ColumnItem{ID: columnID}}, nil
}

func (f *fakeColumnFlow) DeleteColumn(ctx context.Context, columnID uint, cascade bool) (*dto.DeleteColumnResponse, error) {
	f.deletedID, f.cascade = columnID, cascade
	if f.err != nil {
		return nil, f.err
	}
	return &dto.DeleteColumnResponse{Message: "Column deleted", ID: columnID}, nil
}

func (f *fakeColumnFlow) ExportPositions(ctx context.Context, columnID *uint) (string, []byte, error) {
	f.exportedID = columnID
	return "positions.xlsx", []byte("PK-fake"), nil
}

type fakeRetryFlow struct {
	calls []string
}

func (f *fakeRetryFlow) RetryLead(ctx context.Context, leadID uint) (*dto.RetryResponse, error) {
	f.calls = append(f.calls, "lead")
	return &dto.RetryResponse{Message: "ok", Count: 1}, nil
}

func (f *fakeRetryFlow) RetryColumn(ctx context.Context, columnID uint) (*dto.RetryResponse, error) {
	f.calls = append(f.calls, "column")
	return &dto.RetryResponse{Message: "ok", Count: 2}, nil
}

func (f *fakeRetryFlow) RetryAllFailed(ctx context.Context) (*dto.RetryResponse, error) {
	f.calls = append(f.calls, "all")
	return &dto.RetryResponse{Message: "ok", Count: 3}, nil
}

func newAutomationApp(columns *fakeColumnFlow, retry *fakeRetryFlow) *fiber.App {
	h := NewAutomationHandler(columns, retry)
	app := fiber.New()
	app.Post("/columns", h.CreateColumn)
	app.Get("/columns/:id", h.GetColumn)
	app.Delete("/columns/:id", h.DeleteColumn)
	app.Get("/positions/export", h.ExportPositions)
	app.Post("/retry", h.Retry)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, dto.APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	var envelope dto.APIResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &envelope))
	}
	return resp, envelope
}

func errorCode(t *testing.T, envelope dto.APIResponse) string {
	t.Helper()
	detail, ok := envelope.Error.(map[string]any)
	require.True(t, ok, "error detail missing")
	code, _ := detail["code"].(string)
	return code
}

func TestAutomationHandler_CreateColumn(t *testing.T) {
	columns := &fakeColumnFlow{}
	app := newAutomationApp(columns, &fakeRetryFlow{})

	resp, envelope := doJSON(t, app, http.MethodPost, "/columns",
		`{"name":"Day 1","send_interval_seconds":60,"recurrence":{"kind":"DAILY"}}`)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, envelope.Success)
	require.NotNil(t, columns.created)
	assert.Equal(t, "Day 1", columns.created.Name)
}

func TestAutomationHandler_CreateColumnValidation(t *testing.T) {
	app := newAutomationApp(&fakeColumnFlow{}, &fakeRetryFlow{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed json", body: `{"name":`, code: "INVALID_REQUEST"},
		{name: "missing name", body: `{"recurrence":{"kind":"DAILY"}}`, code: "VALIDATION_ERROR"},
		{name: "unknown kind", body: `{"name":"x","recurrence":{"kind":"HOURLY"}}`, code: "VALIDATION_ERROR"},
		{name: "negative interval", body: `{"name":"x","send_interval_seconds":-5,"recurrence":{"kind":"NONE"}}`, code: "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, envelope := doJSON(t, app, http.MethodPost, "/columns", tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.False(t, envelope.Success)
			assert.Equal(t, tt.code, errorCode(t, envelope))
		})
	}
}

func TestAutomationHandler_BusinessErrorStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{code: "COLUMN_NOT_FOUND", status: fiber.StatusNotFound},
		{code: "COLUMN_HAS_LEADS", status: fiber.StatusConflict},
		{code: "INVALID_RECURRENCE", status: fiber.StatusBadRequest},
		{code: "TRANSPORT_NOT_READY", status: fiber.StatusServiceUnavailable},
		{code: "DELETE_COLUMN_FAILED", status: fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			columns := &fakeColumnFlow{err: businessflow.NewBusinessError(tt.code, "boom", nil)}
			app := newAutomationApp(columns, &fakeRetryFlow{})

			resp, envelope := doJSON(t, app, http.MethodDelete, "/columns/4?cascade=true", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, envelope))
			assert.Equal(t, uint(4), columns.deletedID)
			assert.True(t, columns.cascade)
		})
	}
}

func TestAutomationHandler_InvalidIDParam(t *testing.T) {
	app := newAutomationApp(&fakeColumnFlow{}, &fakeRetryFlow{})

	for _, target := range []string{"/columns/abc", "/columns/0"} {
		resp, envelope := doJSON(t, app, http.MethodGet, target, "")
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, target)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, envelope))
	}
}

func TestAutomationHandler_ExportSetsAttachment(t *testing.T) {
	columns := &fakeColumnFlow{}
	app := newAutomationApp(columns, &fakeRetryFlow{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/positions/export?column_id=3", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "attachment; filename=positions.xlsx", resp.Header.Get("Content-Disposition"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	require.NotNil(t, columns.exportedID)
	assert.Equal(t, uint(3), *columns.exportedID)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK-fake", string(body))
}

func TestAutomationHandler_RetryScopes(t *testing.T) {
	retry := &fakeRetryFlow{}
	app := newAutomationApp(&fakeColumnFlow{}, retry)

	_, envelope := doJSON(t, app, http.MethodPost, "/retry", `{"lead_id":5}`)
	assert.True(t, envelope.Success)
	_, _ = doJSON(t, app, http.MethodPost, "/retry", `{"column_id":2}`)
	_, _ = doJSON(t, app, http.MethodPost, "/retry", "")
	assert.Equal(t, []string{"lead", "column", "all"}, retry.calls)

	resp, envelope := doJSON(t, app, http.MethodPost, "/retry", `{"lead_id":5,"column_id":2}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, envelope))
	assert.Len(t, retry.calls, 3)
}
