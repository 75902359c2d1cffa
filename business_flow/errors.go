// Package businessflow contains the automation use cases exposed to the admin API
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Column registry errors
	ErrColumnNotFound     = errors.New("automation column not found")
	ErrColumnHasLeads     = errors.New("automation column still has leads positioned in it")
	ErrInvalidRecurrence  = errors.New("invalid recurrence specification")
	ErrInvalidReorder     = errors.New("reorder must list every column exactly once")
	ErrColumnNameRequired = errors.New("column name is required")
	ErrInvalidInterval    = errors.New("send interval must not be negative")
	ErrTemplateNotFound   = errors.New("message template not found")

	// Lead position errors
	ErrLeadNotFound        = errors.New("lead not found")
	ErrLeadNotInAutomation = errors.New("lead is not positioned in any automation column")
	ErrLeadNoScheduleLeft  = errors.New("column recurrence has no future fire for this lead")

	// Settings errors
	ErrInvalidBusinessHours = errors.New("business hour end must be after business hour start")
	ErrInvalidQuota         = errors.New("message caps must be positive")
	ErrInvalidTimezone      = errors.New("unknown timezone")

	// Connection errors
	ErrQRNotAvailable    = errors.New("no QR code is available in the current connection state")
	ErrTransportNotReady = errors.New("whatsapp transport is not configured")
	ErrCacheNotAvailable = errors.New("cache not available")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsColumnNotFound(err error) bool {
	return errors.Is(err, ErrColumnNotFound)
}

func IsColumnHasLeads(err error) bool {
	return errors.Is(err, ErrColumnHasLeads)
}

func IsInvalidRecurrence(err error) bool {
	return errors.Is(err, ErrInvalidRecurrence)
}

func IsLeadNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound)
}

func IsLeadNotInAutomation(err error) bool {
	return errors.Is(err, ErrLeadNotInAutomation)
}

func IsInvalidBusinessHours(err error) bool {
	return errors.Is(err, ErrInvalidBusinessHours)
}

func IsQRNotAvailable(err error) bool {
	return errors.Is(err, ErrQRNotAvailable)
}
