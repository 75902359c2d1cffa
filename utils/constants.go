package utils

import (
	"time"
)

// Dispatch defaults
const (
	// DefaultTickInterval is how often the dispatch scheduler evaluates columns
	DefaultTickInterval = 10 * time.Second

	// DefaultSendTimeout bounds a single transport send
	DefaultSendTimeout = 30 * time.Second

	// QuotaHourWindow and QuotaDayWindow are the rolling quota windows
	QuotaHourWindow = time.Hour
	QuotaDayWindow  = 24 * time.Hour

	// LedgerRetention keeps enough history to evaluate the daily window
	LedgerRetention = 48 * time.Hour

	// SettingsCacheTTL bounds how long a cached settings snapshot may be served
	SettingsCacheTTL = 30 * time.Second
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// AutomationSettingsID is the primary key of the singleton settings row
const AutomationSettingsID uint = 1
