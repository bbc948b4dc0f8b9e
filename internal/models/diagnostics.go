package models

import "time"

// CoordinatorDiagnostics describes the update coordinator's state.
type CoordinatorDiagnostics struct {
	DeviceCount       int    `json:"device_count"`
	LastUpdateSuccess uint64 `json:"last_update_success"`
	EmptyFetchStreak  int    `json:"empty_fetch_streak"`
	LastErrorKind     string `json:"last_error_kind,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// APIDiagnostics describes the API client's state. Credentials themselves
// are never included, only whether they are configured.
type APIDiagnostics struct {
	HasCredentials  bool `json:"has_credentials"`
	IsAuthenticated bool `json:"is_authenticated"`
	GroupsCacheSize int  `json:"groups_cache_size"`
}

// ProcessDiagnostics describes the agent process itself.
type ProcessDiagnostics struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
}

// Diagnostics is the periodic agent health payload.
type Diagnostics struct {
	Timestamp   time.Time              `json:"timestamp"`
	Coordinator CoordinatorDiagnostics `json:"coordinator"`
	API         APIDiagnostics         `json:"api"`
	Process     ProcessDiagnostics     `json:"process"`
}
