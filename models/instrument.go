package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Sync status values recorded per instrument and per attempt.
const (
	SyncStatusPending    = "pending"
	SyncStatusInProgress = "in_progress"
	SyncStatusSuccess    = "success"
	SyncStatusPartial    = "partial"
	SyncStatusFailed     = "failed"
	SyncStatusNoNewData  = "no_new_data"
)

// Sync attempt types.
const (
	AttemptFullHistory = "full_history"
	AttemptDaily       = "daily"
	AttemptWeekly      = "weekly"
	AttemptMonthly     = "monthly"
	AttemptRecovery    = "recovery"
)

// Instrument is the registry record for one tracked symbol. It is the
// source of truth for "is this instrument new" and carries the rolled-up
// outcome of the most recent sync attempt. Instruments are never deleted,
// only deactivated.
type Instrument struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Symbol         string     `gorm:"uniqueIndex;not null" json:"symbol"`
	Name           string     `json:"name"`
	Exchange       string     `json:"exchange"`
	Active         bool       `gorm:"default:true" json:"active"`
	SyncEnabled    bool       `gorm:"default:true" json:"sync_enabled"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastSyncStatus string     `gorm:"default:pending" json:"last_sync_status"`
	CoverageStart  *time.Time `json:"coverage_start"`
	CoverageEnd    *time.Time `json:"coverage_end"`
	TotalRecords   int64      `json:"total_records"`
	QualityScore   float64    `json:"quality_score"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NormalizeSymbol uppercases and trims a symbol for registry identity.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// EverSynced reports whether the instrument has at least one successful
// or partial sync behind it.
func (i *Instrument) EverSynced() bool {
	if i.LastSyncAt == nil {
		return false
	}
	return i.LastSyncStatus == SyncStatusSuccess ||
		i.LastSyncStatus == SyncStatusPartial ||
		i.LastSyncStatus == SyncStatusNoNewData
}

// SyncAttempt is one audit record per orchestrator invocation per
// instrument. Rows are append-only: finalized once and never mutated.
type SyncAttempt struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	InstrumentID    uint      `gorm:"index" json:"instrument_id"`
	Symbol          string    `gorm:"index" json:"symbol"`
	AttemptType     string    `json:"attempt_type"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
	RecordsInserted int       `json:"records_inserted"`
	RecordsUpdated  int       `json:"records_updated"`
	RecordsFailed   int       `json:"records_failed"`
	QualityScore    float64   `json:"quality_score"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MigrateRegistryModels runs database migrations for registry models
func MigrateRegistryModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Instrument{},
		&SyncAttempt{},
	)
}
