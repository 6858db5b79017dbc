package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stocksync/models"
)

// ErrNotFound is returned when a symbol has no registry entry.
var ErrNotFound = errors.New("instrument not registered")

// Registry is the durable source of truth for per-instrument sync
// state. Every state transition writes the whole record in one
// statement, so concurrent readers never observe a half-written entry.
type Registry interface {
	Register(symbol string, attrs Attributes) (*models.Instrument, error)
	Get(symbol string) (*models.Instrument, error)
	ListActive() ([]models.Instrument, error)
	ListDueForSync(staleAfterHours int) ([]models.Instrument, error)
	MarkAttemptStart(symbol string) error
	MarkSuccess(symbol string, recordCount int64, coverageStart, coverageEnd time.Time, qualityScore float64) error
	MarkPartial(symbol string, recordCount int64, qualityScore float64) error
	MarkFailed(symbol string, message string) error
	MarkNoNewData(symbol string) error
	Deactivate(symbol string) error
	RecordAttempt(attempt *models.SyncAttempt) error
	RecentAttempts(limit int) ([]models.SyncAttempt, error)
}

// Attributes are the optional fields supplied at registration time.
type Attributes struct {
	Name     string
	Exchange string
}

// SQLiteRegistry implements Registry on a local sqlite database.
type SQLiteRegistry struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// Open opens (creating if needed) the registry database and runs
// migrations.
func Open(path string, log *logrus.Logger) (*SQLiteRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	if err := models.MigrateRegistryModels(db); err != nil {
		return nil, fmt.Errorf("registry migration failed: %w", err)
	}

	return &SQLiteRegistry{
		db:     db,
		logger: log.WithField("component", "registry"),
	}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRegistry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Register creates a registry entry for a new symbol. Registration is
// idempotent: an already-registered symbol returns the existing entry
// untouched, with a warning.
func (r *SQLiteRegistry) Register(symbol string, attrs Attributes) (*models.Instrument, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	var existing models.Instrument
	err := r.db.Where("symbol = ?", symbol).First(&existing).Error
	if err == nil {
		r.logger.WithField("symbol", symbol).Warn("Instrument already registered, keeping existing entry")
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("registry lookup failed for %s: %w", symbol, err)
	}

	inst := models.Instrument{
		Symbol:         symbol,
		Name:           attrs.Name,
		Exchange:       attrs.Exchange,
		Active:         true,
		SyncEnabled:    true,
		LastSyncStatus: models.SyncStatusPending,
	}
	if err := r.db.Create(&inst).Error; err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", symbol, err)
	}

	r.logger.WithField("symbol", symbol).Info("Instrument registered")
	return &inst, nil
}

// Get returns the registry entry for a symbol.
func (r *SQLiteRegistry) Get(symbol string) (*models.Instrument, error) {
	symbol = models.NormalizeSymbol(symbol)

	var inst models.Instrument
	err := r.db.Where("symbol = ?", symbol).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry lookup failed for %s: %w", symbol, err)
	}
	return &inst, nil
}

// ListActive returns all active, sync-enabled instruments.
func (r *SQLiteRegistry) ListActive() ([]models.Instrument, error) {
	var instruments []models.Instrument
	err := r.db.Where("active = ? AND sync_enabled = ?", true, true).
		Order("symbol").
		Find(&instruments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return instruments, nil
}

// ListDueForSync returns instruments never synced or whose last sync is
// older than the threshold. This is the coarse batch-scheduler filter;
// the freshness engine makes the authoritative per-instrument decision.
func (r *SQLiteRegistry) ListDueForSync(staleAfterHours int) ([]models.Instrument, error) {
	cutoff := time.Now().Add(-time.Duration(staleAfterHours) * time.Hour)

	var instruments []models.Instrument
	err := r.db.Where("active = ? AND sync_enabled = ?", true, true).
		Where("last_sync_at IS NULL OR last_sync_at < ?", cutoff).
		Order("symbol").
		Find(&instruments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due instruments: %w", err)
	}
	return instruments, nil
}

// transition loads the instrument, applies mutate, and saves the whole
// record. Last writer wins; updated_at always advances.
func (r *SQLiteRegistry) transition(symbol string, mutate func(*models.Instrument)) error {
	symbol = models.NormalizeSymbol(symbol)

	var inst models.Instrument
	err := r.db.Where("symbol = ?", symbol).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("registry lookup failed for %s: %w", symbol, err)
	}

	mutate(&inst)
	inst.UpdatedAt = time.Now()

	if err := r.db.Save(&inst).Error; err != nil {
		return fmt.Errorf("failed to update %s: %w", symbol, err)
	}
	return nil
}

// MarkAttemptStart records that a sync attempt is underway.
func (r *SQLiteRegistry) MarkAttemptStart(symbol string) error {
	return r.transition(symbol, func(inst *models.Instrument) {
		inst.LastSyncStatus = models.SyncStatusInProgress
	})
}

// MarkSuccess finalizes a fully successful sync.
func (r *SQLiteRegistry) MarkSuccess(symbol string, recordCount int64, coverageStart, coverageEnd time.Time, qualityScore float64) error {
	now := time.Now()
	return r.transition(symbol, func(inst *models.Instrument) {
		inst.LastSyncAt = &now
		inst.LastSyncStatus = models.SyncStatusSuccess
		inst.TotalRecords = recordCount
		inst.QualityScore = qualityScore
		if !coverageStart.IsZero() {
			start := coverageStart
			if inst.CoverageStart == nil || start.Before(*inst.CoverageStart) {
				inst.CoverageStart = &start
			}
		}
		if !coverageEnd.IsZero() {
			end := coverageEnd
			if inst.CoverageEnd == nil || end.After(*inst.CoverageEnd) {
				inst.CoverageEnd = &end
			}
		}
	})
}

// MarkPartial finalizes a sync where some table categories failed.
func (r *SQLiteRegistry) MarkPartial(symbol string, recordCount int64, qualityScore float64) error {
	now := time.Now()
	return r.transition(symbol, func(inst *models.Instrument) {
		inst.LastSyncAt = &now
		inst.LastSyncStatus = models.SyncStatusPartial
		inst.TotalRecords = recordCount
		inst.QualityScore = qualityScore
	})
}

// MarkFailed finalizes a hard-failed sync. The last-sync timestamp is
// not advanced: a failed attempt must not make the instrument look
// fresh.
func (r *SQLiteRegistry) MarkFailed(symbol string, message string) error {
	err := r.transition(symbol, func(inst *models.Instrument) {
		inst.LastSyncStatus = models.SyncStatusFailed
	})
	if err == nil {
		r.logger.WithField("symbol", symbol).Errorf("Sync failed: %s", message)
	}
	return err
}

// MarkNoNewData advances the last-sync timestamp without changing
// coverage, so quiet polling periods do not re-trigger work.
func (r *SQLiteRegistry) MarkNoNewData(symbol string) error {
	now := time.Now()
	return r.transition(symbol, func(inst *models.Instrument) {
		inst.LastSyncAt = &now
		inst.LastSyncStatus = models.SyncStatusNoNewData
	})
}

// Deactivate disables an instrument without deleting it.
func (r *SQLiteRegistry) Deactivate(symbol string) error {
	return r.transition(symbol, func(inst *models.Instrument) {
		inst.Active = false
		inst.SyncEnabled = false
	})
}

// RecordAttempt appends one audit record. Attempts are append-only and
// never mutated afterward.
func (r *SQLiteRegistry) RecordAttempt(attempt *models.SyncAttempt) error {
	if err := r.db.Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record sync attempt for %s: %w", attempt.Symbol, err)
	}
	return nil
}

// RecentAttempts returns the most recent audit records, newest first.
func (r *SQLiteRegistry) RecentAttempts(limit int) ([]models.SyncAttempt, error) {
	var attempts []models.SyncAttempt
	err := r.db.Order("started_at DESC").Limit(limit).Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sync attempts: %w", err)
	}
	return attempts, nil
}
