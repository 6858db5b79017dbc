package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stocksync/config"
	"stocksync/services/registry"
	syncsvc "stocksync/services/sync"
)

// SyncController exposes the operational view of the sync engine:
// registry contents, batch progress, audit history, and a manual
// trigger.
type SyncController struct {
	orchestrator *syncsvc.Orchestrator
	registry     registry.Registry
	cfg          *config.Config
	logger       *logrus.Entry
}

// NewSyncController creates a sync controller.
func NewSyncController(orchestrator *syncsvc.Orchestrator, reg registry.Registry, cfg *config.Config, log *logrus.Logger) *SyncController {
	return &SyncController{
		orchestrator: orchestrator,
		registry:     reg,
		cfg:          cfg,
		logger:       log.WithField("component", "api"),
	}
}

// GetInstruments returns all active instruments with their sync state.
func (c *SyncController) GetInstruments(ctx *gin.Context) {
	instruments, err := c.registry.ListActive()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"count":       len(instruments),
		"instruments": instruments,
	})
}

// GetInstrument returns one instrument's registry entry.
func (c *SyncController) GetInstrument(ctx *gin.Context) {
	inst, err := c.registry.Get(ctx.Param("symbol"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, inst)
}

// RegisterInstrument pre-registers a symbol for syncing.
func (c *SyncController) RegisterInstrument(ctx *gin.Context) {
	var req struct {
		Symbol   string `json:"symbol" binding:"required"`
		Name     string `json:"name"`
		Exchange string `json:"exchange"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := c.registry.Register(req.Symbol, registry.Attributes{Name: req.Name, Exchange: req.Exchange})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, inst)
}

// GetSyncStatus returns the current batch progress snapshot.
func (c *SyncController) GetSyncStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.orchestrator.Progress())
}

// GetSyncHistory returns recent audit records, newest first.
func (c *SyncController) GetSyncHistory(ctx *gin.Context) {
	limit := 50
	if raw := ctx.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	attempts, err := c.registry.RecentAttempts(limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"count":    len(attempts),
		"attempts": attempts,
	})
}

// TriggerSync starts a batch run in the background. Admission is
// decided by the orchestrator's single run slot, so a scheduled batch
// racing this request can never double-run.
func (c *SyncController) TriggerSync(ctx *gin.Context) {
	var req struct {
		Symbols   []string `json:"symbols"`
		DryRun    bool     `json:"dry_run"`
		MaxStocks int      `json:"max_stocks"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := syncsvc.Options{
		DryRun:         req.DryRun,
		MaxInstruments: req.MaxStocks,
	}
	err := c.orchestrator.RunAsync(context.Background(), req.Symbols, opts, func(summary *syncsvc.RunSummary, err error) {
		if err != nil {
			c.logger.Errorf("Triggered sync failed: %v", err)
			return
		}
		if !req.DryRun {
			if _, err := syncsvc.WriteRunReport(c.cfg.ReportsDir, summary); err != nil {
				c.logger.Warnf("Failed to write run report: %v", err)
			}
		}
	})
	if errors.Is(err, syncsvc.ErrRunInProgress) {
		ctx.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{"status": "started"})
}
