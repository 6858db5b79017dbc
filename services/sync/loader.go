package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stocksync/config"
	"stocksync/models"
	"stocksync/services/analysis"
	"stocksync/services/datafetcher"
	"stocksync/services/freshness"
	"stocksync/services/registry"
	"stocksync/services/store"
)

// Loader performs the one-time full historical ingestion for instruments
// that have never been synced. Each table category is written
// independently: a category's failure is recorded but does not abort the
// rest, because partial registration beats total loss for a first load.
type Loader struct {
	market     datafetcher.MarketDataProvider
	categories datafetcher.CategoryProvider
	store      *store.Client
	registry   registry.Registry
	calendar   *freshness.Calendar
	cfg        *config.Config
	logger     *logrus.Entry
}

// NewLoader wires a full-history loader.
func NewLoader(
	market datafetcher.MarketDataProvider,
	categories datafetcher.CategoryProvider,
	storeClient *store.Client,
	reg registry.Registry,
	calendar *freshness.Calendar,
	cfg *config.Config,
	log *logrus.Logger,
) *Loader {
	return &Loader{
		market:     market,
		categories: categories,
		store:      storeClient,
		registry:   reg,
		calendar:   calendar,
		cfg:        cfg,
		logger:     log.WithField("component", "loader"),
	}
}

// LoadFull ingests the complete history for a symbol across every table
// category. Calling it twice for the same instrument is safe (idempotent
// upserts) though wasteful; the freshness engine is responsible for not
// doing that. With dryRun, everything runs against a simulation store
// client and the registry is left untouched.
func (l *Loader) LoadFull(ctx context.Context, symbol string, dryRun bool) *SyncResult {
	return l.forRun(dryRun).loadFull(ctx, symbol)
}

// forRun pins the store mode for one run. Dry runs get their own
// derived client so a concurrent real run cannot flip them mid-flight.
func (l *Loader) forRun(dryRun bool) *Loader {
	if !dryRun || l.store.DryRun() {
		return l
	}
	clone := *l
	clone.store = l.store.WithDryRun()
	return &clone
}

func (l *Loader) loadFull(ctx context.Context, symbol string) *SyncResult {
	symbol = models.NormalizeSymbol(symbol)
	result := &SyncResult{
		Symbol:      symbol,
		AttemptType: models.AttemptFullHistory,
		StartedAt:   time.Now(),
	}

	log := l.logger.WithField("symbol", symbol)
	log.Info("Starting full historical load")

	// Implicit registration on first load. Dry runs leave the registry
	// untouched along with everything else.
	inst := &models.Instrument{Symbol: symbol}
	if !l.store.DryRun() {
		registered, err := l.registry.Register(symbol, registry.Attributes{})
		if err != nil {
			result.Status = models.SyncStatusFailed
			result.ErrorMessage = err.Error()
			result.finalize()
			return result
		}
		inst = registered
	}
	l.markStart(symbol)

	now := time.Now()
	from := now.AddDate(0, 0, -l.cfg.HistoryDays)
	bars, err := l.market.FetchDailySeries(ctx, symbol, from, now)
	if err != nil {
		// Without a price history nothing downstream can be derived.
		result.Status = models.SyncStatusFailed
		result.ErrorMessage = fmt.Sprintf("price history fetch failed: %v", err)
		result.finalize()
		l.markFinal(inst, result, bars)
		return result
	}

	// Derived series are computed before any row is written.
	indicators := analysis.ComputeIndicators(bars)
	forecast := analysis.Forecast(bars, l.cfg.ForecastHorizon, l.calendar.Location)

	result.addCategory(l.upsertTyped(ctx, models.CategoryPrices, bars))
	result.addCategory(l.upsertTyped(ctx, models.CategoryIndicators, indicators))
	result.addCategory(l.loadSnapshot(ctx, symbol))
	result.addCategory(l.upsertTyped(ctx, models.CategoryForecasts, forecast))

	for _, category := range models.AllCategories {
		switch category.Name {
		case models.CategoryPrices.Name, models.CategoryIndicators.Name,
			models.CategorySnapshot.Name, models.CategoryForecasts.Name:
			continue
		}
		result.addCategory(l.loadProviderCategory(ctx, symbol, category))
	}

	result.finalize()
	l.markFinal(inst, result, bars)

	log.WithFields(logrus.Fields{
		"status":   result.Status,
		"inserted": result.RecordsInserted,
		"failed":   result.RecordsFailed,
		"quality":  result.QualityScore,
	}).Info("Full load finished")
	return result
}

// upsertTyped writes a slice of JSON-tagged rows to a category's table.
func (l *Loader) upsertTyped(ctx context.Context, category models.TableCategory, v interface{}) CategoryResult {
	cr := CategoryResult{Name: category.Name, Table: category.Table}

	rows, err := store.Rows(v)
	if err != nil {
		cr.Error = err.Error()
		return cr
	}
	return l.upsertRows(ctx, category, rows)
}

func (l *Loader) upsertRows(ctx context.Context, category models.TableCategory, rows []map[string]interface{}) CategoryResult {
	cr := CategoryResult{Name: category.Name, Table: category.Table}
	if len(rows) == 0 {
		return cr
	}

	res, err := l.store.UpsertBatch(ctx, category.Table, rows, category.ConflictKeys)
	cr.Inserted = res.Inserted
	cr.Failed = res.Failed
	if err != nil {
		cr.Error = err.Error()
		l.logger.WithField("category", category.Name).Warnf("Category write incomplete: %v", err)
	}
	return cr
}

// loadSnapshot rewrites the live snapshot row for the symbol.
func (l *Loader) loadSnapshot(ctx context.Context, symbol string) CategoryResult {
	cr := CategoryResult{Name: models.CategorySnapshot.Name, Table: models.CategorySnapshot.Table}

	snap, err := l.market.FetchSnapshot(ctx, symbol)
	if err != nil {
		if errors.Is(err, datafetcher.ErrNoData) {
			return cr
		}
		cr.Error = err.Error()
		return cr
	}
	return l.upsertTyped(ctx, models.CategorySnapshot, []models.Snapshot{*snap})
}

// loadProviderCategory fetches and writes one auxiliary analytics
// category. An empty upstream response is a clean no-op, not a failure.
func (l *Loader) loadProviderCategory(ctx context.Context, symbol string, category models.TableCategory) CategoryResult {
	cr := CategoryResult{Name: category.Name, Table: category.Table}

	rows, err := l.categories.FetchRows(ctx, symbol, category)
	if err != nil {
		if errors.Is(err, datafetcher.ErrNoData) {
			return cr
		}
		cr.Error = err.Error()
		return cr
	}
	return l.upsertRows(ctx, category, rows)
}

// markStart records the in-progress transition, skipped in dry-run mode.
func (l *Loader) markStart(symbol string) {
	if l.store.DryRun() {
		return
	}
	if err := l.registry.MarkAttemptStart(symbol); err != nil {
		l.logger.WithField("symbol", symbol).Warnf("Failed to mark attempt start: %v", err)
	}
}

// markFinal rolls the attempt outcome up to the instrument record.
func (l *Loader) markFinal(inst *models.Instrument, result *SyncResult, bars []models.PriceBar) {
	if l.store.DryRun() {
		return
	}

	var err error
	switch result.Status {
	case models.SyncStatusSuccess:
		var coverageStart, coverageEnd time.Time
		if len(bars) > 0 {
			coverageStart, _ = bars[0].ParseDate(l.calendar.Location)
			coverageEnd, _ = bars[len(bars)-1].ParseDate(l.calendar.Location)
		}
		err = l.registry.MarkSuccess(inst.Symbol, int64(result.RecordsInserted), coverageStart, coverageEnd, result.QualityScore)
	case models.SyncStatusPartial:
		err = l.registry.MarkPartial(inst.Symbol, int64(result.RecordsInserted), result.QualityScore)
	default:
		err = l.registry.MarkFailed(inst.Symbol, result.ErrorMessage)
	}
	if err != nil {
		l.logger.WithField("symbol", inst.Symbol).Errorf("Failed to finalize registry state: %v", err)
	}
}
