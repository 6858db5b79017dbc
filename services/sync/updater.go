package sync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
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

// Updater performs incremental daily refreshes for instruments that
// already have history loaded. It trusts the remote store, not the
// registry, for the last confirmed data date, and recomputes indicators
// over the whole context window rather than doing incremental math.
type Updater struct {
	market   datafetcher.MarketDataProvider
	store    *store.Client
	registry registry.Registry
	calendar *freshness.Calendar
	cfg      *config.Config
	logger   *logrus.Entry
}

// NewUpdater wires an incremental updater.
func NewUpdater(
	market datafetcher.MarketDataProvider,
	storeClient *store.Client,
	reg registry.Registry,
	calendar *freshness.Calendar,
	cfg *config.Config,
	log *logrus.Logger,
) *Updater {
	return &Updater{
		market:   market,
		store:    storeClient,
		registry: reg,
		calendar: calendar,
		cfg:      cfg,
		logger:   log.WithField("component", "updater"),
	}
}

// UpdateDaily fetches a context window of raw data, recomputes the
// derived indicators over it, and writes only rows strictly newer than
// the last confirmed date. With forceIntraday, a same-day row is
// replaced instead of skipped so the latest intraday price lands.
// With dryRun, the run executes against a simulation store client and
// leaves the registry untouched.
func (u *Updater) UpdateDaily(ctx context.Context, symbol string, forceIntraday, dryRun bool) *SyncResult {
	return u.forRun(dryRun).updateDaily(ctx, symbol, forceIntraday)
}

// forRun pins the store mode for one run. Dry runs get their own
// derived client so a concurrent real run cannot flip them mid-flight.
func (u *Updater) forRun(dryRun bool) *Updater {
	if !dryRun || u.store.DryRun() {
		return u
	}
	clone := *u
	clone.store = u.store.WithDryRun()
	return &clone
}

func (u *Updater) updateDaily(ctx context.Context, symbol string, forceIntraday bool) *SyncResult {
	symbol = models.NormalizeSymbol(symbol)
	result := &SyncResult{
		Symbol:      symbol,
		AttemptType: models.AttemptDaily,
		StartedAt:   time.Now(),
	}
	log := u.logger.WithField("symbol", symbol)
	u.markStart(symbol)

	// The last confirmed date comes from the rows actually present
	// remotely. A malformed or lying registry timestamp recovers here.
	var lastConfirmed *time.Time
	lastDateStr, err := u.store.LatestDate(ctx, models.CategoryPrices.Table, symbol)
	switch {
	case err == nil:
		parsed, perr := time.ParseInLocation("2006-01-02", lastDateStr, u.calendar.Location)
		if perr != nil {
			result.Status = models.SyncStatusFailed
			result.ErrorMessage = fmt.Sprintf("malformed last data date %q: %v", lastDateStr, perr)
			result.finalize()
			u.markFinal(symbol, result, nil)
			return result
		}
		lastConfirmed = &parsed
	case errors.Is(err, store.ErrNotFound):
		// No rows at all: fall through and treat the whole window as new.
		result.AttemptType = models.AttemptRecovery
		log.Warn("No confirmed rows in price table, running recovery update")
	default:
		result.Status = models.SyncStatusFailed
		result.ErrorMessage = fmt.Sprintf("failed to read last data date: %v", err)
		result.finalize()
		u.markFinal(symbol, result, nil)
		return result
	}

	// Context window: far enough back that the longest indicator
	// lookback is satisfied for every row that will be persisted.
	now := time.Now()
	anchor := now
	if lastConfirmed != nil {
		anchor = *lastConfirmed
	}
	from := anchor.AddDate(0, 0, -u.contextDays())

	bars, err := u.market.FetchDailySeries(ctx, symbol, from, now)
	if err != nil {
		if errors.Is(err, datafetcher.ErrNoData) {
			u.recordNoNewData(symbol, result)
			return result
		}
		result.Status = models.SyncStatusFailed
		result.ErrorMessage = fmt.Sprintf("context window fetch failed: %v", err)
		result.finalize()
		u.markFinal(symbol, result, nil)
		return result
	}

	// Recompute the full derived series before any write so rows never
	// land with stale derived values.
	indicators := analysis.ComputeIndicators(bars)

	today := u.calendar.MarketDate(now)
	replaceToday := forceIntraday && lastConfirmed != nil && u.calendar.MarketDate(*lastConfirmed).Equal(today)

	newBars := filterBars(bars, lastConfirmed, replaceToday, u.calendar)
	newIndicators := filterIndicators(indicators, lastConfirmed, replaceToday, u.calendar)

	if len(newBars) == 0 {
		u.recordNoNewData(symbol, result)
		return result
	}

	if replaceToday {
		// Replace-not-append: drop today's row so the rewrite reflects
		// the latest intraday price.
		if err := u.deleteDay(ctx, symbol, today); err != nil {
			log.Warnf("Failed to clear today's rows before rewrite: %v", err)
		}
		result.RecordsUpdated = len(newBars)
	}

	result.addCategory(u.upsertTyped(ctx, models.CategoryPrices, newBars))
	result.addCategory(u.upsertTyped(ctx, models.CategoryIndicators, newIndicators))
	result.addCategory(u.updateSnapshot(ctx, symbol))

	result.finalize()
	u.markFinal(symbol, result, newBars)

	log.WithFields(logrus.Fields{
		"status":   result.Status,
		"inserted": result.RecordsInserted,
		"window":   len(bars),
	}).Info("Incremental update finished")
	return result
}

// contextDays sizes the fetch window so the longest indicator lookback
// is full for every row that can be persisted. MaxLookback counts
// trading days while the window is calendar days, so scale by 7/5 and
// pad for exchange holidays. A larger configured window wins.
func (u *Updater) contextDays() int {
	floor := analysis.MaxLookback*7/5 + 30
	if u.cfg.ContextWindowDays > floor {
		return u.cfg.ContextWindowDays
	}
	return floor
}

// filterBars keeps rows strictly after the last confirmed date, or from
// that date inclusive when today's row is being replaced.
func filterBars(bars []models.PriceBar, lastConfirmed *time.Time, replaceToday bool, cal *freshness.Calendar) []models.PriceBar {
	if lastConfirmed == nil {
		return bars
	}
	cutoff := cal.MarketDate(*lastConfirmed)

	var out []models.PriceBar
	for _, bar := range bars {
		date, err := bar.ParseDate(cal.Location)
		if err != nil {
			continue
		}
		if date.After(cutoff) || (replaceToday && date.Equal(cutoff)) {
			out = append(out, bar)
		}
	}
	return out
}

func filterIndicators(rows []models.IndicatorRow, lastConfirmed *time.Time, replaceToday bool, cal *freshness.Calendar) []models.IndicatorRow {
	if lastConfirmed == nil {
		return rows
	}
	cutoff := cal.MarketDate(*lastConfirmed)

	var out []models.IndicatorRow
	for _, row := range rows {
		date, err := time.ParseInLocation("2006-01-02", row.Date, cal.Location)
		if err != nil {
			continue
		}
		if date.After(cutoff) || (replaceToday && date.Equal(cutoff)) {
			out = append(out, row)
		}
	}
	return out
}

// deleteDay removes the price and indicator rows for one symbol/day.
func (u *Updater) deleteDay(ctx context.Context, symbol string, day time.Time) error {
	filters := url.Values{}
	filters.Set("symbol", "eq."+symbol)
	filters.Set("date", "eq."+day.Format("2006-01-02"))

	if err := u.store.Delete(ctx, models.CategoryPrices.Table, filters); err != nil {
		return err
	}
	return u.store.Delete(ctx, models.CategoryIndicators.Table, filters)
}

// updateSnapshot rewrites the live snapshot row. Snapshot tables carry
// current state, not a time series, so the date filter never applies.
func (u *Updater) updateSnapshot(ctx context.Context, symbol string) CategoryResult {
	cr := CategoryResult{Name: models.CategorySnapshot.Name, Table: models.CategorySnapshot.Table}

	snap, err := u.market.FetchSnapshot(ctx, symbol)
	if err != nil {
		if errors.Is(err, datafetcher.ErrNoData) {
			return cr
		}
		cr.Error = err.Error()
		return cr
	}
	return u.upsertTyped(ctx, models.CategorySnapshot, []models.Snapshot{*snap})
}

func (u *Updater) upsertTyped(ctx context.Context, category models.TableCategory, v interface{}) CategoryResult {
	cr := CategoryResult{Name: category.Name, Table: category.Table}

	rows, err := store.Rows(v)
	if err != nil {
		cr.Error = err.Error()
		return cr
	}
	if len(rows) == 0 {
		return cr
	}

	res, err := u.store.UpsertBatch(ctx, category.Table, rows, category.ConflictKeys)
	cr.Inserted = res.Inserted
	cr.Failed = res.Failed
	if err != nil {
		cr.Error = err.Error()
	}
	return cr
}

// recordNoNewData closes the attempt as a quiet success and still
// advances the registry timestamp so repeated polling during a quiet
// period does not re-trigger work every cycle.
func (u *Updater) recordNoNewData(symbol string, result *SyncResult) {
	result.Status = models.SyncStatusNoNewData
	result.Duration = time.Since(result.StartedAt)
	result.QualityScore = 1.0

	if u.store.DryRun() {
		return
	}
	if err := u.registry.MarkNoNewData(symbol); err != nil {
		u.logger.WithField("symbol", symbol).Warnf("Failed to record no_new_data: %v", err)
	}
}

func (u *Updater) markStart(symbol string) {
	if u.store.DryRun() {
		return
	}
	if err := u.registry.MarkAttemptStart(symbol); err != nil {
		u.logger.WithField("symbol", symbol).Warnf("Failed to mark attempt start: %v", err)
	}
}

func (u *Updater) markFinal(symbol string, result *SyncResult, newBars []models.PriceBar) {
	if u.store.DryRun() {
		return
	}

	var err error
	switch result.Status {
	case models.SyncStatusSuccess:
		var coverageEnd time.Time
		if len(newBars) > 0 {
			coverageEnd, _ = newBars[len(newBars)-1].ParseDate(u.calendar.Location)
		}
		total := u.totalRecords(symbol, result.RecordsInserted)
		err = u.registry.MarkSuccess(symbol, total, time.Time{}, coverageEnd, result.QualityScore)
	case models.SyncStatusPartial:
		total := u.totalRecords(symbol, result.RecordsInserted)
		err = u.registry.MarkPartial(symbol, total, result.QualityScore)
	case models.SyncStatusNoNewData:
		// Already recorded.
	default:
		err = u.registry.MarkFailed(symbol, result.ErrorMessage)
	}
	if err != nil {
		u.logger.WithField("symbol", symbol).Errorf("Failed to finalize registry state: %v", err)
	}
}

// totalRecords reads the authoritative row count from the remote store,
// falling back to the registry's previous count plus this run's inserts.
func (u *Updater) totalRecords(symbol string, inserted int) int64 {
	filters := url.Values{}
	filters.Set("symbol", "eq."+symbol)

	count, err := u.store.Count(context.Background(), models.CategoryPrices.Table, filters)
	if err == nil && count > 0 {
		return count
	}

	if inst, err := u.registry.Get(symbol); err == nil {
		return inst.TotalRecords + int64(inserted)
	}
	return int64(inserted)
}
