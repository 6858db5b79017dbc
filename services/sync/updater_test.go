package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stocksync/models"
	"stocksync/services/analysis"
)

func TestUpdateDailyNoNewDataIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	lastSession := env.calendar.LastCompletedSession(time.Now())
	env.market.bars = seriesEnding("VNM", lastSession, 30)
	env.remote.setLatest("VNM", lastSession.Format("2006-01-02"))
	env.registry.seed("VNM", time.Now().Add(-2*time.Hour), models.SyncStatusSuccess)

	before := env.registry.instruments["VNM"].LastSyncAt

	// Two quiet polls in a row: both close cleanly and neither writes.
	for i := 0; i < 2; i++ {
		result := env.updater.UpdateDaily(context.Background(), "VNM", false, false)
		require.Equal(t, models.SyncStatusNoNewData, result.Status)
		require.Equal(t, 1.0, result.QualityScore)
	}
	require.Zero(t, env.remote.totalPosts())
	require.Empty(t, env.remote.deletions())

	inst := env.registry.instruments["VNM"]
	require.Equal(t, models.SyncStatusNoNewData, inst.LastSyncStatus)
	require.True(t, inst.LastSyncAt.After(*before), "quiet polls still advance the sync timestamp")
}

func TestUpdateDailyWritesOnlyRowsAfterLastConfirmed(t *testing.T) {
	env := newTestEnv(t)

	lastSession := env.calendar.LastCompletedSession(time.Now())
	lastConfirmed := lastSession.AddDate(0, 0, -2)

	env.market.bars = seriesEnding("FPT", lastSession, 30)
	env.remote.setLatest("FPT", lastConfirmed.Format("2006-01-02"))
	env.registry.seed("FPT", time.Now().Add(-48*time.Hour), models.SyncStatusSuccess)
	env.remote.setRowCount(250)

	result := env.updater.UpdateDaily(context.Background(), "FPT", false, false)

	require.Equal(t, models.SyncStatusSuccess, result.Status)
	require.Equal(t, models.AttemptDaily, result.AttemptType)

	prices := env.remote.posted("stock_prices")
	require.Len(t, prices, 2, "only the two days after the last confirmed row")
	cutoff := lastConfirmed.Format("2006-01-02")
	for _, row := range prices {
		require.Greater(t, row["date"].(string), cutoff)
	}

	// Indicators are recomputed over the whole window but persisted for
	// the same new dates only.
	require.Len(t, env.remote.posted("stock_indicators"), 2)

	inst := env.registry.instruments["FPT"]
	require.Equal(t, models.SyncStatusSuccess, inst.LastSyncStatus)
	require.EqualValues(t, 250, inst.TotalRecords, "row count comes from the remote store, not local math")
}

func TestUpdateDailyRecoversWhenRemoteIsEmpty(t *testing.T) {
	env := newTestEnv(t)

	// Registry claims a sync happened, but the price table has no rows.
	lastSession := env.calendar.LastCompletedSession(time.Now())
	env.market.bars = seriesEnding("HPG", lastSession, 30)
	env.registry.seed("HPG", time.Now().Add(-48*time.Hour), models.SyncStatusSuccess)

	result := env.updater.UpdateDaily(context.Background(), "HPG", false, false)

	require.Equal(t, models.AttemptRecovery, result.AttemptType)
	require.Equal(t, models.SyncStatusSuccess, result.Status)
	require.Len(t, env.remote.posted("stock_prices"), 30, "the whole window is treated as new")
}

func TestUpdateIntradayReplacesTodaysRow(t *testing.T) {
	env := newTestEnv(t)

	today := env.calendar.MarketDate(time.Now())
	todayStr := today.Format("2006-01-02")

	env.market.bars = seriesEnding("VIC", today, 30)
	env.remote.setLatest("VIC", todayStr)
	env.registry.seed("VIC", time.Now().Add(-90*time.Minute), models.SyncStatusSuccess)

	result := env.updater.UpdateDaily(context.Background(), "VIC", true, false)

	require.Equal(t, models.SyncStatusSuccess, result.Status)
	require.Equal(t, 1, result.RecordsUpdated)

	// Replace, not append: today's rows are cleared before the rewrite.
	deletions := env.remote.deletions()
	require.Len(t, deletions, 2)
	for _, d := range deletions {
		require.Contains(t, d, "date=eq."+todayStr)
		require.Contains(t, d, "symbol=eq.VIC")
	}
	require.True(t, strings.HasPrefix(deletions[0], "stock_prices?"))
	require.True(t, strings.HasPrefix(deletions[1], "stock_indicators?"))

	prices := env.remote.posted("stock_prices")
	require.Len(t, prices, 1)
	require.Equal(t, todayStr, prices[0]["date"])
}

func TestUpdateDailyWindowCoversLongestIndicatorLookback(t *testing.T) {
	env := newTestEnv(t)
	env.market.serveWindow = true

	lastSession := env.calendar.LastCompletedSession(time.Now())
	lastConfirmed := lastSession.AddDate(0, 0, -2)
	env.remote.setLatest("VNM", lastConfirmed.Format("2006-01-02"))
	env.registry.seed("VNM", time.Now().Add(-48*time.Hour), models.SyncStatusSuccess)

	result := env.updater.UpdateDaily(context.Background(), "VNM", false, false)
	require.Equal(t, models.SyncStatusSuccess, result.Status)

	// The configured window here is far too small for a 200-day
	// average; the updater must widen it to the longest lookback,
	// scaled from trading days to calendar days.
	requestedDays := int(env.market.lastTo.Sub(env.market.lastFrom).Hours() / 24)
	require.GreaterOrEqual(t, requestedDays, analysis.MaxLookback*7/5)

	// Every persisted indicator row sits deep enough in the window
	// that its 200-day average is fully populated.
	rows := env.remote.posted("stock_indicators")
	require.NotEmpty(t, rows)
	for _, row := range rows {
		sma := decimal.RequireFromString(row["sma_200"].(string))
		require.True(t, sma.IsPositive(), "row %v must carry a full 200-day average", row["date"])
	}
}

func TestUpdateDailyWithoutForceNeverRewritesToday(t *testing.T) {
	env := newTestEnv(t)

	today := env.calendar.MarketDate(time.Now())
	env.market.bars = seriesEnding("VIC", today, 30)
	env.remote.setLatest("VIC", today.Format("2006-01-02"))
	env.registry.seed("VIC", time.Now().Add(-90*time.Minute), models.SyncStatusSuccess)

	result := env.updater.UpdateDaily(context.Background(), "VIC", false, false)

	require.Equal(t, models.SyncStatusNoNewData, result.Status)
	require.Zero(t, env.remote.totalPosts())
	require.Empty(t, env.remote.deletions())
}
