package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stocksync/models"
	"stocksync/services/registry"
)

func TestLoadFullWritesEveryCategory(t *testing.T) {
	env := newTestEnv(t)

	end := env.calendar.LastCompletedSession(time.Now())
	env.market.bars = seriesEnding("VNM", end, 30)
	env.market.snapshot = &models.Snapshot{
		Symbol: "VNM",
		Price:  decimal.NewFromFloat(114.5),
		AsOf:   time.Now(),
	}

	result := env.loader.LoadFull(context.Background(), "vnm", false)

	require.Equal(t, models.SyncStatusSuccess, result.Status)
	require.Equal(t, 1.0, result.QualityScore)
	require.Zero(t, result.RecordsFailed)

	require.Len(t, env.remote.posted("stock_prices"), 30)
	require.Len(t, env.remote.posted("stock_indicators"), 30)
	require.Len(t, env.remote.posted("stock_snapshots"), 1)
	require.Len(t, env.remote.posted("stock_forecasts"), env.cfg.ForecastHorizon)
	// Auxiliary analytics categories land one row each.
	require.Len(t, env.remote.posted("stock_fundamentals"), 1)
	require.Len(t, env.remote.posted("stock_dividends"), 1)

	inst, err := env.registry.Get("VNM")
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusSuccess, inst.LastSyncStatus)
	require.EqualValues(t, result.RecordsInserted, inst.TotalRecords)
	require.True(t, inst.EverSynced())
}

func TestLoadFullCategoryFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)

	end := env.calendar.LastCompletedSession(time.Now())
	env.market.bars = seriesEnding("FPT", end, 30)
	env.cats.errs["fundamentals"] = errors.New("upstream returned 500")

	result := env.loader.LoadFull(context.Background(), "FPT", false)

	// One category out of thirteen failed; everything else must land.
	require.Equal(t, models.SyncStatusPartial, result.Status)
	require.Len(t, env.remote.posted("stock_prices"), 30)
	require.Len(t, env.remote.posted("stock_indicators"), 30)
	require.Empty(t, env.remote.posted("stock_fundamentals"))
	require.InDelta(t, 12.0/13.0, result.QualityScore, 1e-9)

	inst, err := env.registry.Get("FPT")
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusPartial, inst.LastSyncStatus)
}

func TestLoadFullFailsWithoutPriceHistory(t *testing.T) {
	env := newTestEnv(t)
	env.market.err = errors.New("provider unreachable")

	result := env.loader.LoadFull(context.Background(), "HPG", false)

	require.Equal(t, models.SyncStatusFailed, result.Status)
	require.Contains(t, result.ErrorMessage, "price history fetch failed")
	require.Zero(t, env.remote.totalPosts(), "nothing may be written without a price history")

	inst, err := env.registry.Get("HPG")
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusFailed, inst.LastSyncStatus)
	require.False(t, inst.EverSynced())
}

func TestLoadFullDryRunTouchesNothing(t *testing.T) {
	env := newTestEnv(t)

	end := env.calendar.LastCompletedSession(time.Now())
	env.market.bars = seriesEnding("MWG", end, 30)

	result := env.loader.LoadFull(context.Background(), "MWG", true)

	// The simulated run still reports would-be counts.
	require.Equal(t, models.SyncStatusSuccess, result.Status)
	require.Positive(t, result.RecordsInserted)

	require.Zero(t, env.remote.totalPosts(), "dry run must not write remotely")
	_, err := env.registry.Get("MWG")
	require.ErrorIs(t, err, registry.ErrNotFound, "dry run must not register instruments")

	// The shared client stays in real mode: a dry run gets its own
	// derived client, so it cannot leak simulation mode into a later
	// (or concurrent) real run.
	require.False(t, env.store.DryRun())
	real := env.loader.LoadFull(context.Background(), "MWG", false)
	require.Equal(t, models.SyncStatusSuccess, real.Status)
	require.Positive(t, env.remote.totalPosts(), "the real run after a dry run must write")
}
