package datafetcher

import (
	"context"
	"errors"
	"time"

	"stocksync/models"
)

// ErrNoData marks a provider response that contained no rows for the
// requested symbol. It is a terminal non-error state, not a failure.
var ErrNoData = errors.New("no data returned")

// ErrSymbolNotFound marks a symbol the provider does not know at all.
var ErrSymbolNotFound = errors.New("symbol not found")

// MarketDataProvider is the raw market-data fetch layer, consumed as a
// black box that returns daily OHLCV rows and a current-price snapshot.
type MarketDataProvider interface {
	FetchDailySeries(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error)
	FetchSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error)
}

// CategoryProvider fetches the auxiliary analytics tables (fundamentals,
// ownership, dividends, sentiment, insider transactions, analyst data)
// as generic rows ready for upsert. Each category is fetched and fails
// independently.
type CategoryProvider interface {
	FetchRows(ctx context.Context, symbol string, category models.TableCategory) ([]map[string]interface{}, error)
}
