package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"stocksync/config"
	"stocksync/models"
)

// VNDirectProvider fetches daily price data from the VNDirect finfo
// API. It implements both MarketDataProvider and CategoryProvider.
type VNDirectProvider struct {
	baseURL string
	http    *resty.Client
	loc     *time.Location
	logger  *logrus.Entry
}

// vndirectResponse is the provider's paged envelope.
type vndirectResponse struct {
	Data          []map[string]interface{} `json:"data"`
	TotalElements int                      `json:"totalElements"`
}

// NewVNDirectProvider creates a provider client from config.
func NewVNDirectProvider(cfg *config.Config, log *logrus.Logger) *VNDirectProvider {
	httpClient := resty.New().
		SetTimeout(cfg.ProviderTimeout).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36").
		SetHeader("Accept", "application/json")

	return &VNDirectProvider{
		baseURL: cfg.PriceAPIURL,
		http:    httpClient,
		loc:     cfg.MarketLocation(),
		logger:  log.WithField("component", "datafetcher"),
	}
}

// FetchDailySeries fetches daily OHLCV bars for a symbol between two
// dates, oldest first.
func (p *VNDirectProvider) FetchDailySeries(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	symbol = models.NormalizeSymbol(symbol)

	query := fmt.Sprintf("code:%s~date:gte:%s~date:lte:%s",
		symbol, from.In(p.loc).Format("2006-01-02"), to.In(p.loc).Format("2006-01-02"))
	endpoint := fmt.Sprintf("%s/stock_prices?sort=date:desc&q=%s&size=%d",
		p.baseURL, url.QueryEscape(query), 5000)

	resp, err := p.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("price request for %s failed: %w", symbol, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrSymbolNotFound
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("price API error for %s (status %d): %s", symbol, resp.StatusCode(), resp.String())
	}

	var payload vndirectResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse price response for %s: %w", symbol, err)
	}
	if len(payload.Data) == 0 {
		return nil, ErrNoData
	}

	bars := make([]models.PriceBar, 0, len(payload.Data))
	for _, row := range payload.Data {
		bar, err := mapPriceBar(symbol, row)
		if err != nil {
			p.logger.WithField("symbol", symbol).Warnf("Skipping malformed price row: %v", err)
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}

	// API returns newest first; callers want chronological order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// mapPriceBar normalizes one loosely-typed payload row. Adjusted fields
// are preferred over raw ones when both are present.
func mapPriceBar(symbol string, row map[string]interface{}) (models.PriceBar, error) {
	date := FallbackString(row, "date", "tradingDate")
	if date == "" {
		return models.PriceBar{}, fmt.Errorf("row has no date")
	}

	bar := models.PriceBar{
		Symbol:        symbol,
		Date:          date,
		Open:          FallbackDecimal(row, "adOpen", "open"),
		High:          FallbackDecimal(row, "adHigh", "high"),
		Low:           FallbackDecimal(row, "adLow", "low"),
		Close:         FallbackDecimal(row, "adClose", "close"),
		AdjClose:      FallbackDecimal(row, "adClose", "close"),
		Volume:        FallbackInt64(row, "nmVolume", "volume", "totalVolume"),
		Change:        FallbackDecimal(row, "adChange", "change"),
		ChangePercent: FallbackDecimal(row, "pctChange", "changePercent"),
	}
	if bar.Close.IsZero() {
		return models.PriceBar{}, fmt.Errorf("row for %s has no close price", date)
	}
	return bar, nil
}

// FetchSnapshot returns the current-price snapshot for a symbol, built
// from the two most recent daily bars.
func (p *VNDirectProvider) FetchSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	now := time.Now().In(p.loc)
	bars, err := p.FetchDailySeries(ctx, symbol, now.AddDate(0, 0, -10), now)
	if err != nil {
		return nil, err
	}

	latest := bars[len(bars)-1]
	snap := &models.Snapshot{
		Symbol:        models.NormalizeSymbol(symbol),
		Price:         latest.Close,
		Change:        latest.Change,
		ChangePercent: latest.ChangePercent,
		MarketState:   "regular",
		AsOf:          now,
	}
	if len(bars) > 1 {
		snap.PreviousClose = bars[len(bars)-2].Close
	}
	return snap, nil
}

// FetchRows fetches one auxiliary analytics table for a symbol as
// generic rows. The upstream endpoints share the finfo envelope shape.
func (p *VNDirectProvider) FetchRows(ctx context.Context, symbol string, category models.TableCategory) ([]map[string]interface{}, error) {
	symbol = models.NormalizeSymbol(symbol)

	endpoint := fmt.Sprintf("%s/%s?q=%s&size=%d",
		p.baseURL, category.Table, url.QueryEscape("code:"+symbol), 500)

	resp, err := p.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s request for %s failed: %w", category.Name, symbol, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNoData
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%s API error for %s (status %d): %s",
			category.Name, symbol, resp.StatusCode(), resp.String())
	}

	var payload vndirectResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse %s response for %s: %w", category.Name, symbol, err)
	}
	if len(payload.Data) == 0 {
		return nil, ErrNoData
	}

	rows := make([]map[string]interface{}, 0, len(payload.Data))
	for _, row := range payload.Data {
		delete(row, "code")
		row["symbol"] = symbol
		rows = append(rows, row)
	}
	return rows, nil
}
