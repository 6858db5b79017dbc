package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar represents one daily OHLCV row as fetched from the market
// data provider and persisted to the remote stock_prices table.
type PriceBar struct {
	Symbol        string          `json:"symbol"`
	Date          string          `json:"date"` // YYYY-MM-DD in market timezone
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	AdjClose      decimal.Decimal `json:"adj_close"`
	Volume        int64           `json:"volume"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// ParseDate returns the bar's calendar date in the given location.
func (b PriceBar) ParseDate(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", b.Date, loc)
}

// IndicatorRow holds the derived technical indicators for one symbol/day.
// Recomputed in full over the context window on every update.
type IndicatorRow struct {
	Symbol     string          `json:"symbol"`
	Date       string          `json:"date"`
	SMA20      decimal.Decimal `json:"sma_20"`
	SMA50      decimal.Decimal `json:"sma_50"`
	SMA200     decimal.Decimal `json:"sma_200"`
	EMA12      decimal.Decimal `json:"ema_12"`
	EMA26      decimal.Decimal `json:"ema_26"`
	RSI14      decimal.Decimal `json:"rsi_14"`
	MACD       decimal.Decimal `json:"macd"`
	MACDSignal decimal.Decimal `json:"macd_signal"`
	MACDHist   decimal.Decimal `json:"macd_hist"`
	BBUpper    decimal.Decimal `json:"bb_upper"`
	BBLower    decimal.Decimal `json:"bb_lower"`
	AvgVol20   decimal.Decimal `json:"avg_vol_20"`
}

// ForecastRow is one projected price point from the forecaster.
type ForecastRow struct {
	Symbol     string          `json:"symbol"`
	Date       string          `json:"date"`
	Predicted  decimal.Decimal `json:"predicted_close"`
	Lower      decimal.Decimal `json:"lower_bound"`
	Upper      decimal.Decimal `json:"upper_bound"`
	HorizonDay int             `json:"horizon_day"`
	Model      string          `json:"model"`
}

// Snapshot is the live "current state" record for a symbol. Snapshot
// tables are rewritten in full on every sync, never appended.
type Snapshot struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	MarketState   string          `json:"market_state"` // "open", "closed", "pre"
	AsOf          time.Time       `json:"as_of"`
}
