package analysis

import (
	"math"

	"github.com/shopspring/decimal"

	"stocksync/models"
)

// Longest indicator lookback. The incremental updater sizes its context
// window so SMA200 is always computable for the rows it persists.
const MaxLookback = 200

// ComputeIndicators derives the full technical indicator table for a
// chronological price window. It is a pure function of its input: the
// same window always yields the same rows, which is what lets the
// updater recompute over the whole context window instead of doing
// drift-prone incremental math.
func ComputeIndicators(bars []models.PriceBar) []models.IndicatorRow {
	if len(bars) == 0 {
		return nil
	}

	closes := make([]decimal.Decimal, len(bars))
	volumes := make([]decimal.Decimal, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
		volumes[i] = decimal.NewFromInt(bar.Volume)
	}

	ema12 := emaSeries(closes, 12)
	ema26 := emaSeries(closes, 26)

	macd := make([]decimal.Decimal, len(bars))
	for i := range bars {
		macd[i] = ema12[i].Sub(ema26[i])
	}
	signal := emaSeries(macd, 9)

	rows := make([]models.IndicatorRow, len(bars))
	for i, bar := range bars {
		row := models.IndicatorRow{
			Symbol:     bar.Symbol,
			Date:       bar.Date,
			SMA20:      sma(closes, i, 20),
			SMA50:      sma(closes, i, 50),
			SMA200:     sma(closes, i, 200),
			EMA12:      ema12[i],
			EMA26:      ema26[i],
			RSI14:      rsi(closes, i, 14),
			MACD:       macd[i],
			MACDSignal: signal[i],
			MACDHist:   macd[i].Sub(signal[i]),
			AvgVol20:   sma(volumes, i, 20),
		}
		row.BBUpper, row.BBLower = bollinger(closes, i, 20)
		rows[i] = row
	}
	return rows
}

// sma returns the simple moving average ending at index i, or zero when
// the window is not yet full.
func sma(values []decimal.Decimal, i, period int) decimal.Decimal {
	if i+1 < period {
		return decimal.Zero
	}
	sum := decimal.Zero
	for j := i - period + 1; j <= i; j++ {
		sum = sum.Add(values[j])
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// emaSeries returns the exponential moving average at every index,
// seeded with the first value.
func emaSeries(values []decimal.Decimal, period int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	if len(values) == 0 {
		return out
	}

	multiplier := decimal.NewFromFloat(2.0 / float64(period+1))
	ema := values[0]
	out[0] = ema
	for i := 1; i < len(values); i++ {
		ema = values[i].Sub(ema).Mul(multiplier).Add(ema)
		out[i] = ema
	}
	return out
}

// rsi returns the relative strength index over the trailing period
// ending at index i.
func rsi(closes []decimal.Decimal, i, period int) decimal.Decimal {
	if i < period {
		return decimal.Zero
	}

	gains := decimal.Zero
	losses := decimal.Zero
	for j := i - period + 1; j <= i; j++ {
		change := closes[j].Sub(closes[j-1])
		if change.GreaterThan(decimal.Zero) {
			gains = gains.Add(change)
		} else {
			losses = losses.Add(change.Abs())
		}
	}

	if losses.IsZero() {
		return decimal.NewFromInt(100)
	}

	rs := gains.Div(losses)
	return decimal.NewFromInt(100).Sub(
		decimal.NewFromInt(100).Div(decimal.NewFromInt(1).Add(rs)),
	)
}

// bollinger returns the upper and lower bands (2 standard deviations
// around SMA20) at index i.
func bollinger(closes []decimal.Decimal, i, period int) (decimal.Decimal, decimal.Decimal) {
	mid := sma(closes, i, period)
	if mid.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	midFloat, _ := mid.Float64()
	var variance float64
	for j := i - period + 1; j <= i; j++ {
		closeFloat, _ := closes[j].Float64()
		diff := closeFloat - midFloat
		variance += diff * diff
	}
	stdDev := decimal.NewFromFloat(math.Sqrt(variance / float64(period)))

	band := stdDev.Mul(decimal.NewFromInt(2))
	return mid.Add(band), mid.Sub(band)
}
