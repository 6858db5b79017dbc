package analysis

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"stocksync/models"
)

// driftLookback is how many trailing sessions feed the drift estimate.
const driftLookback = 60

// Forecast projects closing prices over the given horizon of trading
// days using a drift model: the average daily return of the trailing
// window, with widening confidence bounds. It is a pure function of the
// price window.
func Forecast(bars []models.PriceBar, horizonDays int, loc *time.Location) []models.ForecastRow {
	if len(bars) < 2 || horizonDays <= 0 {
		return nil
	}

	window := bars
	if len(window) > driftLookback {
		window = window[len(window)-driftLookback:]
	}

	// Mean and standard deviation of daily returns.
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev, _ := window[i-1].Close.Float64()
		cur, _ := window[i].Close.Float64()
		if prev > 0 {
			returns = append(returns, cur/prev-1)
		}
	}
	if len(returns) == 0 {
		return nil
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)))

	last := bars[len(bars)-1]
	lastClose, _ := last.Close.Float64()
	lastDate, err := last.ParseDate(loc)
	if err != nil {
		return nil
	}

	rows := make([]models.ForecastRow, 0, horizonDays)
	date := lastDate
	for day := 1; day <= horizonDays; day++ {
		date = nextTradingDay(date)

		predicted := lastClose * math.Pow(1+mean, float64(day))
		spread := predicted * 2 * stdDev * math.Sqrt(float64(day))

		rows = append(rows, models.ForecastRow{
			Symbol:     last.Symbol,
			Date:       date.Format("2006-01-02"),
			Predicted:  decimal.NewFromFloat(predicted).Round(2),
			Lower:      decimal.NewFromFloat(predicted - spread).Round(2),
			Upper:      decimal.NewFromFloat(predicted + spread).Round(2),
			HorizonDay: day,
			Model:      "drift",
		})
	}
	return rows
}

func nextTradingDay(d time.Time) time.Time {
	d = d.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
