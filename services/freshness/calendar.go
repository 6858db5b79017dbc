package freshness

import "time"

// Calendar answers trading-day and market-hours questions for one
// market. All answers are computed in the market's own timezone,
// never the process's local timezone.
type Calendar struct {
	Location  *time.Location
	OpenHour  int
	CloseHour int
}

// NewCalendar builds a calendar for the given market timezone and
// trading hours.
func NewCalendar(loc *time.Location, openHour, closeHour int) *Calendar {
	return &Calendar{Location: loc, OpenHour: openHour, CloseHour: closeHour}
}

// IsTradingDay reports whether the given instant falls on a weekday in
// the market timezone.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	wd := t.In(c.Location).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsMarketOpen reports whether the instant is inside trading hours.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	hour := t.In(c.Location).Hour()
	return hour >= c.OpenHour && hour < c.CloseHour
}

// MarketDate truncates an instant to its calendar date in the market
// timezone.
func (c *Calendar) MarketDate(t time.Time) time.Time {
	local := t.In(c.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location)
}

// PreviousTradingDay returns the last weekday strictly before the
// given date.
func (c *Calendar) PreviousTradingDay(date time.Time) time.Time {
	d := c.MarketDate(date).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// LastCompletedSession returns the date of the most recent trading
// session whose data can exist at the given instant. Before market open
// on a trading day (and on any non-trading day) that is the previous
// trading day; from the open onward, today's session counts.
func (c *Calendar) LastCompletedSession(now time.Time) time.Time {
	local := now.In(c.Location)
	if c.IsTradingDay(now) && local.Hour() >= c.OpenHour {
		return c.MarketDate(now)
	}
	return c.PreviousTradingDay(now)
}

// DaysBetween returns whole calendar days from a to b, date-based.
func (c *Calendar) DaysBetween(a, b time.Time) int {
	return int(c.MarketDate(b).Sub(c.MarketDate(a)).Hours() / 24)
}
