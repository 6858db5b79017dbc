package freshness

import (
	"fmt"
	"time"
)

// Action is what the orchestrator should do for an instrument.
type Action string

const (
	ActionNone           Action = "none"
	ActionFullLoad       Action = "full_load"
	ActionDailyUpdate    Action = "daily_update"
	ActionIntradayUpdate Action = "intraday_update"
)

// State is the freshness classification behind an action.
type State string

const (
	StateNew              State = "NEW"
	StateStaleMultiday    State = "STALE_MULTIDAY"
	StateStaleTodayNoData State = "STALE_TODAY_NO_DATA"
	StateFreshIntradayDue State = "FRESH_INTRADAY_DUE"
	StateFresh            State = "FRESH"
)

// InstrumentState is the slice of registry state the decision needs.
// LastDataDate is the most recent row actually confirmed present in the
// remote daily-price table; nil means no rows were found there. The
// timestamp alone is never trusted, because a prior failed attempt can
// mark an instrument synced without having written anything.
type InstrumentState struct {
	Symbol       string
	EverSynced   bool
	LastSyncAt   *time.Time
	LastDataDate *time.Time
}

// Decision couples the chosen action with a human-readable reason.
type Decision struct {
	Action Action
	State  State
	Reason string
}

// Engine decides, per instrument and per pass, whether a first-time
// full load, a daily refresh, an intraday refresh, or nothing is due.
// It performs no I/O: callers inject registry state and "now".
type Engine struct {
	calendar *Calendar
	cooldown time.Duration
}

// NewEngine builds a decision engine for one market calendar with the
// given intraday cooldown interval.
func NewEngine(calendar *Calendar, cooldown time.Duration) *Engine {
	return &Engine{calendar: calendar, cooldown: cooldown}
}

// Decide evaluates the freshness state machine for one instrument.
func (e *Engine) Decide(inst InstrumentState, now time.Time) Decision {
	cal := e.calendar

	// Never synced successfully: first-time full historical load.
	if !inst.EverSynced || inst.LastSyncAt == nil {
		return Decision{
			Action: ActionFullLoad,
			State:  StateNew,
			Reason: fmt.Sprintf("%s has never been synced", inst.Symbol),
		}
	}

	lastSyncDate := cal.MarketDate(*inst.LastSyncAt)

	// Registry says synced, but the remote store holds no rows at all.
	// Re-derive state from reality and reload from scratch.
	if inst.LastDataDate == nil {
		return Decision{
			Action: ActionFullLoad,
			State:  StateStaleTodayNoData,
			Reason: fmt.Sprintf("%s is marked synced but the price table has no rows", inst.Symbol),
		}
	}

	lastDataDate := cal.MarketDate(*inst.LastDataDate)

	// Rows lag the sync mark: a prior attempt recorded success without
	// landing data. Stale regardless of the timestamp.
	if lastDataDate.Before(lastSyncDate) {
		return Decision{
			Action: ActionDailyUpdate,
			State:  StateStaleTodayNoData,
			Reason: fmt.Sprintf("%s last sync %s but newest confirmed row is %s",
				inst.Symbol, lastSyncDate.Format("2006-01-02"), lastDataDate.Format("2006-01-02")),
		}
	}

	// A record is fresh when it covers the most recent completed
	// trading session. This is what makes Friday's data count as fresh
	// through the weekend and on Monday before the open.
	expected := cal.LastCompletedSession(now)
	if lastDataDate.Before(expected) {
		days := cal.DaysBetween(lastDataDate, now)
		state := StateStaleTodayNoData
		if days > 1 {
			state = StateStaleMultiday
		}
		return Decision{
			Action: ActionDailyUpdate,
			State:  state,
			Reason: fmt.Sprintf("%s data is %d day(s) old, session %s not yet loaded",
				inst.Symbol, days, expected.Format("2006-01-02")),
		}
	}

	// Covered through the latest session. During trading hours a single
	// extra intraday refresh is allowed once the cooldown has elapsed
	// since the last sync instant, measured in the market timezone.
	if cal.IsMarketOpen(now) && lastSyncDate.Equal(cal.MarketDate(now)) {
		elapsed := now.Sub(*inst.LastSyncAt)
		if elapsed >= e.cooldown {
			return Decision{
				Action: ActionIntradayUpdate,
				State:  StateFreshIntradayDue,
				Reason: fmt.Sprintf("%s synced %s ago, intraday refresh due (cooldown %s)",
					inst.Symbol, elapsed.Round(time.Minute), e.cooldown),
			}
		}
		return Decision{
			Action: ActionNone,
			State:  StateFresh,
			Reason: fmt.Sprintf("%s synced %s ago, inside intraday cooldown",
				inst.Symbol, elapsed.Round(time.Minute)),
		}
	}

	return Decision{
		Action: ActionNone,
		State:  StateFresh,
		Reason: fmt.Sprintf("%s is current through %s", inst.Symbol, lastDataDate.Format("2006-01-02")),
	}
}
