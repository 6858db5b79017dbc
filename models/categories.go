package models

// UpdateCadence classifies how often a remote table is expected to
// change. The classification is a compile-time lookup, not per-instrument
// state.
type UpdateCadence string

const (
	CadenceDaily       UpdateCadence = "daily"
	CadenceWeekly      UpdateCadence = "weekly"
	CadenceMonthly     UpdateCadence = "monthly"
	CadenceQuarterly   UpdateCadence = "quarterly"
	CadenceEventDriven UpdateCadence = "event_driven"
	CadenceStatic      UpdateCadence = "static"
)

// TableCategory describes one remote table: its name, update cadence,
// conflict key for idempotent upserts, and whether it is a live snapshot
// table (rewritten in full rather than filtered by date).
type TableCategory struct {
	Name         string
	Table        string
	Cadence      UpdateCadence
	ConflictKeys []string
	Snapshot     bool
}

// Remote table catalogue. Conflict keys make re-running a sync for the
// same day idempotent and non-duplicating.
var (
	CategoryPrices = TableCategory{
		Name: "prices", Table: "stock_prices",
		Cadence: CadenceDaily, ConflictKeys: []string{"symbol", "date"},
	}
	CategoryIndicators = TableCategory{
		Name: "indicators", Table: "stock_indicators",
		Cadence: CadenceDaily, ConflictKeys: []string{"symbol", "date"},
	}
	CategorySnapshot = TableCategory{
		Name: "snapshot", Table: "stock_snapshots",
		Cadence: CadenceDaily, ConflictKeys: []string{"symbol"}, Snapshot: true,
	}
	CategorySentiment = TableCategory{
		Name: "sentiment", Table: "stock_sentiment",
		Cadence: CadenceDaily, ConflictKeys: []string{"symbol", "date"},
	}
	CategoryForecasts = TableCategory{
		Name: "forecasts", Table: "stock_forecasts",
		Cadence: CadenceWeekly, ConflictKeys: []string{"symbol", "date"},
	}
	CategoryRiskMetrics = TableCategory{
		Name: "risk_metrics", Table: "stock_risk_metrics",
		Cadence: CadenceWeekly, ConflictKeys: []string{"symbol", "date"},
	}
	CategoryAnalystTargets = TableCategory{
		Name: "analyst_targets", Table: "analyst_targets",
		Cadence: CadenceWeekly, ConflictKeys: []string{"symbol", "date"},
	}
	CategoryOwnership = TableCategory{
		Name: "ownership", Table: "stock_ownership",
		Cadence: CadenceMonthly, ConflictKeys: []string{"symbol", "date"},
	}
	CategoryPeers = TableCategory{
		Name: "peers", Table: "peer_comparisons",
		Cadence: CadenceMonthly, ConflictKeys: []string{"symbol", "peer_symbol"},
	}
	CategoryFundamentals = TableCategory{
		Name: "fundamentals", Table: "stock_fundamentals",
		Cadence: CadenceQuarterly, ConflictKeys: []string{"symbol", "period"},
	}
	CategoryDividends = TableCategory{
		Name: "dividends", Table: "stock_dividends",
		Cadence: CadenceEventDriven, ConflictKeys: []string{"symbol", "ex_date"},
	}
	CategoryInsider = TableCategory{
		Name: "insider", Table: "insider_transactions",
		Cadence: CadenceEventDriven, ConflictKeys: []string{"symbol", "date", "party"},
	}
	CategoryMetadata = TableCategory{
		Name: "metadata", Table: "stock_metadata",
		Cadence: CadenceStatic, ConflictKeys: []string{"symbol"}, Snapshot: true,
	}
)

// AllCategories lists every remote table category in full-load order.
// Prices first: every derived category depends on them.
var AllCategories = []TableCategory{
	CategoryPrices,
	CategoryIndicators,
	CategorySnapshot,
	CategorySentiment,
	CategoryForecasts,
	CategoryRiskMetrics,
	CategoryAnalystTargets,
	CategoryOwnership,
	CategoryPeers,
	CategoryFundamentals,
	CategoryDividends,
	CategoryInsider,
	CategoryMetadata,
}

// DailyCategories are the tables touched by an incremental daily update.
var DailyCategories = []TableCategory{
	CategoryPrices,
	CategoryIndicators,
	CategorySnapshot,
}
