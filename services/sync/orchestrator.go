package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stocksync/config"
	"stocksync/models"
	"stocksync/services/freshness"
	"stocksync/services/registry"
	"stocksync/services/store"
)

// Options controls one orchestrator run.
type Options struct {
	DryRun         bool
	MaxInstruments int
}

// ErrRunInProgress is returned when a batch is requested while another
// batch holds the run slot.
var ErrRunInProgress = errors.New("a sync batch is already running")

// InstrumentOutcome is one per-instrument line of the run summary.
type InstrumentOutcome struct {
	Symbol   string  `json:"symbol"`
	Action   string  `json:"action"`
	Reason   string  `json:"reason"`
	Status   string  `json:"status"`
	Inserted int     `json:"inserted"`
	Failed   int     `json:"failed"`
	Quality  float64 `json:"quality"`
	Duration string  `json:"duration"`
}

// RunSummary aggregates one orchestrator invocation for operational
// visibility and the persisted audit log.
type RunSummary struct {
	StartedAt    time.Time           `json:"started_at"`
	Duration     time.Duration       `json:"duration"`
	DryRun       bool                `json:"dry_run"`
	Total        int                 `json:"total"`
	Success      int                 `json:"success"`
	Partial      int                 `json:"partial"`
	Failed       int                 `json:"failed"`
	NoNewData    int                 `json:"no_new_data"`
	Skipped      int                 `json:"skipped"`
	AvgQuality   float64             `json:"avg_quality"`
	Instruments  []InstrumentOutcome `json:"instruments"`
}

// Progress is a point-in-time view of a running batch.
type Progress struct {
	Running       int    `json:"running"`
	Total         int    `json:"total"`
	Processed     int    `json:"processed"`
	CurrentSymbol string `json:"current_symbol"`
	Status        string `json:"status"`
}

// Orchestrator drives one batch: per instrument it asks the freshness
// engine what is due, dispatches to the loader or updater, and
// aggregates an audit trail. Instruments run sequentially with an
// inter-instrument delay to respect upstream rate limits; each
// instrument's work is self-contained, so a run may be interrupted
// between instruments without corrupting state.
type Orchestrator struct {
	engine   *freshness.Engine
	loader   *Loader
	updater  *Updater
	store    *store.Client
	registry registry.Registry
	cfg      *config.Config
	logger   *logrus.Entry

	mu       sync.RWMutex
	progress Progress
}

// NewOrchestrator wires the batch driver.
func NewOrchestrator(
	engine *freshness.Engine,
	loader *Loader,
	updater *Updater,
	storeClient *store.Client,
	reg registry.Registry,
	cfg *config.Config,
	log *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		engine:   engine,
		loader:   loader,
		updater:  updater,
		store:    storeClient,
		registry: reg,
		cfg:      cfg,
		logger:   log.WithField("component", "orchestrator"),
	}
}

// Progress returns a snapshot of the current batch state.
func (o *Orchestrator) Progress() Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}

func (o *Orchestrator) setProgress(mutate func(*Progress)) {
	o.mu.Lock()
	mutate(&o.progress)
	o.mu.Unlock()
}

// tryStart claims the single run slot. Admission must be one atomic
// check-and-claim so two batches can never interleave their writes.
func (o *Orchestrator) tryStart() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress.Running > 0 {
		return false
	}
	o.progress = Progress{Running: 1, Status: "running"}
	return true
}

// Run processes a batch of symbols. With an empty symbol list it runs
// every active, sync-enabled instrument from the registry. Only one
// batch runs at a time; a second caller gets ErrRunInProgress.
func (o *Orchestrator) Run(ctx context.Context, symbols []string, opts Options) (*RunSummary, error) {
	if !o.tryStart() {
		return nil, ErrRunInProgress
	}
	return o.run(ctx, symbols, opts)
}

// RunAsync claims the run slot synchronously, then executes the batch
// on a background goroutine. Callers learn immediately whether the
// batch was admitted; completion is reported through onDone.
func (o *Orchestrator) RunAsync(ctx context.Context, symbols []string, opts Options, onDone func(*RunSummary, error)) error {
	if !o.tryStart() {
		return ErrRunInProgress
	}
	go func() {
		summary, err := o.run(ctx, symbols, opts)
		if onDone != nil {
			onDone(summary, err)
		}
	}()
	return nil
}

// run executes a batch after the run slot has been claimed.
func (o *Orchestrator) run(ctx context.Context, symbols []string, opts Options) (*RunSummary, error) {
	summary := &RunSummary{StartedAt: time.Now(), DryRun: opts.DryRun}

	if len(symbols) == 0 {
		instruments, err := o.registry.ListActive()
		if err != nil {
			o.setProgress(func(p *Progress) {
				p.Running = 0
				p.Status = "failed"
			})
			return nil, err
		}
		for _, inst := range instruments {
			symbols = append(symbols, inst.Symbol)
		}
	}
	if opts.MaxInstruments > 0 && len(symbols) > opts.MaxInstruments {
		symbols = symbols[:opts.MaxInstruments]
	}
	summary.Total = len(symbols)

	o.setProgress(func(p *Progress) { p.Total = len(symbols) })
	defer o.setProgress(func(p *Progress) {
		p.Running = 0
		p.CurrentSymbol = ""
		if p.Status != "cancelled" {
			p.Status = "completed"
		}
	})

	o.logger.WithFields(logrus.Fields{
		"instruments": len(symbols),
		"dry_run":     opts.DryRun,
	}).Info("Starting sync batch")

	batchCount := 0
	for i, symbol := range symbols {
		// A run may be interrupted between instruments without
		// corrupting state.
		select {
		case <-ctx.Done():
			o.setProgress(func(p *Progress) { p.Status = "cancelled" })
			summary.Duration = time.Since(summary.StartedAt)
			return summary, ctx.Err()
		default:
		}

		o.setProgress(func(p *Progress) {
			p.Processed = i
			p.CurrentSymbol = symbol
		})

		outcome := o.runOne(ctx, symbol, opts)
		summary.Instruments = append(summary.Instruments, outcome)
		o.tally(summary, outcome)

		o.logger.WithFields(logrus.Fields{
			"symbol": outcome.Symbol,
			"action": outcome.Action,
			"status": outcome.Status,
		}).Info(outcome.Reason)

		if i < len(symbols)-1 {
			time.Sleep(o.cfg.InstrumentDelay)
			batchCount++
			if batchCount >= o.cfg.BatchSize {
				time.Sleep(o.cfg.BatchPause)
				batchCount = 0
			}
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	o.setProgress(func(p *Progress) { p.Processed = len(symbols) })

	qualityCount := 0
	var qualitySum float64
	for _, out := range summary.Instruments {
		if out.Status != "" && out.Action != string(freshness.ActionNone) {
			qualitySum += out.Quality
			qualityCount++
		}
	}
	if qualityCount > 0 {
		summary.AvgQuality = qualitySum / float64(qualityCount)
	}

	o.logger.WithFields(logrus.Fields{
		"success":     summary.Success,
		"partial":     summary.Partial,
		"failed":      summary.Failed,
		"no_new_data": summary.NoNewData,
		"skipped":     summary.Skipped,
		"duration":    summary.Duration.Round(time.Millisecond).String(),
	}).Info("Sync batch finished")

	return summary, nil
}

// runOne decides and executes the action for a single instrument.
func (o *Orchestrator) runOne(ctx context.Context, symbol string, opts Options) InstrumentOutcome {
	symbol = models.NormalizeSymbol(symbol)

	state := freshness.InstrumentState{Symbol: symbol}
	var instrumentID uint

	inst, err := o.registry.Get(symbol)
	if err == nil {
		instrumentID = inst.ID
		state.EverSynced = inst.EverSynced()
		state.LastSyncAt = inst.LastSyncAt
	} else if !errors.Is(err, registry.ErrNotFound) {
		return InstrumentOutcome{
			Symbol: symbol,
			Action: string(freshness.ActionNone),
			Status: models.SyncStatusFailed,
			Reason: err.Error(),
		}
	}

	// Verify the newest row actually present remotely; the sync
	// timestamp alone is never trusted.
	if state.EverSynced {
		if dateStr, err := o.store.LatestDate(ctx, models.CategoryPrices.Table, symbol); err == nil {
			if parsed, perr := time.ParseInLocation("2006-01-02", dateStr, o.cfg.MarketLocation()); perr == nil {
				state.LastDataDate = &parsed
			}
		}
	}

	decision := o.engine.Decide(state, time.Now())
	outcome := InstrumentOutcome{
		Symbol: symbol,
		Action: string(decision.Action),
		Reason: decision.Reason,
	}

	var result *SyncResult
	switch decision.Action {
	case freshness.ActionFullLoad:
		result = o.loader.LoadFull(ctx, symbol, opts.DryRun)
	case freshness.ActionDailyUpdate:
		result = o.updater.UpdateDaily(ctx, symbol, false, opts.DryRun)
	case freshness.ActionIntradayUpdate:
		result = o.updater.UpdateDaily(ctx, symbol, true, opts.DryRun)
	default:
		outcome.Status = "skipped"
		return outcome
	}

	outcome.Status = result.Status
	outcome.Inserted = result.RecordsInserted
	outcome.Failed = result.RecordsFailed
	outcome.Quality = result.QualityScore
	outcome.Duration = result.Duration.Round(time.Millisecond).String()

	if !opts.DryRun {
		if instrumentID == 0 {
			if registered, err := o.registry.Get(symbol); err == nil {
				instrumentID = registered.ID
			}
		}
		if err := o.registry.RecordAttempt(result.Attempt(instrumentID)); err != nil {
			o.logger.WithField("symbol", symbol).Warnf("Failed to append audit record: %v", err)
		}
	}
	return outcome
}

func (o *Orchestrator) tally(summary *RunSummary, outcome InstrumentOutcome) {
	switch outcome.Status {
	case models.SyncStatusSuccess:
		summary.Success++
	case models.SyncStatusPartial:
		summary.Partial++
	case models.SyncStatusNoNewData:
		summary.NoNewData++
	case "skipped":
		summary.Skipped++
	default:
		summary.Failed++
	}
}
