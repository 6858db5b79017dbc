package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"stocksync/config"
	"stocksync/models"
	"stocksync/services/datafetcher"
	"stocksync/services/freshness"
	"stocksync/services/registry"
	"stocksync/services/store"
)

// fakeRemote is a minimal PostgREST stand-in: it records every write
// and serves the latest-date and count queries the sync engine issues.
type fakeRemote struct {
	server *httptest.Server

	mu             sync.Mutex
	posts          map[string][]map[string]interface{}
	deletes        []string
	latestBySymbol map[string]string
	rowCount       int64
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{
		posts:          map[string][]map[string]interface{}{},
		latestBySymbol: map[string]string{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")

	switch r.Method {
	case http.MethodPost:
		var rows []map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.posts[table] = append(f.posts[table], rows...)
		w.WriteHeader(http.StatusCreated)

	case http.MethodDelete:
		f.deletes = append(f.deletes, table+"?"+r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)

	default:
		if strings.Contains(r.Header.Get("Prefer"), "count=exact") {
			w.Header().Set("Content-Range", fmt.Sprintf("*/%d", f.rowCount))
			fmt.Fprint(w, "[]")
			return
		}
		q := r.URL.Query()
		if q.Get("order") == "date.desc" {
			symbol := strings.TrimPrefix(q.Get("symbol"), "eq.")
			if date, ok := f.latestBySymbol[symbol]; ok && date != "" {
				json.NewEncoder(w).Encode([]map[string]string{{"date": date}})
				return
			}
			fmt.Fprint(w, "[]")
			return
		}
		fmt.Fprint(w, "[]")
	}
}

func (f *fakeRemote) setRowCount(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowCount = n
}

func (f *fakeRemote) setLatest(symbol, date string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestBySymbol[symbol] = date
}

func (f *fakeRemote) posted(table string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[table]
}

func (f *fakeRemote) totalPosts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, rows := range f.posts {
		total += len(rows)
	}
	return total
}

func (f *fakeRemote) deletions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// fakeRegistry is an in-memory registry.Registry for wiring the loader,
// updater and orchestrator without sqlite.
type fakeRegistry struct {
	instruments map[string]*models.Instrument
	attempts    []models.SyncAttempt
	nextID      uint
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{instruments: map[string]*models.Instrument{}}
}

func (f *fakeRegistry) seed(symbol string, lastSync time.Time, status string) *models.Instrument {
	f.nextID++
	inst := &models.Instrument{
		ID:             f.nextID,
		Symbol:         symbol,
		Active:         true,
		SyncEnabled:    true,
		LastSyncAt:     &lastSync,
		LastSyncStatus: status,
	}
	f.instruments[symbol] = inst
	return inst
}

func (f *fakeRegistry) Register(symbol string, attrs registry.Attributes) (*models.Instrument, error) {
	symbol = models.NormalizeSymbol(symbol)
	if inst, ok := f.instruments[symbol]; ok {
		return inst, nil
	}
	f.nextID++
	inst := &models.Instrument{
		ID:             f.nextID,
		Symbol:         symbol,
		Name:           attrs.Name,
		Exchange:       attrs.Exchange,
		Active:         true,
		SyncEnabled:    true,
		LastSyncStatus: models.SyncStatusPending,
	}
	f.instruments[symbol] = inst
	return inst, nil
}

func (f *fakeRegistry) Get(symbol string) (*models.Instrument, error) {
	inst, ok := f.instruments[models.NormalizeSymbol(symbol)]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return inst, nil
}

func (f *fakeRegistry) ListActive() ([]models.Instrument, error) {
	symbols := make([]string, 0, len(f.instruments))
	for s, inst := range f.instruments {
		if inst.Active && inst.SyncEnabled {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	out := make([]models.Instrument, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, *f.instruments[s])
	}
	return out, nil
}

func (f *fakeRegistry) ListDueForSync(staleAfterHours int) ([]models.Instrument, error) {
	cutoff := time.Now().Add(-time.Duration(staleAfterHours) * time.Hour)
	active, _ := f.ListActive()

	var out []models.Instrument
	for _, inst := range active {
		if inst.LastSyncAt == nil || inst.LastSyncAt.Before(cutoff) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeRegistry) mutate(symbol string, fn func(*models.Instrument)) error {
	inst, ok := f.instruments[models.NormalizeSymbol(symbol)]
	if !ok {
		return registry.ErrNotFound
	}
	fn(inst)
	return nil
}

func (f *fakeRegistry) MarkAttemptStart(symbol string) error {
	return f.mutate(symbol, func(inst *models.Instrument) {
		inst.LastSyncStatus = models.SyncStatusInProgress
	})
}

func (f *fakeRegistry) MarkSuccess(symbol string, recordCount int64, coverageStart, coverageEnd time.Time, qualityScore float64) error {
	now := time.Now()
	return f.mutate(symbol, func(inst *models.Instrument) {
		inst.LastSyncAt = &now
		inst.LastSyncStatus = models.SyncStatusSuccess
		inst.TotalRecords = recordCount
		inst.QualityScore = qualityScore
		if !coverageEnd.IsZero() {
			end := coverageEnd
			inst.CoverageEnd = &end
		}
	})
}

func (f *fakeRegistry) MarkPartial(symbol string, recordCount int64, qualityScore float64) error {
	now := time.Now()
	return f.mutate(symbol, func(inst *models.Instrument) {
		inst.LastSyncAt = &now
		inst.LastSyncStatus = models.SyncStatusPartial
		inst.TotalRecords = recordCount
		inst.QualityScore = qualityScore
	})
}

func (f *fakeRegistry) MarkFailed(symbol string, message string) error {
	return f.mutate(symbol, func(inst *models.Instrument) {
		inst.LastSyncStatus = models.SyncStatusFailed
	})
}

func (f *fakeRegistry) MarkNoNewData(symbol string) error {
	now := time.Now()
	return f.mutate(symbol, func(inst *models.Instrument) {
		inst.LastSyncAt = &now
		inst.LastSyncStatus = models.SyncStatusNoNewData
	})
}

func (f *fakeRegistry) Deactivate(symbol string) error {
	return f.mutate(symbol, func(inst *models.Instrument) {
		inst.Active = false
		inst.SyncEnabled = false
	})
}

func (f *fakeRegistry) RecordAttempt(attempt *models.SyncAttempt) error {
	f.attempts = append(f.attempts, *attempt)
	return nil
}

func (f *fakeRegistry) RecentAttempts(limit int) ([]models.SyncAttempt, error) {
	if limit > len(f.attempts) {
		limit = len(f.attempts)
	}
	out := make([]models.SyncAttempt, 0, limit)
	for i := len(f.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.attempts[i])
	}
	return out, nil
}

// fakeMarket serves a fixed price window for every symbol. With
// serveWindow it instead generates one bar per calendar day across
// whatever range the caller requested.
type fakeMarket struct {
	bars        []models.PriceBar
	snapshot    *models.Snapshot
	err         error
	serveWindow bool

	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeMarket) FetchDailySeries(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	f.lastFrom, f.lastTo = from, to
	if f.err != nil {
		return nil, f.err
	}
	if f.serveWindow {
		days := int(to.Sub(from).Hours()/24) + 1
		return seriesEnding(symbol, to, days), nil
	}
	return f.bars, nil
}

func (f *fakeMarket) FetchSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	if f.snapshot == nil {
		return nil, datafetcher.ErrNoData
	}
	return f.snapshot, nil
}

// fakeCategories serves one generic row per auxiliary category unless a
// per-category error is configured.
type fakeCategories struct {
	errs map[string]error
}

func (f *fakeCategories) FetchRows(ctx context.Context, symbol string, category models.TableCategory) ([]map[string]interface{}, error) {
	if err, ok := f.errs[category.Name]; ok {
		return nil, err
	}
	return []map[string]interface{}{
		{"symbol": symbol, "date": "2026-08-28", "source": "test"},
	}, nil
}

type testEnv struct {
	remote   *fakeRemote
	registry *fakeRegistry
	market   *fakeMarket
	cats     *fakeCategories
	store    *store.Client
	cfg      *config.Config
	calendar *freshness.Calendar
	loader   *Loader
	updater  *Updater
	orch     *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	remote := newFakeRemote(t)
	cfg := &config.Config{
		SupabaseURL:       remote.server.URL,
		SupabaseAnonKey:   "test-key",
		ProviderTimeout:   5 * time.Second,
		MarketTimezone:    "Asia/Ho_Chi_Minh",
		MarketOpenHour:    9,
		MarketCloseHour:   15,
		IntradayCooldown:  time.Hour,
		StaleAfterHours:   24,
		HistoryDays:       60,
		ContextWindowDays: 10,
		ForecastHorizon:   5,
		UpsertBatchSize:   1000,
		RetryAttempts:     1,
		RetryBackoffBase:  time.Millisecond,
		BatchSize:         100,
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	storeClient, err := store.NewClient(cfg, log)
	require.NoError(t, err)

	calendar := freshness.NewCalendar(cfg.MarketLocation(), cfg.MarketOpenHour, cfg.MarketCloseHour)
	engine := freshness.NewEngine(calendar, cfg.IntradayCooldown)

	reg := newFakeRegistry()
	market := &fakeMarket{}
	cats := &fakeCategories{errs: map[string]error{}}

	loader := NewLoader(market, cats, storeClient, reg, calendar, cfg, log)
	updater := NewUpdater(market, storeClient, reg, calendar, cfg, log)
	orch := NewOrchestrator(engine, loader, updater, storeClient, reg, cfg, log)

	return &testEnv{
		remote:   remote,
		registry: reg,
		market:   market,
		cats:     cats,
		store:    storeClient,
		cfg:      cfg,
		calendar: calendar,
		loader:   loader,
		updater:  updater,
		orch:     orch,
	}
}

// seriesEnding builds n consecutive daily bars ending on the given day.
func seriesEnding(symbol string, end time.Time, n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := 0; i < n; i++ {
		d := end.AddDate(0, 0, -(n - 1 - i))
		price := decimal.NewFromFloat(100 + float64(i)*0.5)
		bars[i] = models.PriceBar{
			Symbol:   symbol,
			Date:     d.Format("2006-01-02"),
			Open:     price,
			High:     price.Add(decimal.NewFromInt(1)),
			Low:      price.Sub(decimal.NewFromInt(1)),
			Close:    price,
			AdjClose: price,
			Volume:   1000 + int64(i),
		}
	}
	return bars
}
