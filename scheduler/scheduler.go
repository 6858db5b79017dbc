package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"stocksync/config"
	"stocksync/services/freshness"
	"stocksync/services/registry"
	syncsvc "stocksync/services/sync"
)

// Scheduler runs the periodic refresh jobs in daemon mode. All job
// times are evaluated in the market timezone.
type Scheduler struct {
	cron         *gocron.Scheduler
	orchestrator *syncsvc.Orchestrator
	registry     registry.Registry
	calendar     *freshness.Calendar
	cfg          *config.Config
	logger       *logrus.Entry
}

// NewScheduler creates a scheduler bound to the market calendar.
func NewScheduler(orchestrator *syncsvc.Orchestrator, reg registry.Registry, calendar *freshness.Calendar, cfg *config.Config, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:         gocron.NewScheduler(calendar.Location),
		orchestrator: orchestrator,
		registry:     reg,
		calendar:     calendar,
		cfg:          cfg,
		logger:       log.WithField("component", "scheduler"),
	}
}

// Start registers and launches all jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")

	// Daily refresh one hour after market close, after the session's
	// final data is published.
	closeTime := fmt.Sprintf("%02d:00", s.cfg.MarketCloseHour+1)
	s.cron.Every(1).Day().At(closeTime).Do(func() {
		s.runBatch("daily refresh", nil)
	})

	// Intraday refresh once per hour during trading hours. The due
	// list is only the coarse filter; the freshness engine's cooldown
	// decides per instrument whether the refresh actually runs.
	s.cron.Every(1).Hour().Do(func() {
		if !s.calendar.IsMarketOpen(time.Now()) {
			return
		}
		symbols, err := s.dueSymbols()
		if err != nil {
			s.logger.Errorf("Failed to list due instruments: %v", err)
			return
		}
		if len(symbols) == 0 {
			return
		}
		s.runBatch("intraday refresh", symbols)
	})

	s.cron.StartAsync()
	s.logger.Infof("Scheduler started, daily refresh at %s %s", closeTime, s.calendar.Location)
}

// Stop halts all jobs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("Scheduler stopped")
}

// dueSymbols pre-filters instruments whose last sync is older than the
// intraday cooldown.
func (s *Scheduler) dueSymbols() ([]string, error) {
	hours := int(s.cfg.IntradayCooldown.Hours())
	if hours < 1 {
		hours = 1
	}
	instruments, err := s.registry.ListDueForSync(hours)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		symbols = append(symbols, inst.Symbol)
	}
	return symbols, nil
}

func (s *Scheduler) runBatch(trigger string, symbols []string) {
	s.logger.Infof("Scheduled %s triggered", trigger)

	summary, err := s.orchestrator.Run(context.Background(), symbols, syncsvc.Options{})
	if errors.Is(err, syncsvc.ErrRunInProgress) {
		s.logger.Warnf("Skipping scheduled %s, another batch is running", trigger)
		return
	}
	if err != nil {
		s.logger.Errorf("Scheduled %s failed: %v", trigger, err)
		return
	}

	if _, err := syncsvc.WriteRunReport(s.cfg.ReportsDir, summary); err != nil {
		s.logger.Warnf("Failed to write run report: %v", err)
	}

	s.logger.WithFields(logrus.Fields{
		"success": summary.Success,
		"partial": summary.Partial,
		"failed":  summary.Failed,
	}).Infof("Scheduled %s completed", trigger)
}
