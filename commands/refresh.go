package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	syncsvc "stocksync/services/sync"
)

var (
	refreshDryRun    bool
	refreshMaxStocks int
	refreshSymbols   []string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one daily-refresh batch over the tracked instruments",
	Long: `Evaluates every tracked instrument (or the given symbols) against the
freshness policy and performs whatever work is due: full load for new
instruments, incremental update for stale ones, nothing for fresh ones.

Exits 0 when no instrument ended hard-failed, 1 otherwise.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshDryRun, "dry-run", false, "simulate without any remote writes")
	refreshCmd.Flags().IntVar(&refreshMaxStocks, "max-stocks", 0, "limit the batch to N instruments")
	refreshCmd.Flags().StringSliceVar(&refreshSymbols, "symbols", nil, "restrict the batch to these symbols")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := a.orchestrator.Run(ctx, refreshSymbols, syncsvc.Options{
		DryRun:         refreshDryRun,
		MaxInstruments: refreshMaxStocks,
	})
	if err != nil {
		return err
	}

	printSummary(summary)

	if !refreshDryRun {
		path, err := syncsvc.WriteRunReport(a.cfg.ReportsDir, summary)
		if err != nil {
			a.log.Warnf("Failed to write run report: %v", err)
		} else {
			fmt.Printf("Report: %s\n", path)
		}
	}

	// Returning an error, rather than exiting here, lets the deferred
	// cleanup close the registry before the process terminates.
	return failureErr(summary.Failed)
}

// failureErr maps a hard-failure count to the command's exit error.
func failureErr(failed int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d instrument(s) ended in failure", failed)
}

// printSummary emits the structured end-of-run report to stdout.
func printSummary(summary *syncsvc.RunSummary) {
	fmt.Println("==============================================")
	fmt.Println("  Sync Run Report")
	fmt.Println("==============================================")
	for _, inst := range summary.Instruments {
		line := fmt.Sprintf("  %-10s %-16s %-12s", inst.Symbol, inst.Action, inst.Status)
		if inst.Inserted > 0 || inst.Failed > 0 {
			line += fmt.Sprintf(" inserted=%d failed=%d quality=%.2f", inst.Inserted, inst.Failed, inst.Quality)
		}
		fmt.Println(line)
	}
	fmt.Println("----------------------------------------------")
	fmt.Printf("  total=%d success=%d partial=%d failed=%d no_new_data=%d skipped=%d\n",
		summary.Total, summary.Success, summary.Partial, summary.Failed, summary.NoNewData, summary.Skipped)
	fmt.Printf("  avg_quality=%.2f duration=%s dry_run=%v\n",
		summary.AvgQuality, summary.Duration.Round(time.Millisecond), summary.DryRun)
	fmt.Println("==============================================")
}
