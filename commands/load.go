package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stocksync/models"
	"stocksync/services/registry"
)

var loadCmd = &cobra.Command{
	Use:   "load SYMBOL...",
	Short: "Run a first-time full historical load for specific symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLoad,
}

var registerCmd = &cobra.Command{
	Use:   "register SYMBOL...",
	Short: "Pre-register symbols without loading any data",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRegister,
}

func init() {
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(registerCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	failed := 0
	for _, symbol := range args {
		result := a.loader.LoadFull(ctx, symbol, false)
		fmt.Printf("%-10s %-12s inserted=%d failed=%d quality=%.2f\n",
			result.Symbol, result.Status, result.RecordsInserted, result.RecordsFailed, result.QualityScore)
		if result.Status == models.SyncStatusFailed {
			failed++
		}
	}

	// Returning an error, rather than exiting here, lets the deferred
	// cleanup close the registry before the process terminates.
	return failureErr(failed)
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	for _, symbol := range args {
		inst, err := a.registry.Register(symbol, registry.Attributes{})
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", symbol, err)
		}
		fmt.Printf("registered %s (status %s)\n", inst.Symbol, inst.LastSyncStatus)
	}
	return nil
}
