package commands

import (
	"github.com/spf13/cobra"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stocksync",
	Short: "Registry-backed market data mirror and sync engine",
	Long: `stocksync keeps a Supabase-hosted mirror of per-instrument market
and analytics data fresh with minimal redundant work.

Per instrument it decides between a first-time full historical load,
an incremental daily refresh, an intraday refresh, or nothing, then
drives idempotent batched upserts with retry.`,
	Version: "1.0.0",
	// Runtime failures are not usage errors; main prints them and sets
	// the exit code.
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
