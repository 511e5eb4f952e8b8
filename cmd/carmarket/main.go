// Command carmarket is a terminal client for the Celo car marketplace.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Persistent flag values. Empty values leave the config untouched.
var (
	flagConfig        string
	flagRPCEndpoint   string
	flagWSEndpoint    string
	flagPostgresDSN   string
	flagClickhouseDSN string
	flagVerbose       bool
	flagUseMemory     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "carmarket",
	Short:         "Browse, list and buy cars on the Celo marketplace",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to YAML config file")
	pf.StringVar(&flagRPCEndpoint, "rpc-endpoint", "", "Celo JSON-RPC HTTP endpoint")
	pf.StringVar(&flagWSEndpoint, "ws-endpoint", "", "Celo JSON-RPC WebSocket endpoint (newHeads)")
	pf.StringVar(&flagPostgresDSN, "postgres-dsn", "", "PostgreSQL connection string for the intent journal")
	pf.StringVar(&flagClickhouseDSN, "clickhouse-dsn", "", "ClickHouse connection string for reputation snapshots")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
	pf.BoolVar(&flagUseMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().String("image", "", "Image URL")
	addCmd.Flags().Uint64("units", 1, "Units available")
	rootCmd.AddCommand(likeCmd)
	rootCmd.AddCommand(dislikeCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(buyCmd)
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().IntP("limit", "n", 20, "Maximum number of entries to show")
	journalCmd.Flags().Int64("listing", -1, "Show entries of one listing instead of the identity")
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("metrics-addr", "", "Prometheus metrics HTTP address (default from config)")
	watchCmd.Flags().Duration("interval", 0, "Refresh interval (default from config)")
	rootCmd.AddCommand(migrateCmd)
}
