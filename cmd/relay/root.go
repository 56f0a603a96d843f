package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - provider-aware LLM request broker",
	Long: `Relay is a request broker that sits in front of several LLM APIs and
enforces per-key, per-model rate limits while minimising observed latency.

Clients submit chat or image-analysis requests naming one or more
(provider, model) targets; relay selects the API key whose queue will
serve the request soonest and dispatches it when its limits allow:
  - Sliding 1s/1m/1d request windows and calendar-month budgets per model
  - Out-of-order dispatch within a queue to avoid head-of-line blocking
  - Wait-time estimation as the routing signal across keys
  - Pluggable usage persistence (memory, record store, SQLite)`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	// Pick up a local .env before any flag or config is read.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
