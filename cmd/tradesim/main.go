package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "tradesim",
	Short: "tradesim - AI-driven backtest session engine",
	Long: `tradesim replays historical candles through an AI decision maker and
tracks the resulting positions, equity and statistics. It runs one-shot
backtests from the command line or serves concurrent sessions over HTTP.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
