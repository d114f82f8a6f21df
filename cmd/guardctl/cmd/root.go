package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	engineAddr string
	configPath string
	timeout    time.Duration
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Operator tool for the transaction safety engine",
	Long: `guardctl inspects a running safety engine through its ops API
(recovery requests, gas history) and prints the limits configured locally.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&engineAddr, "addr", "http://localhost:8080", "safety engine ops API base URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}
