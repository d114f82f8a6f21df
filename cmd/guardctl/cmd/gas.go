package cmd

import (
	"fmt"
	"math/big"
	"net/url"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/units"

	"github.com/spf13/cobra"
)

var gasPeriod string

var gasCmd = &cobra.Command{
	Use:   "gas",
	Short: "Gas price statistics",
}

var gasHistoryCmd = &cobra.Command{
	Use:   "history <network>",
	Short: "Summarise recent gas prices for a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if gasPeriod != "" {
			q.Set("period", gasPeriod)
		}
		var stats model.GasStats
		if err := getJSON(cmd.Context(), "/networks/"+args[0]+"/gas", q, &stats); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		period := gasPeriod
		if period == "" {
			period = "all retained"
		}
		fmt.Fprintf(out, "%s gas price (%s, %d samples)\n", args[0], period, stats.Samples)
		if stats.Samples == 0 {
			return nil
		}
		fmt.Fprintf(out, "  average: %s\n", gwei(stats.Average))
		fmt.Fprintf(out, "  median:  %s\n", gwei(stats.Median))
		fmt.Fprintf(out, "  min:     %s\n", gwei(stats.Min))
		fmt.Fprintf(out, "  max:     %s\n", gwei(stats.Max))
		return nil
	},
}

func gwei(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return units.FromWei(v, units.GweiDecimals).String() + " gwei"
}

func init() {
	gasHistoryCmd.Flags().StringVar(&gasPeriod, "period", "1h", "trailing window (e.g. 15m, 24h); empty for all")
	gasCmd.AddCommand(gasHistoryCmd)
	rootCmd.AddCommand(gasCmd)
}
