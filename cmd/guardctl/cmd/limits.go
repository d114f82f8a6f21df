package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/config"
	"wallet-safety/pkg/errno"
	"wallet-safety/pkg/units"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits [network...]",
	Short: "Print the configured per-network security limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		policies, err := model.NetworkPolicies(cfg.Networks)
		if err != nil {
			return err
		}

		names := args
		if len(names) == 0 {
			for name := range policies {
				names = append(names, name)
			}
			sort.Strings(names)
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Network", "Max gas price", "Max value", "Guardians above", "Required guardians", "Max pending", "Cooldown", "Confirmations"})
		for _, name := range names {
			p, ok := policies[name]
			if !ok {
				return fmt.Errorf("%w: %s", errno.ErrNetworkNotSupported, name)
			}
			l := p.Limits
			table.Append([]string{
				name,
				gwei(l.MaxGasPrice),
				units.FromWei(l.MaxTransactionValue, p.Decimals).String() + " " + p.Symbol,
				units.FromWei(l.GuardianThreshold(), p.Decimals).String() + " " + p.Symbol,
				strconv.Itoa(l.RequiredGuardians),
				strconv.Itoa(l.MaxPendingTransactions),
				l.CooldownPeriod.String(),
				strconv.FormatUint(l.MinConfirmations, 10),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
}
