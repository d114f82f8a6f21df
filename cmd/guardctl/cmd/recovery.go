package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"wallet-safety/internal/model"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Inspect wallet recovery requests",
}

var recoveryStatusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show one recovery request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req model.RecoveryRequest
		if err := getJSON(cmd.Context(), "/recovery/"+args[0], nil, &req); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Request:    %s\n", req.ID)
		fmt.Fprintf(out, "Wallet:     %d (user %d)\n", req.WalletID, req.UserID)
		fmt.Fprintf(out, "Type:       %s\n", req.Type)
		fmt.Fprintf(out, "Status:     %s\n", req.Status)
		if req.NewAddress != nil {
			fmt.Fprintf(out, "New address: %s\n", req.NewAddress.Hex())
		}
		fmt.Fprintf(out, "Approvals:  %d %v\n", len(req.Approvals), req.Approvals)
		fmt.Fprintf(out, "Created:    %s\n", req.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "Expires:    %s\n", req.ExpiresAt.Format(time.RFC3339))
		if req.TxHash != "" {
			fmt.Fprintf(out, "Tx hash:    %s\n", req.TxHash)
		}
		if req.FailureReason != "" {
			fmt.Fprintf(out, "Failure:    %s\n", req.FailureReason)
		}
		return nil
	},
}

var recoveryListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's active recovery requests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		var reqs []model.RecoveryRequest
		if err := getJSON(cmd.Context(), "/users/"+args[0]+"/recoveries", nil, &reqs); err != nil {
			return err
		}
		if len(reqs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active recovery requests.")
			return nil
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Wallet", "Type", "Status", "Approvals", "Expires"})
		for _, r := range reqs {
			table.Append([]string{
				r.ID,
				strconv.FormatUint(r.WalletID, 10),
				string(r.Type),
				string(r.Status),
				strings.Join(r.Approvals, ","),
				r.ExpiresAt.Format(time.RFC3339),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	recoveryCmd.AddCommand(recoveryStatusCmd, recoveryListCmd)
	rootCmd.AddCommand(recoveryCmd)
}
