package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show your credit balance",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		bal, err := client.GetBalance()
		if err != nil {
			printAPIError(cmd, "Failed to load balance", err)
			return
		}

		cmd.Println(titleStyle.Render("Credits"))
		cmd.Println(rule)
		cmd.Printf("%s%s\n", label("Account"), bal.AccountID)
		cmd.Printf("%s%s\n", label("Balance"), successStyle.Render(bal.Balance))
		cmd.Printf("%s%d\n", label("Videos"), bal.TotalVideosCreated)
		if bal.LedgerHalted {
			cmd.Println(errorStyle.Render("Spending is halted pending a ledger reconciliation."))
		}
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List ledger entries, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		page, err := client.GetLedger(limit, offset)
		if err != nil {
			printAPIError(cmd, "Failed to load ledger", err)
			return
		}

		if len(page.Entries) == 0 {
			cmd.Println("No ledger entries found.")
			return
		}

		cmd.Println(titleStyle.Render(fmt.Sprintf("Ledger (%d entries)", len(page.Entries))))
		cmd.Println(rule)
		for _, e := range page.Entries {
			desc := ""
			if e.Description != nil {
				desc = *e.Description
			}
			cmd.Printf("#%-5d %-13s %s  %s  %s %s\n",
				e.Seq, e.Kind, colorizeAmount(e.Amount),
				labelStyle.Render("→ "+e.BalanceAfter),
				desc, labelStyle.Render(fmt.Sprintf("(%s ago)", relativeTime(e.CreatedAt))))
		}
		if len(page.Entries) == page.Limit {
			cmd.Println(labelStyle.Render(fmt.Sprintf("More entries: --offset %d", page.Offset+page.Limit)))
		}
	},
}

func init() {
	ledgerCmd.Flags().Int("limit", 20, "Number of entries to show")
	ledgerCmd.Flags().Int("offset", 0, "Number of newest entries to skip")
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(ledgerCmd)
}
