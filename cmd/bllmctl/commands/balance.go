package commands

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/amerfu/bllm/pkg/api"
)

// NewBalanceCommand creates the balance management command
func NewBalanceCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Manage user balances",
		Long:  "Read balances and credit accounts",
	}

	cmd.AddCommand(newBalanceGetCommand(ctx))
	cmd.AddCommand(newBalanceAdjustCommand(ctx))

	return cmd
}

func newBalanceGetCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			balance, err := client.GetBalance(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(balance)
				return nil
			}

			fmt.Printf("User: %s\n", balance.UserID)
			fmt.Printf("Balance: $%s\n", balance.BalanceUSD.StringFixed(5))
			fmt.Printf("  RUB: %s\n", balance.BalanceRUB.StringFixed(2))
			fmt.Printf("  EUR: %s\n", balance.BalanceEUR.StringFixed(2))
			return nil
		},
	}
}

func newBalanceAdjustCommand(ctx context.Context) *cobra.Command {
	var amount string
	var reason string

	cmd := &cobra.Command{
		Use:   "adjust <user-id>",
		Short: "Credit a user's balance",
		Long:  "Credit a user's balance by a positive amount (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amountUSD, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			client, err := Client()
			if err != nil {
				return err
			}

			adjusted, err := client.AdjustBalance(ctx, api.AdjustBalanceRequest{
				UserID:    args[0],
				AmountUSD: amountUSD,
				Reason:    reason,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(adjusted)
				return nil
			}

			fmt.Printf("Credited %s to %s, new balance: $%s\n",
				amountUSD.String(), adjusted.UserID, adjusted.NewBalanceUSD.StringFixed(5))
			return nil
		},
	}

	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount in USD")
	cmd.Flags().StringVar(&reason, "reason", "", "Adjustment reason recorded in the ledger")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
