package commands

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/amerfu/bllm/pkg/api"
)

// NewChargeCommand creates the fast-path charge command
func NewChargeCommand(ctx context.Context) *cobra.Command {
	var model string
	var tokens int64
	var cost string

	cmd := &cobra.Command{
		Use:   "charge <user-id>",
		Short: "Debit a precomputed cost",
		Long:  "Debit a caller-computed cost against a user's balance in one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			costUSD, err := decimal.NewFromString(cost)
			if err != nil {
				return fmt.Errorf("invalid cost: %w", err)
			}

			client, err := Client()
			if err != nil {
				return err
			}

			charged, err := client.Charge(ctx, api.ChargeRequest{
				UserID:     args[0],
				Model:      model,
				TokensUsed: tokens,
				CostUSD:    costUSD,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(charged)
				return nil
			}

			fmt.Printf("Charged $%s, new balance: $%s\n", costUSD.String(), charged.NewBalanceUSD.StringFixed(5))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model the tokens were spent on")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "Tokens used")
	cmd.Flags().StringVar(&cost, "cost", "", "Cost in USD")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("tokens")
	_ = cmd.MarkFlagRequired("cost")

	return cmd
}

// NewReserveCommand creates the reserve command
func NewReserveCommand(ctx context.Context) *cobra.Command {
	var model, endpoint, requestID string
	var inputTokens, outputTokens int64

	cmd := &cobra.Command{
		Use:   "reserve <user-id>",
		Short: "Open a priced hold",
		Long:  "Price token estimates and hold the estimated cost until commit or expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			reserved, err := client.Reserve(ctx, api.ReserveRequest{
				UserID:               args[0],
				RequestID:            requestID,
				Model:                model,
				Endpoint:             endpoint,
				InputTokensEstimate:  inputTokens,
				OutputTokensEstimate: outputTokens,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(reserved)
				return nil
			}

			fmt.Printf("Reservation: %s\n", reserved.ReservationID)
			fmt.Printf("Reserved: $%s\n", reserved.ReservedAmountUSD.String())
			fmt.Printf("Remaining: $%s\n", reserved.RemainingBalanceUSD.StringFixed(5))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to price against")
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "chat", "Endpoint (chat or embed)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Idempotency key; generated when omitted")
	cmd.Flags().Int64Var(&inputTokens, "input-tokens", 0, "Estimated input tokens")
	cmd.Flags().Int64Var(&outputTokens, "output-tokens", 0, "Estimated output tokens")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input-tokens")

	return cmd
}

// NewCommitCommand creates the commit command
func NewCommitCommand(ctx context.Context) *cobra.Command {
	var inputTokens, outputTokens int64

	cmd := &cobra.Command{
		Use:   "commit <reservation-id>",
		Short: "Settle a reservation",
		Long:  "Reprice a reservation with actual token counts and settle the difference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			committed, err := client.Commit(ctx, api.CommitRequest{
				ReservationID:      args[0],
				InputTokensActual:  inputTokens,
				OutputTokensActual: outputTokens,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(committed)
				return nil
			}

			fmt.Printf("Final cost: $%s\n", committed.FinalCostUSD.String())
			fmt.Printf("Remaining: $%s\n", committed.RemainingBalanceUSD.StringFixed(5))
			return nil
		},
	}

	cmd.Flags().Int64Var(&inputTokens, "input-tokens", 0, "Actual input tokens")
	cmd.Flags().Int64Var(&outputTokens, "output-tokens", 0, "Actual output tokens")
	_ = cmd.MarkFlagRequired("input-tokens")

	return cmd
}
