package commands

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// NewRatesCommand creates the exchange-rate command
func NewRatesCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Manage exchange rates",
		Long:  "Show and maintain the currency conversion table",
	}

	cmd.AddCommand(newRatesShowCommand(ctx))
	cmd.AddCommand(newRatesRefreshCommand(ctx))
	cmd.AddCommand(newRatesAddCommand(ctx))
	cmd.AddCommand(newRatesSetCommand(ctx))
	cmd.AddCommand(newRatesRemoveCommand(ctx))

	return cmd
}

func newRatesShowCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the conversion table",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			rates, err := client.GetExchangeRates(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(rates)
				return nil
			}

			fmt.Printf("Updated: %s\n\n", rates.LastUpdated.Format("2006-01-02 15:04:05"))

			headers := []string{"Currency", "Rate (per USD)"}
			var rows [][]string
			for _, currency := range rates.SupportedCurrencies {
				rows = append(rows, []string{currency, rates.Rates[currency].String()})
			}
			OutputTable(headers, rows)
			return nil
		},
	}
}

func newRatesRefreshCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Pull rates from the configured feed",
		Long:  "Refresh every non-base currency from the external feed (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			rates, err := client.RefreshExchangeRates(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(rates)
				return nil
			}

			fmt.Printf("Rates refreshed: %d currencies\n", len(rates.SupportedCurrencies))
			return nil
		},
	}
}

func newRatesAddCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "add <currency> <rate>",
		Short: "Add a currency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid rate: %w", err)
			}

			client, err := Client()
			if err != nil {
				return err
			}

			rates, err := client.AddCurrency(ctx, args[0], rate)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(rates)
				return nil
			}

			fmt.Printf("Added %s at %s\n", args[0], rate.String())
			return nil
		},
	}
}

func newRatesSetCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "set <currency> <rate>",
		Short: "Overwrite a currency's rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid rate: %w", err)
			}

			client, err := Client()
			if err != nil {
				return err
			}

			rates, err := client.UpdateCurrencyRate(ctx, args[0], rate)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(rates)
				return nil
			}

			fmt.Printf("Set %s to %s\n", args[0], rate.String())
			return nil
		},
	}
}

func newRatesRemoveCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <currency>",
		Short: "Remove a currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			rates, err := client.RemoveCurrency(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(rates)
				return nil
			}

			fmt.Printf("Removed %s, %d currencies remain\n", args[0], len(rates.SupportedCurrencies))
			return nil
		},
	}
}
