package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amerfu/bllm/cmd/bllmctl/commands"
)

var (
	apiURL     string
	token      string
	adminKey   string
	outputJSON bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bllmctl",
		Short: "bllm billing service CLI",
		Long: `Operator CLI for the bllm billing service: balances, charges,
reservations, pricing, exchange rates, and monitoring.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("BLLM_API_URL")
			}
			if token == "" {
				token = os.Getenv("BLLM_TOKEN")
			}
			if adminKey == "" {
				adminKey = os.Getenv("BLLM_ADMIN_KEY")
			}

			commands.SetClientConfig(apiURL, token, adminKey)
			commands.SetOutputJSON(outputJSON)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "billing service base URL (default BLLM_API_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default BLLM_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "admin key for admin commands (default BLLM_ADMIN_KEY)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	// Add subcommands
	ctx := context.Background()
	rootCmd.AddCommand(commands.NewBalanceCommand(ctx))
	rootCmd.AddCommand(commands.NewChargeCommand(ctx))
	rootCmd.AddCommand(commands.NewReserveCommand(ctx))
	rootCmd.AddCommand(commands.NewCommitCommand(ctx))
	rootCmd.AddCommand(commands.NewPricingCommand(ctx))
	rootCmd.AddCommand(commands.NewRatesCommand(ctx))
	rootCmd.AddCommand(commands.NewStatsCommand(ctx))
	rootCmd.AddCommand(commands.NewUsageCommand(ctx))
	rootCmd.AddCommand(commands.NewMonitorCommand(ctx))
	rootCmd.AddCommand(commands.NewTokenCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())

	return rootCmd
}
