package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the service statistics command
func NewStatsCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show service statistics",
		Long:  "Show revenue, active users, deposits, and today's usage (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			stats, err := client.GetStats(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(stats)
				return nil
			}

			fmt.Printf("Total Revenue: $%s\n", stats.TotalRevenueUSD.StringFixed(2))
			fmt.Printf("Active Users: %d\n", stats.ActiveUsers)
			fmt.Printf("Total Deposits: $%s\n", stats.TotalDepositsUSD.StringFixed(2))

			if len(stats.TodayUsage) > 0 {
				fmt.Printf("\nToday's Usage:\n")
				headers := []string{"Model", "Tokens"}
				var rows [][]string
				for model, tokens := range stats.TodayUsage {
					rows = append(rows, []string{model, strconv.FormatInt(tokens, 10)})
				}
				OutputTable(headers, rows)
			}
			return nil
		},
	}
}

// NewUsageCommand creates the per-user usage command
func NewUsageCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <user-id> <model>",
		Short: "Show a user's token usage for one model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			usage, err := client.GetUsage(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(usage)
				return nil
			}

			fmt.Printf("User: %s\n", usage.UserID)
			fmt.Printf("Model: %s\n", usage.Model)
			fmt.Printf("Total Tokens: %d\n", usage.TotalTokens)

			if len(usage.ByEndpoint) > 0 {
				fmt.Printf("\nBy Endpoint:\n")
				headers := []string{"Endpoint", "Tokens"}
				var rows [][]string
				for endpoint, tokens := range usage.ByEndpoint {
					rows = append(rows, []string{endpoint, strconv.FormatInt(tokens, 10)})
				}
				OutputTable(headers, rows)
			}
			return nil
		},
	}
}
