package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amerfu/bllm/pkg/api"
)

// NewPricingCommand creates the pricing table command
func NewPricingCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Manage the pricing table",
		Long:  "Show, replace, and refresh per-million-token prices",
	}

	cmd.AddCommand(newPricingShowCommand(ctx))
	cmd.AddCommand(newPricingUpdateCommand(ctx))
	cmd.AddCommand(newPricingRefreshCommand(ctx))

	return cmd
}

func newPricingShowCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active pricing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			info, err := client.GetPricingInfo(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(info)
				return nil
			}

			fmt.Printf("Source: %s\n", info.Source)
			fmt.Printf("Updated: %s\n\n", info.LastUpdated.Format("2006-01-02 15:04:05"))

			headers := []string{"Model", "Chat In", "Chat Out", "Embed"}
			var rows [][]string
			for model, prices := range info.Pricing {
				row := []string{model, "-", "-", "-"}
				if prices.ChatInput != nil {
					row[1] = "$" + prices.ChatInput.String()
				}
				if prices.ChatOutput != nil {
					row[2] = "$" + prices.ChatOutput.String()
				}
				if prices.Embed != nil {
					row[3] = "$" + prices.Embed.String()
				}
				rows = append(rows, row)
			}
			OutputTable(headers, rows)
			return nil
		},
	}
}

func newPricingUpdateCommand(ctx context.Context) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace the pricing table",
		Long:  "Replace the whole pricing table from a JSON file (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read pricing file: %w", err)
			}

			var table api.PricingTable
			if err := json.Unmarshal(data, &table); err != nil {
				return fmt.Errorf("invalid pricing file: %w", err)
			}

			client, err := Client()
			if err != nil {
				return err
			}

			info, err := client.UpdatePricing(ctx, table)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(info)
				return nil
			}

			fmt.Printf("Pricing updated: %d models, source %s\n", len(info.Pricing), info.Source)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding the new table")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newPricingRefreshCommand(ctx context.Context) *cobra.Command {
	var sourceURL string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Pull the pricing table from a feed",
		Long:  "Replace the pricing table from an external HTTP feed (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			info, err := client.RefreshPricing(ctx, sourceURL)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(info)
				return nil
			}

			fmt.Printf("Pricing refreshed: %d models, source %s\n", len(info.Pricing), info.Source)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Feed URL serving the table")
	_ = cmd.MarkFlagRequired("source-url")

	return cmd
}
