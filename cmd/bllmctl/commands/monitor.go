package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/amerfu/bllm/pkg/api"
)

// NewMonitorCommand creates the monitoring command
func NewMonitorCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Inspect billing health",
		Long:  "Show operation counters, recent alerts, and alert thresholds",
	}

	cmd.AddCommand(newMonitorMetricsCommand(ctx))
	cmd.AddCommand(newMonitorAlertsCommand(ctx))
	cmd.AddCommand(newMonitorThresholdsCommand(ctx))

	return cmd
}

func newMonitorMetricsCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show operation counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			metrics, err := client.GetMetrics(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(metrics)
				return nil
			}

			m := metrics.Metrics
			fmt.Printf("Total Requests: %d\n", m.TotalRequests)
			fmt.Printf("Successful: %d\n", m.SuccessfulRequests)
			fmt.Printf("Failed: %d\n", m.FailedRequests)
			fmt.Printf("Total Charges: $%s\n", m.TotalChargesUSD.StringFixed(5))
			fmt.Printf("Reservations: %d\n", m.TotalReservations)
			fmt.Printf("Commits: %d\n", m.TotalCommits)
			if metrics.LastAlert != nil {
				fmt.Printf("Last Alert: %s\n", metrics.LastAlert.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newMonitorAlertsCommand(ctx context.Context) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Client()
			if err != nil {
				return err
			}

			alerts, err := client.GetAlerts(ctx, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(alerts)
				return nil
			}

			if alerts.Count == 0 {
				fmt.Println("No alerts")
				return nil
			}

			headers := []string{"Time", "Message"}
			var rows [][]string
			for _, alert := range alerts.Alerts {
				rows = append(rows, []string{
					time.Unix(alert.Timestamp, 0).UTC().Format("2006-01-02 15:04:05"),
					alert.Message,
				})
			}
			OutputTable(headers, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum alerts to show (capped at 50)")

	return cmd
}

func newMonitorThresholdsCommand(ctx context.Context) *cobra.Command {
	var errorRate float64
	var lowBalance string
	var highUsage int64
	var reservationTTL int64

	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Update alert thresholds",
		Long:  "Overwrite selected alert thresholds; omitted flags keep their values (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.UpdateThresholdsRequest{}
			if cmd.Flags().Changed("error-rate") {
				req.ErrorRate = &errorRate
			}
			if cmd.Flags().Changed("low-balance") {
				parsed, err := decimal.NewFromString(lowBalance)
				if err != nil {
					return fmt.Errorf("invalid low-balance: %w", err)
				}
				req.LowBalanceUSD = &parsed
			}
			if cmd.Flags().Changed("high-usage") {
				req.HighUsageTokens = &highUsage
			}
			if cmd.Flags().Changed("reservation-ttl") {
				req.ReservationTTLSeconds = &reservationTTL
			}

			client, err := Client()
			if err != nil {
				return err
			}

			resp, err := client.UpdateThresholds(ctx, req)
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(resp)
				return nil
			}

			t := resp.Thresholds
			fmt.Printf("Error Rate: %.2f\n", t.ErrorRate)
			fmt.Printf("Low Balance: $%s\n", t.LowBalanceUSD.StringFixed(2))
			fmt.Printf("High Usage: %d tokens\n", t.HighUsageTokens)
			fmt.Printf("Reservation TTL Floor: %ds\n", t.ReservationTTLSeconds)
			return nil
		},
	}

	cmd.Flags().Float64Var(&errorRate, "error-rate", 0, "Failure ratio that triggers an alert, in (0, 1]")
	cmd.Flags().StringVar(&lowBalance, "low-balance", "", "Balance in USD below which reads alert")
	cmd.Flags().Int64Var(&highUsage, "high-usage", 0, "Daily token count above which reads alert")
	cmd.Flags().Int64Var(&reservationTTL, "reservation-ttl", 0, "Configured TTL floor in seconds")

	return cmd
}
