// Package api defines the wire contract of the billing service and a typed
// HTTP client for it. Monetary fields travel as decimal strings; floats
// never cross the wire.
package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// ErrorBody is the uniform error envelope returned on every failure.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the canonical machine code plus optional context.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ChargeRequest debits a caller-computed cost.
type ChargeRequest struct {
	UserID     string          `json:"user_id"`
	Model      string          `json:"model"`
	TokensUsed int64           `json:"tokens_used"`
	CostUSD    decimal.Decimal `json:"cost_usd"`
}

type ChargeResponse struct {
	UserID        string          `json:"user_id"`
	NewBalanceUSD decimal.Decimal `json:"new_balance_usd"`
}

// ReserveRequest opens a hold priced from token estimates. RequestID is
// optional; the service generates one when absent.
type ReserveRequest struct {
	UserID               string `json:"user_id"`
	RequestID            string `json:"request_id,omitempty"`
	Model                string `json:"model"`
	Endpoint             string `json:"endpoint"`
	InputTokensEstimate  int64  `json:"input_tokens_estimate"`
	OutputTokensEstimate int64  `json:"output_tokens_estimate"`
}

type ReserveResponse struct {
	ReservationID       string          `json:"reservation_id"`
	ReservedAmountUSD   decimal.Decimal `json:"reserved_amount_usd"`
	RemainingBalanceUSD decimal.Decimal `json:"remaining_balance_usd"`
}

// CommitRequest settles a hold with actual token counts.
type CommitRequest struct {
	ReservationID      string `json:"reservation_id"`
	InputTokensActual  int64  `json:"input_tokens_actual"`
	OutputTokensActual int64  `json:"output_tokens_actual"`
}

type CommitResponse struct {
	FinalCostUSD        decimal.Decimal `json:"final_cost_usd"`
	RemainingBalanceUSD decimal.Decimal `json:"remaining_balance_usd"`
}

// BalanceResponse presents one balance in the base currency and two
// convenience conversions.
type BalanceResponse struct {
	UserID     string          `json:"user_id"`
	BalanceUSD decimal.Decimal `json:"balance_usd"`
	BalanceRUB decimal.Decimal `json:"balance_rub"`
	BalanceEUR decimal.Decimal `json:"balance_eur"`
}

type AdjustBalanceRequest struct {
	UserID    string          `json:"user_id"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Reason    string          `json:"reason,omitempty"`
}

type AdjustBalanceResponse struct {
	UserID        string          `json:"user_id"`
	NewBalanceUSD decimal.Decimal `json:"new_balance_usd"`
}

type StatsResponse struct {
	TotalRevenueUSD  decimal.Decimal  `json:"total_revenue_usd"`
	ActiveUsers      int64            `json:"active_users"`
	TotalDepositsUSD decimal.Decimal  `json:"total_deposits_usd"`
	TodayUsage       map[string]int64 `json:"today_usage"`
}

type UsageResponse struct {
	UserID      string           `json:"user_id"`
	Model       string           `json:"model"`
	ByEndpoint  map[string]int64 `json:"by_endpoint"`
	TotalTokens int64            `json:"total_tokens"`
}

// ModelPrices holds per-million-token unit prices. A nil price means the
// model does not serve that endpoint.
type ModelPrices struct {
	ChatInput  *decimal.Decimal `json:"chat_input,omitempty"`
	ChatOutput *decimal.Decimal `json:"chat_output,omitempty"`
	Embed      *decimal.Decimal `json:"embed,omitempty"`
}

// PricingTable maps model id → unit prices.
type PricingTable map[string]ModelPrices

type PricingInfoResponse struct {
	Source      string       `json:"source"`
	LastUpdated time.Time    `json:"last_updated"`
	Pricing     PricingTable `json:"pricing"`
}

type UpdatePricingRequest struct {
	Pricing PricingTable `json:"pricing"`
}

type RefreshPricingRequest struct {
	SourceURL string `json:"source_url"`
}

type ExchangeRatesResponse struct {
	Rates               map[string]decimal.Decimal `json:"rates"`
	LastUpdated         time.Time                  `json:"last_updated"`
	SupportedCurrencies []string                   `json:"supported_currencies"`
}

type AddCurrencyRequest struct {
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
}

type UpdateCurrencyRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// MetricsCounters mirrors the monitoring aggregator's counters.
type MetricsCounters struct {
	TotalRequests      int64           `json:"total_requests"`
	SuccessfulRequests int64           `json:"successful_requests"`
	FailedRequests     int64           `json:"failed_requests"`
	TotalChargesUSD    decimal.Decimal `json:"total_charges_usd"`
	TotalReservations  int64           `json:"total_reservations"`
	TotalCommits       int64           `json:"total_commits"`
}

// Thresholds are the alert trigger levels.
type Thresholds struct {
	ErrorRate             float64         `json:"error_rate"`
	LowBalanceUSD         decimal.Decimal `json:"low_balance_usd"`
	HighUsageTokens       int64           `json:"high_usage_tokens"`
	ReservationTTLSeconds int64           `json:"reservation_ttl_seconds"`
}

type MetricsResponse struct {
	Metrics    MetricsCounters `json:"metrics"`
	Thresholds Thresholds      `json:"thresholds"`
	LastAlert  *time.Time      `json:"last_alert"`
}

// UpdateThresholdsRequest is a partial thresholds overwrite; omitted fields
// keep their current values.
type UpdateThresholdsRequest struct {
	ErrorRate             *float64         `json:"error_rate,omitempty"`
	LowBalanceUSD         *decimal.Decimal `json:"low_balance_usd,omitempty"`
	HighUsageTokens       *int64           `json:"high_usage_tokens,omitempty"`
	ReservationTTLSeconds *int64           `json:"reservation_ttl_seconds,omitempty"`
}

type ThresholdsResponse struct {
	Thresholds Thresholds `json:"thresholds"`
}

type Alert struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Metrics   string `json:"metrics,omitempty"`
}

type AlertsResponse struct {
	Alerts []Alert `json:"alerts"`
	Count  int     `json:"count"`
}
