package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a typed HTTP client for the billing service, used by the CLI
// and by gateway peers.
type Client struct {
	baseURL  string
	token    string
	adminKey string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimPrefix(token, "Bearer ") }
}

// WithAdminKey sets the admin key sent on every request.
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is the decoded error envelope plus the HTTP status it arrived
// with.
type APIError struct {
	Status  int
	Code    string
	Message string
	Field   string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%d): %s: %s", e.Code, e.Status, e.Field, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.adminKey != "" {
		req.Header.Set("X-Admin-Key", c.adminKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope ErrorBody
		if jerr := json.Unmarshal(data, &envelope); jerr == nil && envelope.Error.Code != "" {
			return &APIError{
				Status:  resp.StatusCode,
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Field:   envelope.Error.Field,
				Reason:  envelope.Error.Reason,
			}
		}
		return &APIError{
			Status:  resp.StatusCode,
			Code:    "INTERNAL",
			Message: strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	var resp ChargeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/charge", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResponse, error) {
	var resp ReserveResponse
	if err := c.do(ctx, http.MethodPost, "/v1/reserve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Commit(ctx context.Context, req CommitRequest) (*CommitResponse, error) {
	var resp CommitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/commit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetBalance(ctx context.Context, userID string) (*BalanceResponse, error) {
	var resp BalanceResponse
	path := "/v1/balance/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetUsage(ctx context.Context, userID, model string) (*UsageResponse, error) {
	var resp UsageResponse
	path := "/v1/usage/" + url.PathEscape(userID) + "/" + url.PathEscape(model)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AdjustBalance(ctx context.Context, req AdjustBalanceRequest) (*AdjustBalanceResponse, error) {
	var resp AdjustBalanceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/admin/balance/adjust", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/admin/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetPricing(ctx context.Context) (PricingTable, error) {
	var resp PricingInfoResponse
	if err := c.do(ctx, http.MethodGet, "/v1/pricing", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pricing, nil
}

func (c *Client) GetPricingInfo(ctx context.Context) (*PricingInfoResponse, error) {
	var resp PricingInfoResponse
	if err := c.do(ctx, http.MethodGet, "/v1/pricing/info", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdatePricing(ctx context.Context, table PricingTable) (*PricingInfoResponse, error) {
	var resp PricingInfoResponse
	req := UpdatePricingRequest{Pricing: table}
	if err := c.do(ctx, http.MethodPut, "/v1/admin/pricing", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RefreshPricing(ctx context.Context, sourceURL string) (*PricingInfoResponse, error) {
	var resp PricingInfoResponse
	req := RefreshPricingRequest{SourceURL: sourceURL}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/pricing/refresh", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetExchangeRates(ctx context.Context) (*ExchangeRatesResponse, error) {
	var resp ExchangeRatesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/exchange-rates", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RefreshExchangeRates(ctx context.Context) (*ExchangeRatesResponse, error) {
	var resp ExchangeRatesResponse
	if err := c.do(ctx, http.MethodPost, "/v1/admin/exchange-rates/refresh", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AddCurrency(ctx context.Context, currency string, rate decimal.Decimal) (*ExchangeRatesResponse, error) {
	var resp ExchangeRatesResponse
	req := AddCurrencyRequest{Currency: currency, Rate: rate}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/currencies", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateCurrencyRate(ctx context.Context, currency string, rate decimal.Decimal) (*ExchangeRatesResponse, error) {
	var resp ExchangeRatesResponse
	req := UpdateCurrencyRateRequest{Rate: rate}
	path := "/v1/admin/currencies/" + url.PathEscape(currency)
	if err := c.do(ctx, http.MethodPut, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RemoveCurrency(ctx context.Context, currency string) (*ExchangeRatesResponse, error) {
	var resp ExchangeRatesResponse
	path := "/v1/admin/currencies/" + url.PathEscape(currency)
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	var resp MetricsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/monitoring/metrics", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetAlerts(ctx context.Context, limit int) (*AlertsResponse, error) {
	path := "/v1/monitoring/alerts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp AlertsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateThresholds(ctx context.Context, req UpdateThresholdsRequest) (*ThresholdsResponse, error) {
	var resp ThresholdsResponse
	if err := c.do(ctx, http.MethodPut, "/v1/admin/monitoring/thresholds", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
