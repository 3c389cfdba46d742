package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/billing"
	"github.com/amerfu/bllm/pkg/api"
)

// BillingHandler exposes the billing core over HTTP.
type BillingHandler struct {
	logger  *zap.Logger
	billing *billing.Service
}

func NewBillingHandler(logger *zap.Logger, svc *billing.Service) *BillingHandler {
	return &BillingHandler{logger: logger, billing: svc}
}

// Charge handles POST /v1/charge.
func (h *BillingHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req api.ChargeRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	res, err := h.billing.Charge(r.Context(), billing.ChargeParams{
		UserID: req.UserID,
		Model:  req.Model,
		Tokens: req.TokensUsed,
		Cost:   req.CostUSD,
	})
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ChargeResponse{
		UserID:        req.UserID,
		NewBalanceUSD: res.NewBalance,
	})
}

// Reserve handles POST /v1/reserve.
func (h *BillingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req api.ReserveRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	res, err := h.billing.Reserve(r.Context(), billing.ReserveParams{
		UserID:               req.UserID,
		RequestID:            req.RequestID,
		Model:                req.Model,
		Endpoint:             req.Endpoint,
		InputTokensEstimate:  req.InputTokensEstimate,
		OutputTokensEstimate: req.OutputTokensEstimate,
	})
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ReserveResponse{
		ReservationID:       res.ReservationID,
		ReservedAmountUSD:   res.ReservedAmount,
		RemainingBalanceUSD: res.RemainingBalance,
	})
}

// Commit handles POST /v1/commit.
func (h *BillingHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req api.CommitRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	res, err := h.billing.Commit(r.Context(), billing.CommitParams{
		ReservationID:      req.ReservationID,
		InputTokensActual:  req.InputTokensActual,
		OutputTokensActual: req.OutputTokensActual,
	})
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.CommitResponse{
		FinalCostUSD:        res.FinalCost,
		RemainingBalanceUSD: res.RemainingBalance,
	})
}

// GetBalance handles GET /v1/balance/{user_id}.
func (h *BillingHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	balance, err := h.billing.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.BalanceResponse{
		UserID:     balance.UserID,
		BalanceUSD: balance.USD,
		BalanceRUB: balance.RUB,
		BalanceEUR: balance.EUR,
	})
}

// GetUsage handles GET /v1/usage/{user_id}/{model}.
func (h *BillingHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	model := chi.URLParam(r, "model")

	usage, err := h.billing.GetUsage(r.Context(), userID, model)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.UsageResponse{
		UserID:      usage.UserID,
		Model:       usage.Model,
		ByEndpoint:  usage.ByEndpoint,
		TotalTokens: usage.TotalTokens,
	})
}

// AdjustBalance handles POST /v1/admin/balance/adjust.
func (h *BillingHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req api.AdjustBalanceRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	balance, err := h.billing.AdjustBalance(r.Context(), req.UserID, req.AmountUSD, req.Reason)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.AdjustBalanceResponse{
		UserID:        req.UserID,
		NewBalanceUSD: balance,
	})
}

// GetStats handles GET /v1/admin/stats.
func (h *BillingHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.billing.GetStats(r.Context())
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.StatsResponse{
		TotalRevenueUSD:  stats.TotalRevenue,
		ActiveUsers:      stats.ActiveUsers,
		TotalDepositsUSD: stats.TotalDeposits,
		TodayUsage:       stats.TodayUsage,
	})
}
