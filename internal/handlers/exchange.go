package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/exchange"
	"github.com/amerfu/bllm/pkg/api"
)

// ExchangeHandler exposes the exchange-rate table and its admin mutations.
type ExchangeHandler struct {
	logger   *zap.Logger
	exchange *exchange.Manager
}

func NewExchangeHandler(logger *zap.Logger, mgr *exchange.Manager) *ExchangeHandler {
	return &ExchangeHandler{logger: logger, exchange: mgr}
}

// Rates handles GET /v1/exchange-rates.
func (h *ExchangeHandler) Rates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ratesResponse(h.exchange.Info()))
}

// Refresh handles POST /v1/admin/exchange-rates/refresh. It pulls the feed
// synchronously so the caller sees the refreshed table or the feed error.
func (h *ExchangeHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.exchange.Refresh(r.Context()); err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratesResponse(h.exchange.Info()))
}

// Add handles POST /v1/admin/currencies.
func (h *ExchangeHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req api.AddCurrencyRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	if err := h.exchange.AddCurrency(r.Context(), req.Currency, req.Rate); err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, ratesResponse(h.exchange.Info()))
}

// UpdateRate handles PUT /v1/admin/currencies/{currency}.
func (h *ExchangeHandler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")

	var req api.UpdateCurrencyRateRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	if err := h.exchange.UpdateRate(r.Context(), currency, req.Rate); err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, ratesResponse(h.exchange.Info()))
}

// Remove handles DELETE /v1/admin/currencies/{currency}.
func (h *ExchangeHandler) Remove(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")

	if err := h.exchange.RemoveCurrency(r.Context(), currency); err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, ratesResponse(h.exchange.Info()))
}

func ratesResponse(info exchange.Info) api.ExchangeRatesResponse {
	return api.ExchangeRatesResponse{
		Rates:               info.Rates,
		LastUpdated:         info.LastUpdated,
		SupportedCurrencies: info.SupportedCurrencies,
	}
}
