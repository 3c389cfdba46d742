package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/pricing"
	"github.com/amerfu/bllm/pkg/api"
)

// PricingHandler exposes the pricing table and its admin mutations.
type PricingHandler struct {
	logger  *zap.Logger
	pricing *pricing.Manager
}

func NewPricingHandler(logger *zap.Logger, mgr *pricing.Manager) *PricingHandler {
	return &PricingHandler{logger: logger, pricing: mgr}
}

// Info handles GET /v1/pricing and GET /v1/pricing/info. Both return the
// table with its source metadata; clients that only want prices ignore the
// rest.
func (h *PricingHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pricingInfoResponse(h.pricing.Info()))
}

// Update handles PUT /v1/admin/pricing.
func (h *PricingHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req api.UpdatePricingRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	if err := h.pricing.Update(r.Context(), tableFromWire(req.Pricing), "manual"); err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, pricingInfoResponse(h.pricing.Info()))
}

// Refresh handles POST /v1/admin/pricing/refresh.
func (h *PricingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshPricingRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	if err := h.pricing.UpdateFromFeed(r.Context(), req.SourceURL); err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, pricingInfoResponse(h.pricing.Info()))
}

func pricingInfoResponse(info pricing.Info) api.PricingInfoResponse {
	return api.PricingInfoResponse{
		Source:      info.Source,
		LastUpdated: info.LastUpdated,
		Pricing:     tableToWire(info.Table),
	}
}

func tableToWire(table pricing.Table) api.PricingTable {
	wire := make(api.PricingTable, len(table))
	for model, prices := range table {
		wire[model] = api.ModelPrices{
			ChatInput:  prices.ChatInput,
			ChatOutput: prices.ChatOutput,
			Embed:      prices.Embed,
		}
	}
	return wire
}

func tableFromWire(wire api.PricingTable) pricing.Table {
	table := make(pricing.Table, len(wire))
	for model, prices := range wire {
		table[model] = pricing.ModelPrices{
			ChatInput:  prices.ChatInput,
			ChatOutput: prices.ChatOutput,
			Embed:      prices.Embed,
		}
	}
	return table
}
