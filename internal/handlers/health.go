package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amerfu/bllm/internal/ledger"
)

type HealthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler reports liveness and readiness. The service has a single
// dependency, the ledger substrate, so both checks reduce to a ping.
type HealthHandler struct {
	store *ledger.Store
}

func NewHealthHandler(store *ledger.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:   "ok",
		Services: make(map[string]ServiceHealth),
	}

	if err := h.store.Ping(r.Context()); err != nil {
		response.Services["ledger"] = ServiceHealth{Status: "unhealthy", Message: "Ledger connection failed"}
		response.Status = "degraded"
	} else {
		response.Services["ledger"] = ServiceHealth{Status: "healthy"}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "ok" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := h.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "not_ready",
			"error":  "Ledger not ready",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ready",
	})
}
