package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/monitor"
	"github.com/amerfu/bllm/pkg/api"
)

// MonitoringHandler exposes the billing aggregator's counters, alerts and
// thresholds.
type MonitoringHandler struct {
	logger  *zap.Logger
	monitor *monitor.Monitor
}

func NewMonitoringHandler(logger *zap.Logger, mon *monitor.Monitor) *MonitoringHandler {
	return &MonitoringHandler{logger: logger, monitor: mon}
}

// Metrics handles GET /v1/monitoring/metrics.
func (h *MonitoringHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	snap := h.monitor.Metrics()

	var lastAlert *time.Time
	if !snap.LastAlert.IsZero() {
		lastAlert = &snap.LastAlert
	}

	writeJSON(w, http.StatusOK, api.MetricsResponse{
		Metrics: api.MetricsCounters{
			TotalRequests:      snap.TotalRequests,
			SuccessfulRequests: snap.SuccessfulRequests,
			FailedRequests:     snap.FailedRequests,
			TotalChargesUSD:    snap.TotalCharges,
			TotalReservations:  snap.TotalReservations,
			TotalCommits:       snap.TotalCommits,
		},
		Thresholds: thresholdsToWire(snap.Thresholds),
		LastAlert:  lastAlert,
	})
}

// Alerts handles GET /v1/monitoring/alerts.
func (h *MonitoringHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(h.logger, w, errs.Validation("limit", "must be an integer"))
			return
		}
		limit = parsed
	}

	alerts, err := h.monitor.Alerts(r.Context(), limit)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	wire := make([]api.Alert, 0, len(alerts))
	for _, a := range alerts {
		wire = append(wire, api.Alert{
			Message:   a.Message,
			Timestamp: a.Timestamp,
			Metrics:   a.Metrics,
		})
	}

	writeJSON(w, http.StatusOK, api.AlertsResponse{Alerts: wire, Count: len(wire)})
}

// UpdateThresholds handles PUT /v1/admin/monitoring/thresholds.
func (h *MonitoringHandler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateThresholdsRequest
	if err := decode(r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	update := monitor.ThresholdUpdate{
		ErrorRate:  req.ErrorRate,
		LowBalance: req.LowBalanceUSD,
		HighUsage:  req.HighUsageTokens,
	}
	if req.ReservationTTLSeconds != nil {
		ttl := time.Duration(*req.ReservationTTLSeconds) * time.Second
		update.ReservationTTL = &ttl
	}

	thresholds, err := h.monitor.UpdateThresholds(update)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ThresholdsResponse{Thresholds: thresholdsToWire(thresholds)})
}

func thresholdsToWire(t monitor.Thresholds) api.Thresholds {
	return api.Thresholds{
		ErrorRate:             t.ErrorRate,
		LowBalanceUSD:         t.LowBalance,
		HighUsageTokens:       t.HighUsage,
		ReservationTTLSeconds: int64(t.ReservationTTL.Seconds()),
	}
}
