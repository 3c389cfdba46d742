// Package monitor is the in-process monitoring aggregator: per-operation
// counters, alert thresholds, and the alert stream writer. Counters are
// process-local and reset on restart; the substrate streams stay the durable
// record.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/ledger"
)

// Op labels a recorded billing operation.
type Op string

const (
	OpCharge  Op = "charge"
	OpReserve Op = "reserve"
	OpCommit  Op = "commit"
	OpAdjust  Op = "adjust"
	OpRead    Op = "read"
)

// Error-rate alerts only fire once the sample is meaningful.
const errorRateMinRequests = 10

// Alerts reads are capped regardless of the requested limit.
const maxAlerts = 50

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bllm_billing_operations_total",
			Help: "Billing operations by type and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	chargedUSDTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bllm_billing_charged_usd_total",
			Help: "Total USD charged across fast-path charges and commits.",
		},
	)

	alertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bllm_billing_alerts_total",
			Help: "Alerts emitted to the alert stream.",
		},
	)
)

// Thresholds are the mutable alert trigger levels.
type Thresholds struct {
	ErrorRate      float64         // failed/total above this alerts
	LowBalance     decimal.Decimal // balances observed below this alert
	HighUsage      int64           // tokens per user per day above this alert
	ReservationTTL time.Duration   // configured TTLs below this alert
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:      0.05,
		LowBalance:     decimal.RequireFromString("10.00"),
		HighUsage:      1_000_000,
		ReservationTTL: 300 * time.Second,
	}
}

// ThresholdUpdate is a partial thresholds overwrite; nil fields keep their
// current value.
type ThresholdUpdate struct {
	ErrorRate      *float64
	LowBalance     *decimal.Decimal
	HighUsage      *int64
	ReservationTTL *time.Duration
}

// Snapshot is a point-in-time copy of the aggregator state.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalCharges       decimal.Decimal
	TotalReservations  int64
	TotalCommits       int64
	Thresholds         Thresholds
	LastAlert          time.Time // zero when no alert has fired
}

// Alert is one entry of the alert stream.
type Alert struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Metrics   string `json:"metrics,omitempty"`
}

// AlertStore is the slice of the ledger store the aggregator writes alerts
// through and reads them back from.
type AlertStore interface {
	AppendStream(ctx context.Context, stream string, fields map[string]interface{}) error
	RevRangeStream(ctx context.Context, stream string, count int64) ([]map[string]string, error)
}

// Monitor aggregates operation counters and fires threshold alerts. All
// checks run under one mutex; alert emission happens off the critical path
// in a fire-and-forget goroutine.
type Monitor struct {
	mu                 sync.Mutex
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	totalCharges       decimal.Decimal
	totalReservations  int64
	totalCommits       int64
	thresholds         Thresholds
	lastAlert          time.Time

	cooldown time.Duration
	store    AlertStore
	logger   *zap.Logger
	now      func() time.Time
}

func New(store AlertStore, logger *zap.Logger, thresholds Thresholds, cooldown time.Duration) *Monitor {
	return &Monitor{
		totalCharges: decimal.Zero,
		thresholds:   thresholds,
		cooldown:     cooldown,
		store:        store,
		logger:       logger,
		now:          time.Now,
	}
}

// Record counts one finished operation and re-evaluates the error-rate
// threshold.
func (m *Monitor) Record(op Op, amount decimal.Decimal, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	operationsTotal.WithLabelValues(string(op), outcome).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	if err != nil {
		m.failedRequests++
	} else {
		m.successfulRequests++
		switch op {
		case OpCharge:
			m.totalCharges = m.totalCharges.Add(amount)
			chargedUSDTotal.Add(amount.InexactFloat64())
		case OpCommit:
			m.totalCommits++
			m.totalCharges = m.totalCharges.Add(amount)
			chargedUSDTotal.Add(amount.InexactFloat64())
		case OpReserve:
			m.totalReservations++
		}
	}

	if m.totalRequests < errorRateMinRequests {
		return
	}
	rate := float64(m.failedRequests) / float64(m.totalRequests)
	if rate > m.thresholds.ErrorRate {
		m.alertLocked(fmt.Sprintf("High error rate: %.1f%%", rate*100))
	}
}

// CheckBalance fires the low-balance alert when a read observes a balance
// under the threshold.
func (m *Monitor) CheckBalance(userID string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if balance.LessThan(m.thresholds.LowBalance) {
		m.alertLocked(fmt.Sprintf("Low balance for user %s: $%s", userID, balance.StringFixed(2)))
	}
}

// CheckUsage fires the high-usage alert when a read observes a user's token
// count over the threshold.
func (m *Monitor) CheckUsage(userID string, tokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tokens > m.thresholds.HighUsage {
		m.alertLocked(fmt.Sprintf("High usage for user %s: %d tokens in 24h", userID, tokens))
	}
}

// CheckReservationTTL flags a configured reservation TTL below the floor.
// Called once at startup.
func (m *Monitor) CheckReservationTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl < m.thresholds.ReservationTTL {
		m.alertLocked(fmt.Sprintf("Reservation TTL too low: %ds < %ds",
			int64(ttl.Seconds()), int64(m.thresholds.ReservationTTL.Seconds())))
	}
}

// alertLocked emits one alert unless the cooldown suppresses it. Callers
// hold the mutex.
func (m *Monitor) alertLocked(message string) {
	now := m.now()
	if !m.lastAlert.IsZero() && now.Sub(m.lastAlert) < m.cooldown {
		return
	}
	m.lastAlert = now
	alertsTotal.Inc()
	m.logger.Warn("billing alert", zap.String("message", message))

	snap := m.snapshotLocked()
	go m.emit(message, now, snap)
}

// emit appends the alert to the stream with its own deadline so a slow
// substrate never stalls the operation that tripped the threshold.
func (m *Monitor) emit(message string, at time.Time, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics, err := json.Marshal(map[string]interface{}{
		"total_requests":      snap.TotalRequests,
		"successful_requests": snap.SuccessfulRequests,
		"failed_requests":     snap.FailedRequests,
		"total_charges":       snap.TotalCharges.String(),
		"total_reservations":  snap.TotalReservations,
		"total_commits":       snap.TotalCommits,
	})
	if err != nil {
		m.logger.Error("failed to encode alert metrics", zap.Error(err))
		return
	}

	fields := map[string]interface{}{
		"message":   message,
		"timestamp": at.Unix(),
		"metrics":   string(metrics),
	}
	if err := m.store.AppendStream(ctx, ledger.StreamAlerts, fields); err != nil {
		m.logger.Error("failed to append alert", zap.Error(err))
	}
}

func (m *Monitor) snapshotLocked() Snapshot {
	return Snapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		TotalCharges:       m.totalCharges,
		TotalReservations:  m.totalReservations,
		TotalCommits:       m.totalCommits,
		Thresholds:         m.thresholds,
		LastAlert:          m.lastAlert,
	}
}

// Metrics returns a copy of the aggregator state.
func (m *Monitor) Metrics() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Alerts returns the newest alerts, newest first. The limit is clamped to
// 50; zero or negative means the full cap.
func (m *Monitor) Alerts(ctx context.Context, limit int64) ([]Alert, error) {
	if limit <= 0 || limit > maxAlerts {
		limit = maxAlerts
	}
	entries, err := m.store.RevRangeStream(ctx, ledger.StreamAlerts, limit)
	if err != nil {
		return nil, err
	}

	alerts := make([]Alert, 0, len(entries))
	for _, entry := range entries {
		ts, _ := strconv.ParseInt(entry["timestamp"], 10, 64)
		alerts = append(alerts, Alert{
			Message:   entry["message"],
			Timestamp: ts,
			Metrics:   entry["metrics"],
		})
	}
	return alerts, nil
}

// UpdateThresholds applies a partial overwrite and returns the resulting
// thresholds.
func (m *Monitor) UpdateThresholds(u ThresholdUpdate) (Thresholds, error) {
	if u.ErrorRate != nil && (*u.ErrorRate <= 0 || *u.ErrorRate > 1) {
		return Thresholds{}, errs.Validation("error_rate", "must be in (0, 1]")
	}
	if u.LowBalance != nil && u.LowBalance.IsNegative() {
		return Thresholds{}, errs.Validation("low_balance", "must not be negative")
	}
	if u.HighUsage != nil && *u.HighUsage <= 0 {
		return Thresholds{}, errs.Validation("high_usage", "must be positive")
	}
	if u.ReservationTTL != nil && *u.ReservationTTL <= 0 {
		return Thresholds{}, errs.Validation("reservation_ttl", "must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ErrorRate != nil {
		m.thresholds.ErrorRate = *u.ErrorRate
	}
	if u.LowBalance != nil {
		m.thresholds.LowBalance = *u.LowBalance
	}
	if u.HighUsage != nil {
		m.thresholds.HighUsage = *u.HighUsage
	}
	if u.ReservationTTL != nil {
		m.thresholds.ReservationTTL = *u.ReservationTTL
	}

	m.logger.Info("alert thresholds updated",
		zap.Float64("error_rate", m.thresholds.ErrorRate),
		zap.String("low_balance", m.thresholds.LowBalance.String()),
		zap.Int64("high_usage", m.thresholds.HighUsage),
		zap.Duration("reservation_ttl", m.thresholds.ReservationTTL))
	return m.thresholds, nil
}
