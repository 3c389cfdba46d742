// Package exchange owns the currency → rate table used to present balances
// in non-base currencies. Rates are multipliers from USD; conversion is
// presentation-only and never touches the ledger. USD and USDT are pinned to
// 1 and cannot be removed or overwritten.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/validate"
	"github.com/amerfu/bllm/pkg/circuitbreaker"
)

// Pinned base currencies.
const (
	CurrencyUSD  = "USD"
	CurrencyUSDT = "USDT"
)

// Feed breaker settings: after three straight transport failures the feed is
// left alone for five minutes.
const (
	feedFailureThreshold = 3
	feedOpenCooldown     = 5 * time.Minute
)

// Rates maps a currency code to its multiplier from the base currency.
type Rates map[string]decimal.Decimal

// Info is the snapshot surfaced by GetExchangeRates.
type Info struct {
	Rates               Rates     `json:"rates"`
	LastUpdated         time.Time `json:"last_updated"`
	SupportedCurrencies []string  `json:"supported_currencies"`
}

// SnapshotStore is the slice of the ledger store the manager persists
// through.
type SnapshotStore interface {
	LoadExchangeSnapshot(ctx context.Context) (string, bool, error)
	SaveExchangeSnapshot(ctx context.Context, snapshot, supported string, updatedAt time.Time) error
}

// Manager holds the rate table and the background refresher. Admin mutations
// and the refresher persist the snapshot after every successful change;
// readers take the read lock and copy.
type Manager struct {
	mu          sync.RWMutex
	rates       Rates
	lastUpdated time.Time

	feedURL string
	store   SnapshotStore
	logger  *zap.Logger
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

func NewManager(store SnapshotStore, logger *zap.Logger, feedURL string, feedTimeout time.Duration) *Manager {
	return &Manager{
		rates:       defaultRates(),
		lastUpdated: time.Now().UTC(),
		feedURL:     feedURL,
		store:       store,
		logger:      logger,
		client:      &http.Client{Timeout: feedTimeout},
		breaker:     circuitbreaker.New(feedFailureThreshold, feedOpenCooldown),
	}
}

func defaultRates() Rates {
	return Rates{
		CurrencyUSD:  decimal.NewFromInt(1),
		CurrencyUSDT: decimal.NewFromInt(1),
		"EUR":        decimal.RequireFromString("0.92"),
		"RUB":        decimal.RequireFromString("96.50"),
		"GBP":        decimal.RequireFromString("0.79"),
		"CNY":        decimal.RequireFromString("7.23"),
		"JPY":        decimal.RequireFromString("156.75"),
		"INR":        decimal.RequireFromString("83.45"),
	}
}

func pinned(currency string) bool {
	return currency == CurrencyUSD || currency == CurrencyUSDT
}

// Load seeds the table from the persisted snapshot when one exists. A
// corrupt snapshot is logged and skipped so the service still comes up on
// the built-in defaults.
func (m *Manager) Load(ctx context.Context) error {
	snapshot, ok, err := m.store.LoadExchangeSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Info("no persisted exchange rates, using built-in defaults")
		return nil
	}

	var rates Rates
	if err := json.Unmarshal([]byte(snapshot), &rates); err != nil {
		m.logger.Warn("invalid persisted exchange snapshot, using built-in defaults", zap.Error(err))
		return nil
	}

	// The pins hold whatever the snapshot says.
	rates[CurrencyUSD] = decimal.NewFromInt(1)
	rates[CurrencyUSDT] = decimal.NewFromInt(1)

	m.mu.Lock()
	m.rates = rates
	m.lastUpdated = time.Now().UTC()
	m.mu.Unlock()

	m.logger.Info("exchange rates loaded from store", zap.Int("currencies", len(rates)))
	return nil
}

// Rate returns the multiplier for one currency.
func (m *Manager) Rate(currency string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rate, ok := m.rates[strings.ToUpper(currency)]
	return rate, ok
}

// Convert multiplies a base-currency amount into the target currency.
// Unknown currencies convert to zero without failing; callers presenting
// several currencies should not break on one missing entry.
func (m *Manager) Convert(amount decimal.Decimal, currency string) decimal.Decimal {
	rate, ok := m.Rate(currency)
	if !ok {
		return decimal.Zero
	}
	return amount.Mul(rate)
}

// Snapshot returns a copy of the current table.
func (m *Manager) Snapshot() Rates {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rates.clone()
}

// Info returns the table with its metadata.
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{
		Rates:               m.rates.clone(),
		LastUpdated:         m.lastUpdated,
		SupportedCurrencies: m.rates.currencies(),
	}
}

func (r Rates) clone() Rates {
	out := make(Rates, len(r))
	for currency, rate := range r {
		out[currency] = rate
	}
	return out
}

func (r Rates) currencies() []string {
	out := make([]string, 0, len(r))
	for currency := range r {
		out = append(out, currency)
	}
	sort.Strings(out)
	return out
}

// AddCurrency installs a new currency. The code must be three alphabetic
// characters and must not already exist.
func (m *Manager) AddCurrency(ctx context.Context, currency string, rate decimal.Decimal) error {
	if err := validate.Currency(currency); err != nil {
		return err
	}
	if !rate.IsPositive() {
		return errs.Validation("rate", "must be positive")
	}
	currency = strings.ToUpper(currency)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rates[currency]; exists {
		return errs.Validation("currency", fmt.Sprintf("currency %s already exists", currency))
	}
	m.rates[currency] = rate
	m.lastUpdated = time.Now().UTC()
	if err := m.persistLocked(ctx); err != nil {
		delete(m.rates, currency)
		return err
	}

	m.logger.Info("currency added", zap.String("currency", currency), zap.String("rate", rate.String()))
	return nil
}

// RemoveCurrency deletes a currency. USD and USDT cannot be removed.
func (m *Manager) RemoveCurrency(ctx context.Context, currency string) error {
	if err := validate.Currency(currency); err != nil {
		return err
	}
	currency = strings.ToUpper(currency)
	if pinned(currency) {
		return errs.Validation("currency", "cannot remove base currencies (USD, USDT)")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	previous, exists := m.rates[currency]
	if !exists {
		return errs.Validation("currency", fmt.Sprintf("currency %s not found", currency))
	}
	delete(m.rates, currency)
	m.lastUpdated = time.Now().UTC()
	if err := m.persistLocked(ctx); err != nil {
		m.rates[currency] = previous
		return err
	}

	m.logger.Info("currency removed", zap.String("currency", currency))
	return nil
}

// UpdateRate overwrites the rate of an existing currency. The pins are
// immutable.
func (m *Manager) UpdateRate(ctx context.Context, currency string, rate decimal.Decimal) error {
	if err := validate.Currency(currency); err != nil {
		return err
	}
	if !rate.IsPositive() {
		return errs.Validation("rate", "must be positive")
	}
	currency = strings.ToUpper(currency)
	if pinned(currency) {
		return errs.Validation("currency", "cannot update base currencies (USD, USDT)")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	previous, exists := m.rates[currency]
	if !exists {
		return errs.Validation("currency", fmt.Sprintf("currency %s not found", currency))
	}
	m.rates[currency] = rate
	m.lastUpdated = time.Now().UTC()
	if err := m.persistLocked(ctx); err != nil {
		m.rates[currency] = previous
		return err
	}

	m.logger.Info("currency rate updated",
		zap.String("currency", currency), zap.String("rate", rate.String()))
	return nil
}

// Refresh pulls the feed and overwrites every non-pinned currency the feed
// knows; currencies absent from the feed keep their previous rate. Only
// currencies already in the table are refreshed — the feed cannot grow the
// supported set. Transport failures count against a breaker that pauses
// pulls after repeated failures.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.feedURL == "" {
		return errs.External("exchange feed not configured", nil)
	}
	if !m.breaker.Allow() {
		return errs.External("exchange feed circuit open, pull skipped", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.feedURL, nil)
	if err != nil {
		return errs.External("malformed exchange feed URL", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.breaker.RecordFailure()
		return errs.External("exchange feed fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.breaker.RecordFailure()
		return errs.External("exchange feed fetch failed",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		m.breaker.RecordFailure()
		return errs.External("exchange feed read failed", err)
	}
	m.breaker.RecordSuccess()

	var feed struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(body, &feed); err != nil || feed.Rates == nil {
		return errs.External("invalid exchange feed response", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(Rates, len(m.rates))
	for currency, previous := range m.rates {
		if pinned(currency) {
			next[currency] = decimal.NewFromInt(1)
			continue
		}
		raw, ok := feed.Rates[currency]
		if !ok {
			m.logger.Warn("currency missing from exchange feed, keeping previous rate",
				zap.String("currency", currency))
			next[currency] = previous
			continue
		}
		rate, err := decimal.NewFromString(raw.String())
		if err != nil || !rate.IsPositive() {
			m.logger.Warn("invalid rate in exchange feed, keeping previous rate",
				zap.String("currency", currency), zap.String("rate", raw.String()))
			next[currency] = previous
			continue
		}
		next[currency] = rate
	}

	previous := m.rates
	m.rates = next
	m.lastUpdated = time.Now().UTC()
	if err := m.persistLocked(ctx); err != nil {
		m.rates = previous
		return err
	}

	m.logger.Info("exchange rates refreshed", zap.Int("currencies", len(next)))
	return nil
}

// persistLocked writes the snapshot to the store. Callers hold the write
// lock.
func (m *Manager) persistLocked(ctx context.Context) error {
	snapshot, err := json.Marshal(m.rates)
	if err != nil {
		return errs.External("failed to encode exchange snapshot", err)
	}
	supported, err := json.Marshal(m.rates.currencies())
	if err != nil {
		return errs.External("failed to encode supported currencies", err)
	}
	return m.store.SaveExchangeSnapshot(ctx, string(snapshot), string(supported), m.lastUpdated)
}

// Run refreshes the table every interval until ctx is cancelled. A failed
// refresh keeps the previous snapshot and retries after the shorter retry
// interval.
func (m *Manager) Run(ctx context.Context, interval, retry time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := m.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("scheduled exchange refresh failed, will retry", zap.Error(err))
			timer.Reset(retry)
			continue
		}
		timer.Reset(interval)
	}
}
