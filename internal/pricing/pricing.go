// Package pricing owns the (model, endpoint) → unit price table and the one
// authoritative cost formula used by both Reserve and Commit. Unit prices
// are expressed per 1,000,000 tokens. Lookups that miss fail; there is no
// fallback price.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/money"
	"github.com/amerfu/bllm/internal/validate"
	"github.com/amerfu/bllm/pkg/circuitbreaker"
)

// Feed breaker settings: after three straight transport failures the feed is
// left alone for five minutes.
const (
	feedFailureThreshold = 3
	feedOpenCooldown     = 5 * time.Minute
)

// Endpoint discriminates the two billable invocation shapes.
type Endpoint string

const (
	EndpointChat  Endpoint = "chat"
	EndpointEmbed Endpoint = "embed"
)

// ParseEndpoint validates and converts the wire representation.
func ParseEndpoint(s string) (Endpoint, error) {
	if err := validate.Endpoint(s); err != nil {
		return "", err
	}
	return Endpoint(s), nil
}

// ModelPrices holds a model's per-million-token unit prices. A nil price
// means the model does not serve that endpoint.
type ModelPrices struct {
	ChatInput  *decimal.Decimal `json:"chat_input,omitempty"`
	ChatOutput *decimal.Decimal `json:"chat_output,omitempty"`
	Embed      *decimal.Decimal `json:"embed,omitempty"`
}

// Table maps model id → unit prices.
type Table map[string]ModelPrices

// Quote is the unit-price set resolved for one (model, endpoint) lookup.
type Quote struct {
	Model      string
	Endpoint   Endpoint
	ChatInput  decimal.Decimal
	ChatOutput decimal.Decimal
	Embed      decimal.Decimal
}

// Info is the metadata triple describing the active table.
type Info struct {
	Source      string    `json:"source"`
	LastUpdated time.Time `json:"last_updated"`
	Table       Table     `json:"pricing"`
}

// SnapshotStore is the slice of the ledger store the manager persists
// through.
type SnapshotStore interface {
	LoadPricingSnapshot(ctx context.Context) (string, bool, error)
	SavePricingSnapshot(ctx context.Context, snapshot string) error
}

// Manager holds the hot-swappable pricing table. Updates build a fresh table
// and swap it under the write lock, so readers always observe one stable
// snapshot for the duration of an operation.
type Manager struct {
	mu          sync.RWMutex
	table       Table
	source      string
	lastUpdated time.Time

	store   SnapshotStore
	logger  *zap.Logger
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

func NewManager(store SnapshotStore, logger *zap.Logger, feedTimeout time.Duration) *Manager {
	return &Manager{
		table:       defaultTable(),
		source:      "default",
		lastUpdated: time.Now().UTC(),
		store:       store,
		logger:      logger,
		client:      &http.Client{Timeout: feedTimeout},
		breaker:     circuitbreaker.New(feedFailureThreshold, feedOpenCooldown),
	}
}

func dp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func defaultTable() Table {
	return Table{
		"gpt-4o":                 {ChatInput: dp("5.25"), ChatOutput: dp("15.75"), Embed: dp("0.11")},
		"gpt-4-turbo":            {ChatInput: dp("10.50"), ChatOutput: dp("31.50"), Embed: dp("0.14")},
		"claude-3-opus":          {ChatInput: dp("16.00"), ChatOutput: dp("78.00")},
		"llama3-70b":             {ChatInput: dp("0.22"), ChatOutput: dp("0.65")},
		"text-embedding-3-large": {Embed: dp("0.135")},
		"voyage-2":               {Embed: dp("0.105")},
		"cohere-embed-v3":        {Embed: dp("0.210")},
	}
}

// Load seeds the table from the persisted snapshot when one exists. A
// corrupt snapshot is logged and skipped so the service still comes up on
// the built-in defaults.
func (m *Manager) Load(ctx context.Context) error {
	snapshot, ok, err := m.store.LoadPricingSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Info("no persisted pricing, using built-in defaults")
		return nil
	}

	var table Table
	if err := json.Unmarshal([]byte(snapshot), &table); err != nil {
		m.logger.Warn("invalid persisted pricing snapshot, using built-in defaults", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	m.table = table
	m.source = "redis"
	m.lastUpdated = time.Now().UTC()
	m.mu.Unlock()

	m.logger.Info("pricing loaded from store", zap.Int("models", len(table)))
	return nil
}

// Lookup resolves the unit prices for one (model, endpoint) pair.
func (m *Manager) Lookup(model string, endpoint Endpoint) (Quote, error) {
	m.mu.RLock()
	prices, ok := m.table[model]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, errs.Pricing("unknown model or endpoint")
	}

	quote := Quote{Model: model, Endpoint: endpoint}
	switch endpoint {
	case EndpointChat:
		if prices.ChatInput == nil || prices.ChatOutput == nil {
			return Quote{}, errs.Pricing("unknown model or endpoint")
		}
		quote.ChatInput = *prices.ChatInput
		quote.ChatOutput = *prices.ChatOutput
	case EndpointEmbed:
		if prices.Embed == nil {
			return Quote{}, errs.Pricing("unknown model or endpoint")
		}
		quote.Embed = *prices.Embed
	default:
		return Quote{}, errs.Pricing("unknown model or endpoint")
	}
	return quote, nil
}

// Cost computes the quantized cost of a call. This is the only place the
// cost formula exists.
func (m *Manager) Cost(model string, endpoint Endpoint, inputTokens, outputTokens int64) (decimal.Decimal, error) {
	quote, err := m.Lookup(model, endpoint)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Cost(inputTokens, outputTokens), nil
}

// Cost computes the quote's endpoint cost: token counts times per-million
// unit prices, shifted down six decimal places exactly, then quantized
// half-up to the ledger granularity.
func (q Quote) Cost(inputTokens, outputTokens int64) decimal.Decimal {
	var raw decimal.Decimal
	switch q.Endpoint {
	case EndpointEmbed:
		raw = decimal.NewFromInt(inputTokens).Mul(q.Embed)
	default:
		raw = decimal.NewFromInt(inputTokens).Mul(q.ChatInput).
			Add(decimal.NewFromInt(outputTokens).Mul(q.ChatOutput))
	}
	return money.Quantize(raw.Shift(-6))
}

// Info returns the metadata triple with a copied table.
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{
		Source:      m.source,
		LastUpdated: m.lastUpdated,
		Table:       m.table.clone(),
	}
}

func (t Table) clone() Table {
	out := make(Table, len(t))
	for model, prices := range t {
		out[model] = prices
	}
	return out
}

func (t Table) validate() error {
	if len(t) == 0 {
		return errs.Pricing("empty pricing table")
	}
	for model, prices := range t {
		if err := validate.ModelID(model); err != nil {
			return errs.Pricing(fmt.Sprintf("invalid model id %q in pricing data", model))
		}
		for _, price := range []*decimal.Decimal{prices.ChatInput, prices.ChatOutput, prices.Embed} {
			if price != nil && !price.IsPositive() {
				return errs.Pricing(fmt.Sprintf("non-positive price for model %q", model))
			}
		}
		if prices.ChatInput == nil && prices.ChatOutput == nil && prices.Embed == nil {
			return errs.Pricing(fmt.Sprintf("model %q has no prices", model))
		}
		if (prices.ChatInput == nil) != (prices.ChatOutput == nil) {
			return errs.Pricing(fmt.Sprintf("model %q must price both chat directions", model))
		}
	}
	return nil
}

// Update validates and installs a new table. The snapshot is persisted
// before the swap so an applied update survives a crash.
func (m *Manager) Update(ctx context.Context, table Table, source string) error {
	if err := table.validate(); err != nil {
		return err
	}

	snapshot, err := json.Marshal(table)
	if err != nil {
		return errs.External("failed to encode pricing snapshot", err)
	}
	if err := m.store.SavePricingSnapshot(ctx, string(snapshot)); err != nil {
		return err
	}

	m.mu.Lock()
	m.table = table.clone()
	m.source = source
	m.lastUpdated = time.Now().UTC()
	m.mu.Unlock()

	m.logger.Info("pricing table updated",
		zap.String("source", source), zap.Int("models", len(table)))
	return nil
}

// UpdateFromFeed pulls a table from an external URL and installs it. The URL
// scheme and every model id must validate; a feed with any bad entry is
// rejected whole. Transport failures count against a breaker that pauses
// pulls after repeated failures.
func (m *Manager) UpdateFromFeed(ctx context.Context, sourceURL string) error {
	if !strings.HasPrefix(sourceURL, "http://") && !strings.HasPrefix(sourceURL, "https://") {
		return errs.Validation("source_url", "scheme must be http or https")
	}
	if !m.breaker.Allow() {
		return errs.External("pricing feed circuit open, pull skipped", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return errs.Validation("source_url", "malformed URL")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.breaker.RecordFailure()
		return errs.External("pricing feed fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.breaker.RecordFailure()
		return errs.External("pricing feed fetch failed",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		m.breaker.RecordFailure()
		return errs.External("pricing feed read failed", err)
	}
	m.breaker.RecordSuccess()

	var table Table
	if err := json.Unmarshal(body, &table); err != nil {
		return errs.Pricing("invalid pricing data from feed")
	}

	return m.Update(ctx, table, "external:"+sourceURL)
}
