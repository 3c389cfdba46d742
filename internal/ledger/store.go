// Package ledger is the sole persistence surface of the billing service: an
// adapter over a Redis-shaped key/value + streams substrate holding balances,
// reservations, usage counters, the transaction streams, and the pricing and
// exchange-rate snapshots. No other package talks to the substrate.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/money"
)

// Stream names. Append-only; the deposits stream is written by the payment
// collaborator and only read here.
const (
	StreamLog         = "billing:log"
	StreamAdjustments = "billing:adjustments"
	StreamDeposits    = "billing:deposits"
	StreamAlerts      = "billing:alerts"
)

const (
	pricingSnapshotKey     = "pricing:current"
	exchangeSnapshotKey    = "exchange_rates:current"
	exchangeLastUpdatedKey = "exchange_rates:last_updated"
	exchangeSupportedKey   = "exchange_rates:supported"
	balanceKeyPrefix       = "balance:"
	reservationKeyPrefix   = "reservation:"
)

func balanceKey(userID string) string { return balanceKeyPrefix + userID }

func reservationKey(id string) string { return reservationKeyPrefix + id }

func usageModelKey(userID, model string) string {
	return fmt.Sprintf("usage:%s:model:%s", userID, model)
}

func usageDailyKey(day string) string { return "usage:daily:" + day }

// Store is the Redis-backed ledger store.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

func New(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Client exposes the underlying connection for lifecycle management.
func (s *Store) Client() *redis.Client { return s.client }

// Ping reports substrate reachability, used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errs.External("substrate unreachable", err)
	}
	return nil
}

// GetBalance reads a user's balance; a missing key reads as zero.
func (s *Store) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	val, err := s.client.Get(ctx, balanceKey(userID)).Result()
	if err == redis.Nil {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, errs.External("failed to read balance", err)
	}
	scaled, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return decimal.Zero, errs.External("corrupt balance value", err)
	}
	return money.FromScaled(scaled), nil
}

// SetBalance overwrites a user's balance.
func (s *Store) SetBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	scaled := money.ToScaled(amount)
	if err := s.client.Set(ctx, balanceKey(userID), scaled, 0).Err(); err != nil {
		return errs.External("failed to write balance", err)
	}
	return nil
}

// CASDebit atomically debits amount from the user's balance, failing without
// a write when the balance does not cover it. Returns the new balance.
func (s *Store) CASDebit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := casDebitScript.Run(ctx, s.client,
		[]string{balanceKey(userID)},
		money.ToScaled(amount)).Int64Slice()
	if err != nil {
		s.logger.Error("debit script failed", zap.String("user_id", userID), zap.Error(err))
		return decimal.Zero, errs.External("debit script failed", err)
	}
	if res[0] == 0 {
		return money.FromScaled(res[1]), errs.InsufficientBalance("insufficient balance")
	}
	return money.FromScaled(res[1]), nil
}

// Credit atomically adds amount to the user's balance and returns the new
// balance. Deltas here are always positive; debits go through CASDebit.
func (s *Store) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	scaled, err := s.client.IncrBy(ctx, balanceKey(userID), money.ToScaled(amount)).Result()
	if err != nil {
		return decimal.Zero, errs.External("failed to credit balance", err)
	}
	return money.FromScaled(scaled), nil
}

// ChargeDebit carries the arguments of DebitForCharge.
type ChargeDebit struct {
	UserID string
	Model  string
	Cost   decimal.Decimal
	Tokens int64
	Day    string // YYYY-MM-DD usage bucket
}

// DebitForCharge debits the charge cost and increments both usage counters in
// one atomic step. Returns the new balance.
func (s *Store) DebitForCharge(ctx context.Context, c ChargeDebit) (decimal.Decimal, error) {
	res, err := chargeDebitScript.Run(ctx, s.client,
		[]string{balanceKey(c.UserID), usageModelKey(c.UserID, c.Model), usageDailyKey(c.Day)},
		money.ToScaled(c.Cost), c.Model, c.Tokens).Int64Slice()
	if err != nil {
		s.logger.Error("charge script failed", zap.String("user_id", c.UserID), zap.Error(err))
		return decimal.Zero, errs.External("charge script failed", err)
	}
	if res[0] == 0 {
		return money.FromScaled(res[1]), errs.InsufficientBalance("insufficient balance")
	}
	return money.FromScaled(res[1]), nil
}

// PutReservation creates the reservation hash with the given TTL, failing if
// the id already exists.
func (s *Store) PutReservation(ctx context.Context, r *Reservation, ttl time.Duration) error {
	argv := append([]interface{}{int64(ttl.Seconds())}, r.hashPairs()...)
	created, err := putReservationScript.Run(ctx, s.client,
		[]string{reservationKey(r.ID)}, argv...).Int64()
	if err != nil {
		return errs.External("reservation write failed", err)
	}
	if created == 0 {
		return errs.ReservationConflict(errs.ReasonReservationExists, "reservation already exists")
	}
	return nil
}

// GetReservation loads a reservation; missing (or expired) ids fail with a
// not-found error.
func (s *Store) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	h, err := s.client.HGetAll(ctx, reservationKey(id)).Result()
	if err != nil {
		return nil, errs.External("failed to read reservation", err)
	}
	if len(h) == 0 {
		return nil, errs.ReservationNotFound("reservation not found")
	}
	res, err := reservationFromHash(id, h)
	if err != nil {
		return nil, errs.External("corrupt reservation record", err)
	}
	return res, nil
}

// Finalize carries the arguments of FinalizeReservation.
type Finalize struct {
	ReservationID string
	UserID        string
	Model         string
	Endpoint      string
	Adjustment    decimal.Decimal // estimated − actual; negative debits further
	ActualCost    decimal.Decimal
	InputTokens   int64
	OutputTokens  int64
	Day           string
	CommittedTTL  time.Duration
}

// FinalizeReservation performs the reserved → committed transition: one
// atomic step covering the status CAS, the balance adjustment (refused if it
// would overdraw, leaving the reservation reserved), the stored actuals, the
// audit TTL, and the usage counters. Returns the new balance.
func (s *Store) FinalizeReservation(ctx context.Context, f Finalize) (decimal.Decimal, error) {
	res, err := finalizeReservationScript.Run(ctx, s.client,
		[]string{
			reservationKey(f.ReservationID),
			balanceKey(f.UserID),
			usageModelKey(f.UserID, f.Model),
			usageDailyKey(f.Day),
		},
		money.ToScaled(f.Adjustment),
		f.ActualCost.String(),
		f.InputTokens,
		f.OutputTokens,
		int64(f.CommittedTTL.Seconds()),
		f.Endpoint,
		f.Model,
		f.InputTokens+f.OutputTokens).Int64Slice()
	if err != nil {
		s.logger.Error("finalize script failed",
			zap.String("reservation_id", f.ReservationID), zap.Error(err))
		return decimal.Zero, errs.External("finalize script failed", err)
	}

	switch res[0] {
	case 1:
		return money.FromScaled(res[1]), nil
	case -1:
		return decimal.Zero, errs.ReservationNotFound("reservation not found")
	case -2:
		return decimal.Zero, errs.ReservationConflict(errs.ReasonAlreadyCommitted, "reservation already committed")
	case -3:
		return money.FromScaled(res[1]), errs.InsufficientBalance("commit would overdraw balance")
	default:
		return decimal.Zero, errs.External("finalize script failed", fmt.Errorf("unexpected code %d", res[0]))
	}
}

// AppendStream appends an entry to one of the billing streams.
func (s *Store) AppendStream(ctx context.Context, stream string, fields map[string]interface{}) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Err()
	if err != nil {
		return errs.External("stream append failed", err)
	}
	return nil
}

// RangeStream reads a whole stream oldest-first. Admin stats only.
func (s *Store) RangeStream(ctx context.Context, stream string) ([]map[string]string, error) {
	msgs, err := s.client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		return nil, errs.External("stream read failed", err)
	}
	return streamEntries(msgs), nil
}

// RevRangeStream reads the newest count entries of a stream, newest first.
func (s *Store) RevRangeStream(ctx context.Context, stream string, count int64) ([]map[string]string, error) {
	msgs, err := s.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, errs.External("stream read failed", err)
	}
	return streamEntries(msgs), nil
}

func streamEntries(msgs []redis.XMessage) []map[string]string {
	entries := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		entry := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if sv, ok := v.(string); ok {
				entry[k] = sv
			} else {
				entry[k] = fmt.Sprint(v)
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// CountKeys counts keys matching pattern via SCAN. Admin stats only.
func (s *Store) CountKeys(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var total int64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return 0, errs.External("key scan failed", err)
		}
		total += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// CountBalances counts users with a balance key.
func (s *Store) CountBalances(ctx context.Context) (int64, error) {
	return s.CountKeys(ctx, balanceKeyPrefix+"*")
}

// DailyUsage reads the per-model token counters for one day.
func (s *Store) DailyUsage(ctx context.Context, day string) (map[string]int64, error) {
	h, err := s.client.HGetAll(ctx, usageDailyKey(day)).Result()
	if err != nil {
		return nil, errs.External("failed to read daily usage", err)
	}
	usage := make(map[string]int64, len(h))
	for model, v := range h {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errs.External("corrupt usage counter", err)
		}
		usage[model] = n
	}
	return usage, nil
}

// ModelUsage reads one user's per-endpoint token counters for a model.
func (s *Store) ModelUsage(ctx context.Context, userID, model string) (map[string]int64, error) {
	h, err := s.client.HGetAll(ctx, usageModelKey(userID, model)).Result()
	if err != nil {
		return nil, errs.External("failed to read model usage", err)
	}
	usage := make(map[string]int64, len(h))
	for endpoint, v := range h {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errs.External("corrupt usage counter", err)
		}
		usage[endpoint] = n
	}
	return usage, nil
}

// LoadPricingSnapshot returns the persisted pricing table, if any.
func (s *Store) LoadPricingSnapshot(ctx context.Context) (string, bool, error) {
	val, err := s.client.Get(ctx, pricingSnapshotKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.External("failed to read pricing snapshot", err)
	}
	return val, true, nil
}

// SavePricingSnapshot persists the pricing table. Callers persist before
// swapping the in-memory table so a crash never loses an applied update.
func (s *Store) SavePricingSnapshot(ctx context.Context, snapshot string) error {
	if err := s.client.Set(ctx, pricingSnapshotKey, snapshot, 0).Err(); err != nil {
		return errs.External("failed to write pricing snapshot", err)
	}
	return nil
}

// LoadExchangeSnapshot returns the persisted rate table, if any.
func (s *Store) LoadExchangeSnapshot(ctx context.Context) (string, bool, error) {
	val, err := s.client.Get(ctx, exchangeSnapshotKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.External("failed to read exchange snapshot", err)
	}
	return val, true, nil
}

// SaveExchangeSnapshot persists the rate table, its update time, and the
// supported currency list.
func (s *Store) SaveExchangeSnapshot(ctx context.Context, snapshot, supported string, updatedAt time.Time) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, exchangeSnapshotKey, snapshot, 0)
	pipe.Set(ctx, exchangeLastUpdatedKey, strconv.FormatInt(updatedAt.Unix(), 10), 0)
	pipe.Set(ctx, exchangeSupportedKey, supported, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.External("failed to write exchange snapshot", err)
	}
	return nil
}
