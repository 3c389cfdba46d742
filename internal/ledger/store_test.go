package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, zap.NewNop()), mr
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestBalances(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("missing balance reads as zero", func(t *testing.T) {
		balance, err := store.GetBalance(ctx, "nobody")
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})

	t.Run("set and get round trip", func(t *testing.T) {
		require.NoError(t, store.SetBalance(ctx, "u1x", dec(t, "10.00")))
		balance, err := store.GetBalance(ctx, "u1x")
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(t, "10")))
	})

	t.Run("credit increments atomically", func(t *testing.T) {
		newBalance, err := store.Credit(ctx, "u1x", dec(t, "2.5"))
		require.NoError(t, err)
		assert.True(t, newBalance.Equal(dec(t, "12.5")))
	})
}

func TestCASDebit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetBalance(ctx, "u1x", dec(t, "1.00")))

	t.Run("debit within balance", func(t *testing.T) {
		newBalance, err := store.CASDebit(ctx, "u1x", dec(t, "0.25"))
		require.NoError(t, err)
		assert.True(t, newBalance.Equal(dec(t, "0.75")))
	})

	t.Run("debit beyond balance fails without write", func(t *testing.T) {
		_, err := store.CASDebit(ctx, "u1x", dec(t, "0.76"))
		require.Error(t, err)
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.CodeFailedPrecondition, e.Code)
		assert.Equal(t, errs.ReasonInsufficientBalance, e.Reason)

		balance, err := store.GetBalance(ctx, "u1x")
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(t, "0.75")), "balance must be untouched")
	})

	t.Run("debit exactly to zero", func(t *testing.T) {
		newBalance, err := store.CASDebit(ctx, "u1x", dec(t, "0.75"))
		require.NoError(t, err)
		assert.True(t, newBalance.IsZero())
	})

	t.Run("missing balance is zero and cannot cover a debit", func(t *testing.T) {
		_, err := store.CASDebit(ctx, "ghost", dec(t, "0.00001"))
		require.Error(t, err)
	})
}

func TestDebitForCharge(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetBalance(ctx, "u1x", dec(t, "5.00")))

	newBalance, err := store.DebitForCharge(ctx, ChargeDebit{
		UserID: "u1x",
		Model:  "gpt-4o",
		Cost:   dec(t, "0.5"),
		Tokens: 1200,
		Day:    "2026-08-25",
	})
	require.NoError(t, err)
	assert.True(t, newBalance.Equal(dec(t, "4.5")))

	usage, err := store.ModelUsage(ctx, "u1x", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), usage["direct"])

	daily, err := store.DailyUsage(ctx, "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), daily["gpt-4o"])

	t.Run("insufficient balance leaves counters untouched", func(t *testing.T) {
		_, err := store.DebitForCharge(ctx, ChargeDebit{
			UserID: "u1x",
			Model:  "gpt-4o",
			Cost:   dec(t, "100"),
			Tokens: 50,
			Day:    "2026-08-25",
		})
		require.Error(t, err)

		usage, err := store.ModelUsage(ctx, "u1x", "gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, int64(1200), usage["direct"])
	})
}

func TestReservationLifecycle(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	res := &Reservation{
		ID:                   "res:u1x:req-1:1724500000",
		UserID:               "u1x",
		Model:                "gpt-4o",
		Endpoint:             "chat",
		InputTokensEstimate:  1000,
		OutputTokensEstimate: 500,
		EstimatedCost:        dec(t, "0.0125"),
		Status:               StatusReserved,
		CreatedAt:            time.Unix(1724500000, 0).UTC(),
	}

	t.Run("put and get round trip", func(t *testing.T) {
		require.NoError(t, store.PutReservation(ctx, res, 600*time.Second))

		got, err := store.GetReservation(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, res.UserID, got.UserID)
		assert.Equal(t, res.Model, got.Model)
		assert.Equal(t, res.Endpoint, got.Endpoint)
		assert.Equal(t, res.InputTokensEstimate, got.InputTokensEstimate)
		assert.Equal(t, res.OutputTokensEstimate, got.OutputTokensEstimate)
		assert.True(t, got.EstimatedCost.Equal(res.EstimatedCost))
		assert.Equal(t, StatusReserved, got.Status)
		assert.Equal(t, res.CreatedAt, got.CreatedAt)

		assert.Equal(t, 600*time.Second, mr.TTL("reservation:"+res.ID))
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		err := store.PutReservation(ctx, res, 600*time.Second)
		require.Error(t, err)
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.ReasonReservationExists, e.Reason)
	})

	t.Run("missing id is not found", func(t *testing.T) {
		_, err := store.GetReservation(ctx, "res:u1x:other:1")
		require.Error(t, err)
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.CodeNotFound, e.Code)
	})

	t.Run("ttl expiry drops the record", func(t *testing.T) {
		mr.FastForward(601 * time.Second)
		_, err := store.GetReservation(ctx, res.ID)
		require.Error(t, err)
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.CodeNotFound, e.Code)
	})
}

func TestFinalizeReservation(t *testing.T) {
	ctx := context.Background()

	put := func(t *testing.T, store *Store, estimated string) *Reservation {
		t.Helper()
		res := &Reservation{
			ID:                   "res:u1x:req-1:1724500000",
			UserID:               "u1x",
			Model:                "gpt-4o",
			Endpoint:             "chat",
			InputTokensEstimate:  1000,
			OutputTokensEstimate: 500,
			EstimatedCost:        dec(t, estimated),
			Status:               StatusReserved,
			CreatedAt:            time.Unix(1724500000, 0).UTC(),
		}
		require.NoError(t, store.PutReservation(ctx, res, 600*time.Second))
		return res
	}

	t.Run("refund path commits once", func(t *testing.T) {
		store, mr := newTestStore(t)
		require.NoError(t, store.SetBalance(ctx, "u1x", dec(t, "9.9875")))
		res := put(t, store, "0.0125")

		newBalance, err := store.FinalizeReservation(ctx, Finalize{
			ReservationID: res.ID,
			UserID:        "u1x",
			Model:         "gpt-4o",
			Endpoint:      "chat",
			Adjustment:    dec(t, "0.00055"), // estimated 0.0125 − actual 0.01195
			ActualCost:    dec(t, "0.01195"),
			InputTokens:   950,
			OutputTokens:  480,
			Day:           "2026-08-25",
			CommittedTTL:  86400 * time.Second,
		})
		require.NoError(t, err)
		assert.True(t, newBalance.Equal(dec(t, "9.98805")))

		got, err := store.GetReservation(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCommitted, got.Status)
		assert.True(t, got.ActualCost.Equal(dec(t, "0.01195")))
		assert.Equal(t, int64(950), got.InputTokensActual)
		assert.Equal(t, int64(480), got.OutputTokensActual)
		assert.Equal(t, 86400*time.Second, mr.TTL("reservation:"+res.ID))

		usage, err := store.ModelUsage(ctx, "u1x", "gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, int64(1430), usage["chat"])

		// Second finalize must lose the status CAS.
		_, err = store.FinalizeReservation(ctx, Finalize{
			ReservationID: res.ID,
			UserID:        "u1x",
			Model:         "gpt-4o",
			Endpoint:      "chat",
			Adjustment:    dec(t, "0.00055"),
			ActualCost:    dec(t, "0.01195"),
			InputTokens:   950,
			OutputTokens:  480,
			Day:           "2026-08-25",
			CommittedTTL:  86400 * time.Second,
		})
		require.Error(t, err)
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.ReasonAlreadyCommitted, e.Reason)

		balance, err := store.GetBalance(ctx, "u1x")
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(t, "9.98805")), "double commit must not move the balance")
	})

	t.Run("extra debit beyond balance is refused and stays reserved", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.SetBalance(ctx, "u1x", dec(t, "0.01")))
		res := put(t, store, "0.0125")

		_, err := store.FinalizeReservation(ctx, Finalize{
			ReservationID: res.ID,
			UserID:        "u1x",
			Model:         "gpt-4o",
			Endpoint:      "chat",
			Adjustment:    dec(t, "-0.02"), // actual exceeded estimate
			ActualCost:    dec(t, "0.0325"),
			InputTokens:   2000,
			OutputTokens:  1500,
			Day:           "2026-08-25",
			CommittedTTL:  86400 * time.Second,
		})
		require.Error(t, err)
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.ReasonInsufficientBalance, e.Reason)

		got, err := store.GetReservation(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusReserved, got.Status, "failed commit must leave the reservation reserved")

		balance, err := store.GetBalance(ctx, "u1x")
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(t, "0.01")))

		usage, err := store.ModelUsage(ctx, "u1x", "gpt-4o")
		require.NoError(t, err)
		assert.Empty(t, usage)
	})

	t.Run("missing reservation is not found", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.FinalizeReservation(ctx, Finalize{
			ReservationID: "res:u1x:req-9:1",
			UserID:        "u1x",
			Model:         "gpt-4o",
			Endpoint:      "chat",
			Adjustment:    decimal.Zero,
			ActualCost:    decimal.Zero,
			Day:           "2026-08-25",
			CommittedTTL:  86400 * time.Second,
		})
		require.Error(t, err)
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.CodeNotFound, e.Code)
	})
}

func TestStreams(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendStream(ctx, StreamLog, map[string]interface{}{
			"user_id":  "u1x",
			"cost_usd": "0.5",
			"seq":      i,
		}))
	}

	entries, err := store.RangeStream(ctx, StreamLog)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "0", entries[0]["seq"])
	assert.Equal(t, "u1x", entries[0]["user_id"])

	newest, err := store.RevRangeStream(ctx, StreamLog, 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "2", newest[0]["seq"])

	empty, err := store.RangeStream(ctx, "billing:nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCountBalances(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	n, err := store.CountBalances(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.SetBalance(ctx, "u1x", dec(t, "1")))
	require.NoError(t, store.SetBalance(ctx, "u2x", dec(t, "2")))

	n, err = store.CountBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSnapshots(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("pricing", func(t *testing.T) {
		_, ok, err := store.LoadPricingSnapshot(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.SavePricingSnapshot(ctx, `{"gpt-4o":{"chat_input":"5.25"}}`))
		snapshot, ok, err := store.LoadPricingSnapshot(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, snapshot, "gpt-4o")
	})

	t.Run("exchange", func(t *testing.T) {
		_, ok, err := store.LoadExchangeSnapshot(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		now := time.Unix(1724500000, 0)
		require.NoError(t, store.SaveExchangeSnapshot(ctx, `{"USD":"1"}`, `["USD"]`, now))
		snapshot, ok, err := store.LoadExchangeSnapshot(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, snapshot, "USD")
	})
}
