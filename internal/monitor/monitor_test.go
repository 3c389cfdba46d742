package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/ledger"
)

func newTestMonitor(t *testing.T) (*Monitor, *ledger.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ledger.New(client, zap.NewNop())
	return New(store, zap.NewNop(), DefaultThresholds(), time.Hour), store
}

func alertCount(t *testing.T, store *ledger.Store) int {
	t.Helper()
	entries, err := store.RevRangeStream(context.Background(), ledger.StreamAlerts, maxAlerts)
	require.NoError(t, err)
	return len(entries)
}

func TestRecordCounters(t *testing.T) {
	mon, _ := newTestMonitor(t)

	mon.Record(OpCharge, decimal.RequireFromString("0.5"), nil)
	mon.Record(OpReserve, decimal.RequireFromString("0.0125"), nil)
	mon.Record(OpCommit, decimal.RequireFromString("0.01195"), nil)
	mon.Record(OpRead, decimal.Zero, nil)
	mon.Record(OpCharge, decimal.NewFromInt(1), errors.New("boom"))

	snap := mon.Metrics()
	assert.Equal(t, int64(5), snap.TotalRequests)
	assert.Equal(t, int64(4), snap.SuccessfulRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.TotalReservations)
	assert.Equal(t, int64(1), snap.TotalCommits)
	// Failed charges and reserve estimates never count as revenue.
	assert.True(t, snap.TotalCharges.Equal(decimal.RequireFromString("0.51195")),
		"got %s", snap.TotalCharges)
	assert.True(t, snap.LastAlert.IsZero())
}

func TestErrorRateAlert(t *testing.T) {
	mon, store := newTestMonitor(t)

	// Nine failures stay under the sample floor.
	for i := 0; i < 9; i++ {
		mon.Record(OpCharge, decimal.Zero, errors.New("boom"))
	}
	assert.True(t, mon.Metrics().LastAlert.IsZero())

	mon.Record(OpCharge, decimal.Zero, errors.New("boom"))

	require.Eventually(t, func() bool { return alertCount(t, store) == 1 },
		2*time.Second, 10*time.Millisecond)

	alerts, err := mon.Alerts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "High error rate")
	assert.Contains(t, alerts[0].Metrics, `"failed_requests":10`)
	assert.NotZero(t, alerts[0].Timestamp)
	assert.False(t, mon.Metrics().LastAlert.IsZero())
}

func TestAlertCooldown(t *testing.T) {
	mon, store := newTestMonitor(t)

	current := time.Unix(1_700_000_000, 0)
	mon.now = func() time.Time { return current }

	mon.CheckBalance("user-1", decimal.NewFromInt(5))
	require.Eventually(t, func() bool { return alertCount(t, store) == 1 },
		2*time.Second, 10*time.Millisecond)

	// Inside the cooldown window nothing fires, even for a different trigger.
	current = current.Add(30 * time.Minute)
	mon.CheckBalance("user-2", decimal.NewFromInt(1))
	mon.CheckUsage("user-2", 5_000_000)
	assert.Never(t, func() bool { return alertCount(t, store) > 1 },
		300*time.Millisecond, 50*time.Millisecond)

	// Past the cooldown the next trigger fires again.
	current = current.Add(time.Hour)
	mon.CheckBalance("user-3", decimal.NewFromInt(2))
	require.Eventually(t, func() bool { return alertCount(t, store) == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestCheckBalance(t *testing.T) {
	mon, store := newTestMonitor(t)

	// At the threshold is fine; only strictly below alerts.
	mon.CheckBalance("user-1", decimal.RequireFromString("10.00"))
	assert.Never(t, func() bool { return alertCount(t, store) > 0 },
		300*time.Millisecond, 50*time.Millisecond)

	mon.CheckBalance("user-1", decimal.RequireFromString("9.99"))
	require.Eventually(t, func() bool { return alertCount(t, store) == 1 },
		2*time.Second, 10*time.Millisecond)

	alerts, err := mon.Alerts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Low balance for user user-1: $9.99", alerts[0].Message)
}

func TestCheckUsage(t *testing.T) {
	mon, store := newTestMonitor(t)

	mon.CheckUsage("user-1", 1_000_000)
	assert.Never(t, func() bool { return alertCount(t, store) > 0 },
		300*time.Millisecond, 50*time.Millisecond)

	mon.CheckUsage("user-1", 1_000_001)
	require.Eventually(t, func() bool { return alertCount(t, store) == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestCheckReservationTTL(t *testing.T) {
	mon, store := newTestMonitor(t)

	mon.CheckReservationTTL(600 * time.Second)
	assert.Never(t, func() bool { return alertCount(t, store) > 0 },
		300*time.Millisecond, 50*time.Millisecond)

	mon.CheckReservationTTL(60 * time.Second)
	require.Eventually(t, func() bool { return alertCount(t, store) == 1 },
		2*time.Second, 10*time.Millisecond)

	alerts, err := mon.Alerts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Reservation TTL too low: 60s < 300s", alerts[0].Message)
}

func TestUpdateThresholds(t *testing.T) {
	mon, _ := newTestMonitor(t)

	rate := 0.25
	got, err := mon.UpdateThresholds(ThresholdUpdate{ErrorRate: &rate})
	require.NoError(t, err)
	assert.Equal(t, 0.25, got.ErrorRate)
	// Untouched fields keep their values.
	assert.True(t, got.LowBalance.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, int64(1_000_000), got.HighUsage)
	assert.Equal(t, 300*time.Second, got.ReservationTTL)

	low := decimal.RequireFromString("2.50")
	usage := int64(500)
	ttl := 120 * time.Second
	got, err = mon.UpdateThresholds(ThresholdUpdate{
		LowBalance: &low, HighUsage: &usage, ReservationTTL: &ttl,
	})
	require.NoError(t, err)
	assert.True(t, got.LowBalance.Equal(low))
	assert.Equal(t, int64(500), got.HighUsage)
	assert.Equal(t, 120*time.Second, got.ReservationTTL)
	assert.Equal(t, got, mon.Metrics().Thresholds)

	bad := -0.1
	_, err = mon.UpdateThresholds(ThresholdUpdate{ErrorRate: &bad})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	negative := decimal.NewFromInt(-1)
	_, err = mon.UpdateThresholds(ThresholdUpdate{LowBalance: &negative})
	require.Error(t, err)

	zeroUsage := int64(0)
	_, err = mon.UpdateThresholds(ThresholdUpdate{HighUsage: &zeroUsage})
	require.Error(t, err)

	zeroTTL := time.Duration(0)
	_, err = mon.UpdateThresholds(ThresholdUpdate{ReservationTTL: &zeroTTL})
	require.Error(t, err)
}

func TestAlertsNewestFirst(t *testing.T) {
	ctx := context.Background()
	mon, store := newTestMonitor(t)

	for i := 1; i <= 3; i++ {
		err := store.AppendStream(ctx, ledger.StreamAlerts, map[string]interface{}{
			"message":   "alert",
			"timestamp": int64(1000 + i),
			"metrics":   "{}",
		})
		require.NoError(t, err)
	}

	alerts, err := mon.Alerts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, int64(1003), alerts[0].Timestamp)
	assert.Equal(t, int64(1002), alerts[1].Timestamp)

	alerts, err = mon.Alerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 3)
}
