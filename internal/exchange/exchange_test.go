package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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

func newTestManager(t *testing.T, feedURL string) (*Manager, *ledger.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ledger.New(client, zap.NewNop())
	return NewManager(store, zap.NewNop(), feedURL, time.Second), store
}

func TestDefaultRates(t *testing.T) {
	mgr, _ := newTestManager(t, "")

	rates := mgr.Snapshot()
	assert.Len(t, rates, 8)
	assert.True(t, rates["USD"].Equal(decimal.NewFromInt(1)))
	assert.True(t, rates["USDT"].Equal(decimal.NewFromInt(1)))
	assert.True(t, rates["EUR"].Equal(decimal.RequireFromString("0.92")))
	assert.True(t, rates["RUB"].Equal(decimal.RequireFromString("96.50")))

	info := mgr.Info()
	assert.Equal(t, []string{"CNY", "EUR", "GBP", "INR", "JPY", "RUB", "USD", "USDT"},
		info.SupportedCurrencies)
	assert.False(t, info.LastUpdated.IsZero())
}

func TestConvert(t *testing.T) {
	mgr, _ := newTestManager(t, "")

	got := mgr.Convert(decimal.RequireFromString("10.5"), "RUB")
	assert.True(t, got.Equal(decimal.RequireFromString("1013.25")), "got %s", got)

	// Unknown currencies convert to zero rather than failing the read.
	assert.True(t, mgr.Convert(decimal.NewFromInt(10), "XXX").IsZero())
}

func TestAddCurrency(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, "")

	require.NoError(t, mgr.AddCurrency(ctx, "chf", decimal.RequireFromString("0.88")))

	rate, ok := mgr.Rate("CHF")
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.88")))

	snapshot, ok, err := store.LoadExchangeSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, snapshot, `"CHF"`)

	err = mgr.AddCurrency(ctx, "CHF", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	assert.Error(t, mgr.AddCurrency(ctx, "EURO", decimal.NewFromInt(1)))
	assert.Error(t, mgr.AddCurrency(ctx, "E1R", decimal.NewFromInt(1)))
	assert.Error(t, mgr.AddCurrency(ctx, "CAD", decimal.Zero))
	assert.Error(t, mgr.AddCurrency(ctx, "CAD", decimal.NewFromInt(-2)))
}

func TestRemoveCurrency(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, "")

	require.NoError(t, mgr.RemoveCurrency(ctx, "EUR"))
	_, ok := mgr.Rate("EUR")
	assert.False(t, ok)

	err := mgr.RemoveCurrency(ctx, "EUR")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	assert.Error(t, mgr.RemoveCurrency(ctx, "USD"))
	assert.Error(t, mgr.RemoveCurrency(ctx, "USDT"))
}

func TestUpdateRate(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, "")

	require.NoError(t, mgr.UpdateRate(ctx, "eur", decimal.RequireFromString("0.95")))
	rate, ok := mgr.Rate("EUR")
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.95")))

	assert.Error(t, mgr.UpdateRate(ctx, "USD", decimal.NewFromInt(2)))
	assert.Error(t, mgr.UpdateRate(ctx, "USDT", decimal.NewFromInt(2)))
	assert.Error(t, mgr.UpdateRate(ctx, "XAU", decimal.NewFromInt(2)))
	assert.Error(t, mgr.UpdateRate(ctx, "EUR", decimal.Zero))
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rates":{"EUR":0.93,"RUB":101.2,"USD":55,"USDT":55,"CNY":7.31,"JPY":149.1,"INR":84.02}}`))
	}))
	defer srv.Close()

	mgr, store := newTestManager(t, srv.URL)
	require.NoError(t, mgr.Refresh(ctx))

	rates := mgr.Snapshot()
	assert.True(t, rates["EUR"].Equal(decimal.RequireFromString("0.93")))
	assert.True(t, rates["RUB"].Equal(decimal.RequireFromString("101.2")))
	// Base currencies stay pinned no matter what the feed claims.
	assert.True(t, rates["USD"].Equal(decimal.NewFromInt(1)))
	assert.True(t, rates["USDT"].Equal(decimal.NewFromInt(1)))
	// GBP is absent from the feed and keeps its previous rate.
	assert.True(t, rates["GBP"].Equal(decimal.RequireFromString("0.79")))

	snapshot, ok, err := store.LoadExchangeSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, snapshot, `"0.93"`)
}

func TestRefreshFeedErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("http error keeps previous table", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusInternalServerError)
		}))
		defer srv.Close()

		mgr, _ := newTestManager(t, srv.URL)
		err := mgr.Refresh(ctx)
		require.Error(t, err)
		assert.Equal(t, errs.CodeInternal, errs.CodeOf(err))
		assert.True(t, mgr.Snapshot()["EUR"].Equal(decimal.RequireFromString("0.92")))
	})

	t.Run("invalid body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"quotes":{}}`))
		}))
		defer srv.Close()

		mgr, _ := newTestManager(t, srv.URL)
		require.Error(t, mgr.Refresh(ctx))
	})

	t.Run("no feed configured", func(t *testing.T) {
		mgr, _ := newTestManager(t, "")
		require.Error(t, mgr.Refresh(ctx))
	})

	t.Run("invalid rate value keeps previous", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"rates":{"EUR":-3}}`))
		}))
		defer srv.Close()

		mgr, _ := newTestManager(t, srv.URL)
		require.NoError(t, mgr.Refresh(ctx))
		assert.True(t, mgr.Snapshot()["EUR"].Equal(decimal.RequireFromString("0.92")))
	})
}

func TestRefreshBreakerPausesFeedPulls(t *testing.T) {
	ctx := context.Background()

	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"rates":{"EUR":0.95}}`))
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL)
	for i := 0; i < feedFailureThreshold; i++ {
		require.Error(t, mgr.Refresh(ctx))
	}

	// The feed has recovered, but the circuit is open: the pull is skipped
	// and the table keeps its defaults.
	healthy.Store(true)
	err := mgr.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "circuit open")
	assert.True(t, mgr.Snapshot()["EUR"].Equal(decimal.RequireFromString("0.92")))
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, "")

	err := store.SaveExchangeSnapshot(ctx,
		`{"USD":"1","USDT":"1","EUR":"0.97"}`, `["EUR","USD","USDT"]`, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, mgr.Load(ctx))
	rates := mgr.Snapshot()
	assert.Len(t, rates, 3)
	assert.True(t, rates["EUR"].Equal(decimal.RequireFromString("0.97")))
	assert.True(t, rates["USD"].Equal(decimal.NewFromInt(1)))
}

func TestLoadCorruptSnapshotFallsBack(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, "")

	require.NoError(t, store.SaveExchangeSnapshot(ctx, "{broken", "[]", time.Now().UTC()))

	require.NoError(t, mgr.Load(ctx))
	assert.Len(t, mgr.Snapshot(), 8)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rates":{"EUR":0.91}}`))
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx, 5*time.Millisecond, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rate, _ := mgr.Rate("EUR")
		return rate.Equal(decimal.RequireFromString("0.91"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop after cancel")
	}
}
