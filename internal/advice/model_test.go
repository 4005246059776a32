package advice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyadvisor/engine/internal/adapters/storage/memory"
	"github.com/polyadvisor/engine/internal/domain"
)

func newTestModel(store *memory.Store, now time.Time) *Model {
	m := New(store, store, store, store, store, DefaultConfig())
	m.now = func() time.Time { return now }
	return m
}

func seedMarket(t *testing.T, store *memory.Store, yesPrice float64) domain.Market {
	t.Helper()
	market := domain.Market{
		ConditionID: "0xmarket",
		Question:    "will it happen?",
		TokenIDs:    [2]string{"tok-yes", "tok-no"},
		Prices:      [2]float64{yesPrice, 1 - yesPrice},
	}
	require.NoError(t, store.UpsertMarkets(context.Background(), []domain.Market{market}))
	return market
}

func TestCompute_NoSignalMatchesMarket(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.30)
	model := newTestModel(store, now)

	a, err := model.Compute(context.Background(), "0xmarket")
	require.NoError(t, err)

	// sin posiciones ni flujo las presiones son 0 y el blend en log-odds
	// devuelve exactamente el precio del mercado
	assert.InDelta(t, 0.30, a.ModelProb, 1e-9)
	assert.Equal(t, DefaultConfig().DefaultConfidence, a.Confidence)
	assert.Nil(t, a.Trend)

	// rango: delta = max(0.02, 0.9×0.15) = 0.135
	assert.InDelta(t, 0.165, a.RangeLow, 1e-9)
	assert.InDelta(t, 0.435, a.RangeHigh, 1e-9)

	require.NotEmpty(t, a.Drivers)
	assert.Equal(t, "baseline price", a.Drivers[0].Name)
	assert.Equal(t, "neutral", a.Drivers[0].Effect)
}

func TestCompute_YesPositionsRaiseModel(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.30)

	// dos wallets largas en YES, sin nada en NO, con perfiles sólidos
	require.NoError(t, store.ApplyDelta(ctx, "0xw1", "0xmarket", 0, 5000, now))
	require.NoError(t, store.ApplyDelta(ctx, "0xw2", "0xmarket", 0, 3000, now))
	require.NoError(t, store.ReplaceProfiles(ctx, []domain.WalletProfile{
		{Wallet: "0xw1", AlphaZ: 3, FollowScore: 80},
		{Wallet: "0xw2", AlphaZ: 2, FollowScore: 60},
	}))

	model := newTestModel(store, now)
	a, err := model.Compute(ctx, "0xmarket")
	require.NoError(t, err)

	assert.Greater(t, a.ModelProb, 0.30)
	assert.Less(t, a.ModelProb, 1.0)
	assert.Greater(t, a.Confidence, DefaultConfig().DefaultConfidence)
}

func TestCompute_SellFlowLowersModel(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.60)

	// ventas recientes de YES: presión de flujo negativa
	_, err := store.InsertTrades(ctx, []domain.Trade{domain.Trade{
		TxHash: "0xtx1", Wallet: "0xw1", ConditionID: "0xmarket",
		Side: domain.SideSell, Price: 0.60, Size: 500,
		OutcomeIdx: 0, Timestamp: now.Add(-time.Hour),
	}.WithID()})
	require.NoError(t, err)

	model := newTestModel(store, now)
	a, err := model.Compute(ctx, "0xmarket")
	require.NoError(t, err)

	assert.Less(t, a.ModelProb, 0.60)
}

func TestCompute_HedgedWalletsFloorConfidence(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.50)

	// la única wallet con posición sostiene ambos outcomes → agreement 0 →
	// la confianza cae al floor
	require.NoError(t, store.ApplyDelta(ctx, "0xhedger", "0xmarket", 0, 8000, now))
	require.NoError(t, store.ApplyDelta(ctx, "0xhedger", "0xmarket", 1, 8000, now))

	model := newTestModel(store, now)
	a, err := model.Compute(ctx, "0xmarket")
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().ConfidenceFloor, a.Confidence)
}

func TestCompute_RangeClippedToUnit(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.97)

	model := newTestModel(store, now)
	a, err := model.Compute(context.Background(), "0xmarket")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, a.RangeLow, 0.0)
	assert.LessOrEqual(t, a.RangeHigh, 1.0)
}

func TestCompute_TrendAgainstPrevious(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.30)
	model := newTestModel(store, now)

	first, err := model.Compute(ctx, "0xmarket")
	require.NoError(t, err)
	require.Nil(t, first.Trend)

	// nueva señal alcista entre ciclos
	require.NoError(t, store.ApplyDelta(ctx, "0xw1", "0xmarket", 0, 5000, now))
	second, err := model.Compute(ctx, "0xmarket")
	require.NoError(t, err)

	require.NotNil(t, second.Trend)
	assert.InDelta(t, second.ModelProb-first.ModelProb, *second.Trend, 1e-9)
	assert.Greater(t, *second.Trend, 0.0)
}

func TestCompute_TopWalletsRankedAndSided(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.50)

	require.NoError(t, store.ApplyDelta(ctx, "0xbig", "0xmarket", 0, 9000, now))
	require.NoError(t, store.ApplyDelta(ctx, "0xsmall", "0xmarket", 1, 100, now))

	model := newTestModel(store, now)
	a, err := model.Compute(ctx, "0xmarket")
	require.NoError(t, err)

	require.Len(t, a.TopWallets, 2)
	assert.Equal(t, "0xbig", a.TopWallets[0].Wallet)
	assert.Equal(t, "YES", a.TopWallets[0].Side)
	assert.Equal(t, "NO", a.TopWallets[1].Side)
}

func TestCompute_UnknownMarket(t *testing.T) {
	store := memory.New()
	model := newTestModel(store, time.Now().UTC())
	_, err := model.Compute(context.Background(), "0xmissing")
	assert.Error(t, err)
}

func TestCached_TTL(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMarket(t, store, 0.30)
	model := newTestModel(store, now)

	first, err := model.Compute(ctx, "0xmarket")
	require.NoError(t, err)

	// dentro del TTL devuelve el cacheado sin recomputar
	model.now = func() time.Time { return now.Add(30 * time.Second) }
	cached, err := model.Cached(ctx, "0xmarket")
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAt, cached.ComputedAt)

	// pasado el TTL recomputa
	model.now = func() time.Time { return now.Add(2 * time.Minute) }
	refreshed, err := model.Cached(ctx, "0xmarket")
	require.NoError(t, err)
	assert.True(t, refreshed.ComputedAt.After(first.ComputedAt))
}
