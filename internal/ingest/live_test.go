package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyadvisor/engine/internal/adapters/storage/memory"
	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ledger"
)

func smallLiveConfig() LiveConfig {
	return LiveConfig{MaxTarget: 10, MaxPerRun: 5, TradePageSize: 50, PriceBatch: 10}
}

func newTestLive(src *fakeSource, store *memory.Store) *Live {
	return NewLive(src, src, store, ledger.New(store), smallLiveConfig())
}

func walletTrade(wallet, cond, tx string, side domain.Side, ts time.Time) domain.Trade {
	return domain.Trade{
		TxHash: tx, Wallet: wallet, ConditionID: cond,
		Side: side, Price: 0.40, Size: 100,
		OutcomeIdx: 0, Timestamp: ts,
	}.WithID()
}

func TestRefresh_InsertsAndAdvancesCursor(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	src := newFakeSource()
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddToWatchlist(ctx, "0xw"))
	src.walletTrades["0xw"] = map[domain.Side][]domain.Trade{
		domain.SideBuy:  {walletTrade("0xw", "0xm", "0xt1", domain.SideBuy, ts)},
		domain.SideSell: {walletTrade("0xw", "0xm", "0xt2", domain.SideSell, ts.Add(time.Hour))},
	}

	live := newTestLive(src, store)
	out, err := live.Refresh(jobCtx())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, out.Status)
	assert.Equal(t, 1, out.Summary["wallets"])
	assert.Equal(t, 2, out.Summary["tradesInserted"])

	// el cursor avanza al timestamp más reciente observado
	cursor, err := store.WalletCursor(ctx, "0xw")
	require.NoError(t, err)
	assert.Equal(t, ts.Add(time.Hour), cursor)

	// compra 100 − venta 100 → posición neta 0 tras clamp
	positions := store.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 0.0, positions[0].NetShares)

	// el mercado existe como placeholder aunque el sync no lo haya visto
	_, err = store.GetMarket(ctx, "0xm")
	assert.NoError(t, err)
}

func TestRefresh_CursorFiltersOldTrades(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	src := newFakeSource()
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddToWatchlist(ctx, "0xw"))
	require.NoError(t, store.SetWalletCursor(ctx, "0xw", ts))
	src.walletTrades["0xw"] = map[domain.Side][]domain.Trade{
		domain.SideBuy: {
			walletTrade("0xw", "0xm", "0xold", domain.SideBuy, ts.Add(-time.Hour)),
			walletTrade("0xw", "0xm", "0xedge", domain.SideBuy, ts),
			walletTrade("0xw", "0xm", "0xnew", domain.SideBuy, ts.Add(time.Hour)),
		},
	}

	live := newTestLive(src, store)
	out, err := live.Refresh(jobCtx())
	require.NoError(t, err)

	// solo el trade estrictamente posterior al cursor entra
	assert.Equal(t, 1, out.Summary["tradesInserted"])
	cursor, _ := store.WalletCursor(ctx, "0xw")
	assert.Equal(t, ts.Add(time.Hour), cursor)
}

func TestRefresh_DuplicateReportsCollapse(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	src := newFakeSource()
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddToWatchlist(ctx, "0xw"))
	dup := walletTrade("0xw", "0xm", "0xt1", domain.SideBuy, ts)
	src.walletTrades["0xw"] = map[domain.Side][]domain.Trade{
		domain.SideBuy: {dup, dup},
	}

	live := newTestLive(src, store)
	out, err := live.Refresh(jobCtx())
	require.NoError(t, err)

	assert.Equal(t, 1, out.Summary["tradesInserted"])
	positions := store.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 100.0, positions[0].NetShares, 1e-9)
}

func TestRefresh_RerunDoesNotDoubleCount(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	src := newFakeSource()
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddToWatchlist(ctx, "0xw"))
	src.walletTrades["0xw"] = map[domain.Side][]domain.Trade{
		domain.SideBuy: {walletTrade("0xw", "0xm", "0xt1", domain.SideBuy, ts)},
	}

	live := newTestLive(src, store)
	_, err := live.Refresh(jobCtx())
	require.NoError(t, err)

	// segundo ciclo: el cursor filtra todo; incluso si el upstream lo
	// reenviara, el insert content-addressed devolvería subset vacío
	out, err := live.Refresh(jobCtx())
	require.NoError(t, err)
	assert.Equal(t, 0, out.Summary["tradesInserted"])

	positions := store.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 100.0, positions[0].NetShares, 1e-9)
}

func TestRefresh_FetchFailureIsPerWallet(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	src := newFakeSource()
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddToWatchlist(ctx, "0xbad"))
	require.NoError(t, store.AddToWatchlist(ctx, "0xgood"))
	src.walletErr["0xbad"] = errors.New("timeout")
	src.walletTrades["0xgood"] = map[domain.Side][]domain.Trade{
		domain.SideBuy: {walletTrade("0xgood", "0xm", "0xt1", domain.SideBuy, ts)},
	}

	live := newTestLive(src, store)
	out, err := live.Refresh(jobCtx())
	require.NoError(t, err)

	assert.Equal(t, 1, out.Summary["wallets"])
	assert.Equal(t, 1, out.Summary["walletsFailed"])
	assert.Equal(t, 1, out.Summary["tradesInserted"])

	// la wallet fallida no avanza el cursor
	cursor, _ := store.WalletCursor(ctx, "0xbad")
	assert.True(t, cursor.IsZero())
}

func TestRefresh_UpdatesPositionTokenPrices(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	src := newFakeSource()
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertMarkets(ctx, []domain.Market{{
		ConditionID: "0xm", Question: "q",
		TokenIDs: [2]string{"tok-yes", "tok-no"},
	}}))
	require.NoError(t, store.AddToWatchlist(ctx, "0xw"))
	src.walletTrades["0xw"] = map[domain.Side][]domain.Trade{
		domain.SideBuy: {walletTrade("0xw", "0xm", "0xt1", domain.SideBuy, ts)},
	}
	src.prices["tok-yes"] = 0.42

	live := newTestLive(src, store)
	out, err := live.Refresh(jobCtx())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Summary["pricesUpdated"])

	m, err := store.GetMarket(ctx, "0xm")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, m.Prices[0], 1e-9)
}

func TestSelectWallets_PriorityFirstOccurrenceWins(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.ReplaceProfiles(ctx, []domain.WalletProfile{
		{Wallet: "0xtop", FollowScore: 90, IsFollowable: true},
		{Wallet: "0xscore", FollowScore: 20}, // score > 0 pero no followable
	}))
	require.NoError(t, store.ReplaceStats(ctx, []domain.WalletStats{
		{Wallet: "0xtight", Threshold: 0.01, N: 5, AlphaZ: 2.5},
	}))
	// 0xtop también en watchlist: no debe bajar de rango ni duplicarse
	require.NoError(t, store.AddToWatchlist(ctx, "0xtop"))
	require.NoError(t, store.AddToWatchlist(ctx, "0xcurated"))

	live := newTestLive(newFakeSource(), store)
	wallets, err := live.selectWallets(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"0xtop", "0xtight", "0xscore", "0xcurated"}, wallets)
}

func TestSelectWallets_CappedAtMaxTarget(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	profiles := make([]domain.WalletProfile, 0, 20)
	for i := 0; i < 20; i++ {
		profiles = append(profiles, domain.WalletProfile{
			Wallet: string(rune('a' + i)), FollowScore: float64(100 - i), IsFollowable: true,
		})
	}
	require.NoError(t, store.ReplaceProfiles(ctx, profiles))

	live := newTestLive(newFakeSource(), store)
	wallets, err := live.selectWallets(ctx)
	require.NoError(t, err)
	assert.Len(t, wallets, smallLiveConfig().MaxTarget)
}
