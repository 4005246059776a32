// Package memory implementa ports.Storage en memoria. Se usa en tests y en
// el modo -dry-run; replica la semántica de upsert/locks del adapter de
// Postgres sin tocar red.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

type positionKey struct {
	wallet      string
	conditionID string
	outcomeIdx  int
}

// Store guarda todo en maps protegidos por un solo mutex. Suficiente para
// tests y dry-run; no pretende rendimiento.
type Store struct {
	mu sync.Mutex

	locks       map[int64]bool
	markets     map[string]domain.Market
	resolutions map[string]domain.Resolution
	trades      map[string]domain.Trade
	positions   map[positionKey]*domain.WalletPosition
	stats       map[string]map[float64]domain.WalletStats // wallet → threshold → stats
	profiles    map[string]domain.WalletProfile
	watchlist   map[string]bool
	cursors     map[string]*domain.BackfillCursor
	state       map[string]string
	walletTS    map[string]time.Time
	runs        []domain.EtlRun
	nextRunID   int64
	advice      map[string]domain.Advice
}

// New crea un Store vacío.
func New() *Store {
	return &Store{
		locks:       make(map[int64]bool),
		markets:     make(map[string]domain.Market),
		resolutions: make(map[string]domain.Resolution),
		trades:      make(map[string]domain.Trade),
		positions:   make(map[positionKey]*domain.WalletPosition),
		stats:       make(map[string]map[float64]domain.WalletStats),
		profiles:    make(map[string]domain.WalletProfile),
		watchlist:   make(map[string]bool),
		cursors:     make(map[string]*domain.BackfillCursor),
		state:       make(map[string]string),
		walletTS:    make(map[string]time.Time),
		advice:      make(map[string]domain.Advice),
		nextRunID:   1,
	}
}

var _ ports.Storage = (*Store)(nil)

// Close no tiene nada que liberar.
func (s *Store) Close() {}

// --- Locker ---

func (s *Store) TryLock(_ context.Context, key int64) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] {
		return nil, false, nil
	}
	s.locks[key] = true
	return func() {
		s.mu.Lock()
		delete(s.locks, key)
		s.mu.Unlock()
	}, true, nil
}

// --- MarketStore ---

func (s *Store) UpsertMarkets(_ context.Context, markets []domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		s.markets[m.ConditionID] = m
	}
	return nil
}

func (s *Store) EnsureMarkets(_ context.Context, conditionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range conditionIDs {
		if _, ok := s.markets[id]; !ok {
			s.markets[id] = domain.Placeholder(id, now)
		}
	}
	return nil
}

func (s *Store) GetMarket(_ context.Context, conditionID string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return domain.Market{}, ports.ErrNotFound
	}
	return m, nil
}

func (s *Store) OpenMarkets(_ context.Context, limit int) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if !m.Closed {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClosedWithoutResolution(_ context.Context, limit int) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if !m.Closed {
			continue
		}
		if _, ok := s.resolutions[m.ConditionID]; ok {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.After(out[j].EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetTokenPrice(_ context.Context, tokenID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.markets {
		for i, tid := range m.TokenIDs {
			if tid == tokenID {
				m.Prices[i] = price
				s.markets[id] = m
			}
		}
	}
	return nil
}

// --- ResolutionStore ---

func (s *Store) UpsertResolution(_ context.Context, r domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions[r.ConditionID] = r
	return nil
}

// --- TradeStore ---

func (s *Store) InsertTrades(_ context.Context, trades []domain.Trade) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []domain.Trade
	for _, t := range trades {
		if _, ok := s.trades[t.ID]; ok {
			continue
		}
		s.trades[t.ID] = t
		inserted = append(inserted, t)
	}
	return inserted, nil
}

func (s *Store) ResolvedBuys(_ context.Context) ([]domain.ResolvedBuy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResolvedBuy
	for _, t := range s.trades {
		if t.Side != domain.SideBuy {
			continue
		}
		r, ok := s.resolutions[t.ConditionID]
		if !ok || r.WinnerIdx == nil {
			continue
		}
		var end time.Time
		if m, ok := s.markets[t.ConditionID]; ok {
			end = m.EndDate
		}
		out = append(out, domain.ResolvedBuy{Trade: t, WinnerIdx: *r.WinnerIdx, EndDate: end})
	}
	return out, nil
}

func (s *Store) RecentByMarket(_ context.Context, conditionID string, since time.Time) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.ConditionID == conditionID && t.Timestamp.After(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- PositionStore ---

func (s *Store) ApplyDelta(_ context.Context, wallet, conditionID string, outcomeIdx int, delta float64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey{wallet, conditionID, outcomeIdx}
	p, ok := s.positions[key]
	if !ok {
		p = &domain.WalletPosition{Wallet: wallet, ConditionID: conditionID, OutcomeIdx: outcomeIdx}
		s.positions[key] = p
	}
	p.NetShares += delta
	if ts.After(p.LastTradeAt) {
		p.LastTradeAt = ts
	}
	return nil
}

func (s *Store) ClampResiduals(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		p.NetShares = domain.ClampResidual(p.NetShares)
	}
	return nil
}

func (s *Store) ByMarket(_ context.Context, conditionID string) ([]domain.WalletPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WalletPosition
	for _, p := range s.positions {
		if p.ConditionID == conditionID && p.NetShares != 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

func (s *Store) TokensToRefresh(_ context.Context, wallets []string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		want[w] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.positions {
		if !want[p.Wallet] || p.NetShares <= 0 {
			continue
		}
		m, ok := s.markets[p.ConditionID]
		if !ok {
			continue
		}
		tok := m.TokenIDs[p.OutcomeIdx%2]
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- StatsStore ---

func (s *Store) ReplaceStats(_ context.Context, stats []domain.WalletStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = make(map[string]map[float64]domain.WalletStats)
	for _, st := range stats {
		byThreshold, ok := s.stats[st.Wallet]
		if !ok {
			byThreshold = make(map[float64]domain.WalletStats)
			s.stats[st.Wallet] = byThreshold
		}
		byThreshold[st.Threshold] = st
	}
	return nil
}

func (s *Store) ReplaceProfiles(_ context.Context, profiles []domain.WalletProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]domain.WalletProfile)
	for _, p := range profiles {
		s.profiles[p.Wallet] = p
	}
	return nil
}

func (s *Store) FollowableWallets(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []domain.WalletProfile
	for _, p := range s.profiles {
		if p.IsFollowable {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].FollowScore > candidates[j].FollowScore })
	return walletNames(candidates, limit), nil
}

func (s *Store) PositiveAlphaZWallets(_ context.Context, threshold float64, minN, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []domain.WalletStats
	for _, byThreshold := range s.stats {
		st, ok := byThreshold[threshold]
		if !ok || st.AlphaZ <= 0 || st.N < minN {
			continue
		}
		candidates = append(candidates, st)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AlphaZ > candidates[j].AlphaZ })
	out := make([]string, 0, len(candidates))
	for _, st := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, st.Wallet)
	}
	return out, nil
}

func (s *Store) PositiveScoreWallets(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []domain.WalletProfile
	for _, p := range s.profiles {
		if p.FollowScore > 0 {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].FollowScore > candidates[j].FollowScore })
	return walletNames(candidates, limit), nil
}

func (s *Store) ProfilesFor(_ context.Context, wallets []string) (map[string]domain.WalletProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.WalletProfile, len(wallets))
	for _, w := range wallets {
		if p, ok := s.profiles[w]; ok {
			out[w] = p
		}
	}
	return out, nil
}

func walletNames(profiles []domain.WalletProfile, limit int) []string {
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, p.Wallet)
	}
	return out
}

// --- WatchlistStore ---

func (s *Store) AddToWatchlist(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchlist[wallet] = true
	return nil
}

func (s *Store) RemoveFromWatchlist(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchlist, wallet)
	return nil
}

func (s *Store) Watchlist(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.watchlist))
	for w := range s.watchlist {
		out = append(out, w)
	}
	sort.Strings(out)
	return out, nil
}

// --- CursorStore ---

func (s *Store) CreateMissingCursors(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for id := range s.resolutions {
		if limit > 0 && created >= limit {
			break
		}
		if _, ok := s.cursors[id]; ok {
			continue
		}
		s.cursors[id] = &domain.BackfillCursor{ConditionID: id, UpdatedAt: time.Now().UTC()}
		created++
	}
	return created, nil
}

func (s *Store) DueCursors(_ context.Context, now time.Time, limit int) ([]domain.BackfillCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BackfillCursor
	for _, c := range s.cursors {
		if c.Done {
			continue
		}
		if c.NextRetryAt != nil && c.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AdvanceCursor(_ context.Context, conditionID string, nextOffset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[conditionID]
	if !ok {
		return ports.ErrNotFound
	}
	c.NextOffset = nextOffset
	c.FailCount = 0
	c.NextRetryAt = nil
	c.LastError = ""
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkCursorDone(_ context.Context, conditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[conditionID]
	if !ok {
		return ports.ErrNotFound
	}
	c.Done = true
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) FailCursor(_ context.Context, conditionID string, nextRetryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[conditionID]
	if !ok {
		return ports.ErrNotFound
	}
	c.FailCount++
	c.NextRetryAt = &nextRetryAt
	c.LastError = lastError
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Cursor devuelve una copia del cursor de un mercado, para tests.
func (s *Store) Cursor(conditionID string) (domain.BackfillCursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[conditionID]
	if !ok {
		return domain.BackfillCursor{}, false
	}
	return *c, true
}

// --- EtlStore ---

func (s *Store) GetState(_ context.Context, key, def string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.state[key]; ok {
		return v, nil
	}
	return def, nil
}

func (s *Store) SetState(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	return nil
}

func (s *Store) WalletCursor(_ context.Context, wallet string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walletTS[wallet], nil
}

func (s *Store) SetWalletCursor(_ context.Context, wallet string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletTS[wallet] = ts
	return nil
}

func (s *Store) InsertRun(_ context.Context, run domain.EtlRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = s.nextRunID
	s.nextRunID++
	s.runs = append(s.runs, run)
	return run.ID, nil
}

func (s *Store) FinishRun(_ context.Context, id int64, status domain.RunStatus, summary, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == id {
			now := time.Now().UTC()
			s.runs[i].Status = status
			s.runs[i].FinishedAt = &now
			s.runs[i].Summary = summary
			s.runs[i].Error = errMsg
			return nil
		}
	}
	return ports.ErrNotFound
}

func (s *Store) PruneRuns(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.runs[:0]
	for _, r := range s.runs {
		if !r.StartedAt.Before(before) {
			kept = append(kept, r)
		}
	}
	s.runs = kept
	return nil
}

// Runs devuelve una copia del audit log, para tests.
func (s *Store) Runs() []domain.EtlRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EtlRun, len(s.runs))
	copy(out, s.runs)
	return out
}

// Positions devuelve una copia de las posiciones, para tests.
func (s *Store) Positions() []domain.WalletPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WalletPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// --- AdviceStore ---

func (s *Store) UpsertAdvice(_ context.Context, a domain.Advice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advice[a.ConditionID] = a
	return nil
}

func (s *Store) GetAdvice(_ context.Context, conditionID string) (domain.Advice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.advice[conditionID]
	if !ok {
		return domain.Advice{}, ports.ErrNotFound
	}
	return a, nil
}
