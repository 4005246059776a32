package ports

import (
	"context"
	"errors"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
)

// ErrNotFound indica que la fila pedida no existe.
var ErrNotFound = errors.New("not found")

// Locker expone los advisory locks no bloqueantes del storage, uno por tipo
// de job. El unlock devuelto debe llamarse en todo camino de salida.
type Locker interface {
	// TryLock intenta adquirir el lock identificado por key sin bloquear.
	// Devuelve (unlock, true) si lo adquirió, (nil, false) si está tomado.
	TryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// MarketStore persiste mercados y sus precios cotizados.
type MarketStore interface {
	// UpsertMarkets reemplaza los campos mutables de cada mercado
	// (last-writer-wins), creando los que no existan.
	UpsertMarkets(ctx context.Context, markets []domain.Market) error

	// EnsureMarkets crea filas placeholder para los condition ids que no
	// existan, sin tocar los que sí. Mantiene integridad referencial
	// cuando un trade llega antes que la metadata.
	EnsureMarkets(ctx context.Context, conditionIDs []string) error

	// GetMarket devuelve un mercado o ErrNotFound.
	GetMarket(ctx context.Context, conditionID string) (domain.Market, error)

	// OpenMarkets devuelve mercados no cerrados, más recientes primero.
	OpenMarkets(ctx context.Context, limit int) ([]domain.Market, error)

	// ClosedWithoutResolution devuelve mercados cerrados sin fila de
	// resolución, los de cierre más reciente primero.
	ClosedWithoutResolution(ctx context.Context, limit int) ([]domain.Market, error)

	// SetTokenPrice actualiza el precio cotizado del token dado.
	SetTokenPrice(ctx context.Context, tokenID string, price float64) error
}

// ResolutionStore persiste los outcomes ganadores.
type ResolutionStore interface {
	// UpsertResolution inserta la resolución; re-upserts son idempotentes.
	UpsertResolution(ctx context.Context, r domain.Resolution) error
}

// TradeStore persiste trades inmutables con clave content-addressed.
type TradeStore interface {
	// InsertTrades inserta los trades que no existan y devuelve exactamente
	// el subconjunto insertado ahora. Los duplicados no son error.
	InsertTrades(ctx context.Context, trades []domain.Trade) (inserted []domain.Trade, err error)

	// ResolvedBuys devuelve todos los BUY trades sobre mercados resueltos
	// con ganador conocido, junto con el outcome ganador.
	ResolvedBuys(ctx context.Context) ([]domain.ResolvedBuy, error)

	// RecentByMarket devuelve los trades de un mercado posteriores a since.
	RecentByMarket(ctx context.Context, conditionID string, since time.Time) ([]domain.Trade, error)
}

// PositionStore acumula los balances netos derivados del ledger.
type PositionStore interface {
	// ApplyDelta acumula delta en (wallet, market, outcome) y sube
	// LastTradeAt si ts es posterior. Creación implícita en el primer delta.
	ApplyDelta(ctx context.Context, wallet, conditionID string, outcomeIdx int, delta float64, ts time.Time) error

	// ClampResiduals fija a cero exacto los balances bajo el epsilon.
	ClampResiduals(ctx context.Context) error

	// ByMarket devuelve las posiciones no nulas de un mercado.
	ByMarket(ctx context.Context, conditionID string) ([]domain.WalletPosition, error)

	// TokensToRefresh devuelve hasta limit token ids con shares netas
	// positivas entre las wallets dadas.
	TokensToRefresh(ctx context.Context, wallets []string, limit int) ([]string, error)
}

// StatsStore persiste las estadísticas y perfiles recomputados por ciclo.
type StatsStore interface {
	// ReplaceStats sustituye todas las filas de wallet_stats por las dadas.
	ReplaceStats(ctx context.Context, stats []domain.WalletStats) error

	// ReplaceProfiles sustituye todos los perfiles por los dados.
	ReplaceProfiles(ctx context.Context, profiles []domain.WalletProfile) error

	// FollowableWallets devuelve wallets con is_followable, mejor score primero.
	FollowableWallets(ctx context.Context, limit int) ([]string, error)

	// PositiveAlphaZWallets devuelve wallets con alphaZ > 0 al umbral dado
	// y muestra ≥ minN, mejor alphaZ primero.
	PositiveAlphaZWallets(ctx context.Context, threshold float64, minN, limit int) ([]string, error)

	// PositiveScoreWallets devuelve wallets con follow_score > 0.
	PositiveScoreWallets(ctx context.Context, limit int) ([]string, error)

	// ProfilesFor devuelve los perfiles de las wallets dadas, indexados
	// por wallet. Las wallets sin perfil simplemente no aparecen.
	ProfilesFor(ctx context.Context, wallets []string) (map[string]domain.WalletProfile, error)
}

// WatchlistStore gestiona la lista curada manualmente de wallets a seguir.
type WatchlistStore interface {
	AddToWatchlist(ctx context.Context, wallet string) error
	RemoveFromWatchlist(ctx context.Context, wallet string) error
	Watchlist(ctx context.Context) ([]string, error)
}

// CursorStore persiste los cursores de backfill por mercado.
type CursorStore interface {
	// CreateMissingCursors crea cursores a offset 0 para resoluciones sin
	// cursor, hasta limit. Devuelve cuántos creó. Operación local.
	CreateMissingCursors(ctx context.Context, limit int) (int, error)

	// DueCursors devuelve hasta limit cursores no terminados cuyo
	// next_retry_at no esté en el futuro, los más antiguos primero.
	DueCursors(ctx context.Context, now time.Time, limit int) ([]domain.BackfillCursor, error)

	// AdvanceCursor fija next_offset y resetea el estado de fallo.
	AdvanceCursor(ctx context.Context, conditionID string, nextOffset int) error

	// MarkCursorDone marca el cursor como completado sin tocar el offset.
	MarkCursorDone(ctx context.Context, conditionID string) error

	// FailCursor incrementa fail_count, fija next_retry_at y last_error.
	FailCursor(ctx context.Context, conditionID string, nextRetryAt time.Time, lastError string) error
}

// EtlStore persiste checkpoints genéricos, cursores por wallet y el audit
// log de ejecuciones.
type EtlStore interface {
	// GetState devuelve el valor de una clave, o def si no existe.
	GetState(ctx context.Context, key, def string) (string, error)

	// SetState guarda el valor de una clave (upsert).
	SetState(ctx context.Context, key, value string) error

	// WalletCursor devuelve el último timestamp visto de una wallet, o
	// zero si no hay cursor.
	WalletCursor(ctx context.Context, wallet string) (time.Time, error)

	// SetWalletCursor avanza el cursor de la wallet.
	SetWalletCursor(ctx context.Context, wallet string, ts time.Time) error

	// InsertRun añade una fila al audit log y devuelve su id.
	InsertRun(ctx context.Context, run domain.EtlRun) (int64, error)

	// FinishRun cierra una fila del audit log con su estado terminal.
	FinishRun(ctx context.Context, id int64, status domain.RunStatus, summary, errMsg string) error

	// PruneRuns borra filas del audit log anteriores a before.
	PruneRuns(ctx context.Context, before time.Time) error
}

// AdviceStore cachea el advice por mercado.
type AdviceStore interface {
	// UpsertAdvice guarda el advice del mercado (last-writer-wins).
	UpsertAdvice(ctx context.Context, a domain.Advice) error

	// GetAdvice devuelve el advice cacheado o ErrNotFound.
	GetAdvice(ctx context.Context, conditionID string) (domain.Advice, error)
}

// Storage agrupa todos los stores más el locker para el wiring del binario.
type Storage interface {
	Locker
	MarketStore
	ResolutionStore
	TradeStore
	PositionStore
	StatsStore
	WatchlistStore
	CursorStore
	EtlStore
	AdviceStore

	// Close libera las conexiones limpiamente.
	Close()
}
