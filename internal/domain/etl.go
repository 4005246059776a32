package domain

import "time"

// BackfillCursor persiste el progreso de descarga del historial de trades de
// un mercado resuelto. Avanza monótonamente hasta que una página corta marca
// done=true. Los fallos acumulan cooldown lineal sin bloquear otros mercados.
type BackfillCursor struct {
	ConditionID string
	NextOffset  int
	Done        bool
	FailCount   int
	NextRetryAt *time.Time
	LastError   string
	UpdatedAt   time.Time
}

// RetryDelay devuelve el cooldown tras un fallo: 30min × (failCount+1).
func RetryDelay(failCount int) time.Duration {
	return time.Duration(failCount+1) * 30 * time.Minute
}

// Claves del checkpoint store genérico (etl_state).
const (
	StateMarketsOffset = "markets_offset"
	StateLastSyncAt    = "last_sync_at"
	StateLastComputeAt = "last_compute_at"
	StateLastLiveAt    = "last_live_sync_at"
)

// SummaryStateKey devuelve la clave bajo la que se guarda el último resumen
// JSON de un job.
func SummaryStateKey(job string) string {
	return "last_" + job + "_summary"
}

// RunStatus es el estado terminal de una ejecución de job.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunSkipped RunStatus = "skipped"
	RunError   RunStatus = "error"
)

// EtlRun es una fila del audit log append-only de ejecuciones. Solo
// observabilidad: la lógica nunca la consulta.
type EtlRun struct {
	ID         int64
	Job        string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Summary    string // JSON
	Error      string
}

// ItemStatus es el resultado de procesar un item (un mercado, una wallet,
// una página) dentro de un batch.
type ItemStatus string

const (
	ItemOK      ItemStatus = "ok"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult registra el resultado por item; los fallos llevan la razón.
type ItemResult struct {
	Key    string
	Status ItemStatus
	Reason string
}

// BatchSummary agrega los resultados por item de una pasada.
type BatchSummary struct {
	OK      int `json:"ok"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Add acumula un resultado en el resumen.
func (b *BatchSummary) Add(r ItemResult) {
	switch r.Status {
	case ItemOK:
		b.OK++
	case ItemSkipped:
		b.Skipped++
	case ItemFailed:
		b.Failed++
	}
}

// Total devuelve el número de items procesados.
func (b BatchSummary) Total() int {
	return b.OK + b.Skipped + b.Failed
}
