// Package cron ejecuta jobs programados con exclusión mutua, audit log y
// presupuesto de tiempo. Pensado para ventanas de ejecución efímeras: cada
// invocación es cortable y el progreso vive en cursores persistidos, nunca
// en memoria.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// Registro fijo de claves de advisory lock, una por tipo de job. Documentado
// aquí para evitar colisiones si se añaden jobs.
const (
	LockSync           int64 = 7301
	LockCompute        int64 = 7302
	LockLiveSync       int64 = 7303
	LockComputeMarkets int64 = 7304
)

// Context envuelve el context del job y expone el reloj de presupuesto.
// Los handlers lo consultan entre unidades de trabajo; es cancelación
// cooperativa por checkpoint, no preempción.
type Context struct {
	context.Context
	start  time.Time
	budget time.Duration
}

// NewContext crea un Context cuyo presupuesto empieza a contar ahora.
// Un budget de 0 desactiva el límite.
func NewContext(ctx context.Context, budget time.Duration) *Context {
	return &Context{Context: ctx, start: time.Now(), budget: budget}
}

// Elapsed devuelve el tiempo de pared consumido por el job.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.start)
}

// BudgetExceeded devuelve true si se agotó el presupuesto del job.
func (c *Context) BudgetExceeded() bool {
	return c.budget > 0 && c.Elapsed() >= c.budget
}

// Outcome es lo que devuelve un handler al terminar (bien o parcial).
type Outcome struct {
	Status    domain.RunStatus // RunSuccess | RunPartial
	Summary   map[string]any
	StoppedAt string // etapa en la que cortó el presupuesto, si Partial
}

// Handler es el cuerpo de un job. Recibe el Context presupuestado y
// devuelve el resultado o un error que aborta la invocación entera.
type Handler func(jc *Context) (Outcome, error)

// Job es una unidad programable: nombre, lock propio, presupuesto y handler.
type Job struct {
	Name    string
	LockKey int64
	Budget  time.Duration
	Handler Handler
}

// Result es la respuesta estructurada de una invocación. Nunca se propaga
// un error del handler al caller: va dentro del Result.
type Result struct {
	OK         bool             `json:"ok"`
	RequestID  string           `json:"requestId"`
	DurationMs int64            `json:"durationMs"`
	Status     domain.RunStatus `json:"status"`
	Summary    map[string]any   `json:"summary,omitempty"`
	StoppedAt  string           `json:"stoppedAt,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Runner orquesta la ejecución de jobs contra el storage.
type Runner struct {
	locker ports.Locker
	etl    ports.EtlStore
}

// NewRunner crea un Runner con las dependencias inyectadas.
func NewRunner(locker ports.Locker, etl ports.EtlStore) *Runner {
	return &Runner{locker: locker, etl: etl}
}

// Run ejecuta el job con el contrato completo: try-lock no bloqueante
// (tomado → skipped, sin esperar ni encolar), fila de audit, presupuesto, y
// liberación del lock en todo camino de salida.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	requestID := uuid.New().String()[:8]
	start := time.Now().UTC()
	log := slog.With("job", job.Name, "request_id", requestID)

	res := Result{RequestID: requestID, Status: domain.RunError}
	finish := func() Result {
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	unlock, acquired, err := r.locker.TryLock(ctx, job.LockKey)
	if err != nil {
		log.Error("lock acquisition failed", "err", err)
		res.Error = fmt.Sprintf("acquire lock: %v", err)
		return finish()
	}
	if !acquired {
		// Otra invocación lo tiene: terminal para esta, no es un error.
		log.Info("lock held, skipping")
		r.audit(ctx, log, domain.EtlRun{
			Job: job.Name, Status: domain.RunSkipped, StartedAt: start, Summary: "{}",
		})
		res.OK = true
		res.Status = domain.RunSkipped
		return finish()
	}
	defer unlock()

	runID, err := r.etl.InsertRun(ctx, domain.EtlRun{
		Job: job.Name, Status: domain.RunRunning, StartedAt: start,
	})
	if err != nil {
		log.Error("insert audit row failed", "err", err)
		res.Error = fmt.Sprintf("insert run: %v", err)
		return finish()
	}

	outcome, err := r.invoke(&Context{Context: ctx, start: start, budget: job.Budget}, job)
	if err != nil {
		log.Error("job failed", "err", err, "elapsed", time.Since(start))
		r.finishRun(ctx, log, runID, domain.RunError, "", err.Error())
		res.Error = err.Error()
		return finish()
	}

	summary := marshalSummary(outcome.Summary)
	r.finishRun(ctx, log, runID, outcome.Status, summary, "")
	if err := r.etl.SetState(ctx, domain.SummaryStateKey(job.Name), summary); err != nil {
		log.Warn("persist summary checkpoint failed", "err", err)
	}

	log.Info("job finished",
		"status", outcome.Status,
		"stopped_at", outcome.StoppedAt,
		"elapsed", time.Since(start),
	)
	res.OK = true
	res.Status = outcome.Status
	res.Summary = outcome.Summary
	res.StoppedAt = outcome.StoppedAt
	return finish()
}

// invoke aísla el handler: un panic se convierte en error de job, nunca
// tumba el proceso ni deja el lock tomado.
func (r *Runner) invoke(jc *Context, job Job) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return job.Handler(jc)
}

func (r *Runner) audit(ctx context.Context, log *slog.Logger, run domain.EtlRun) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if _, err := r.etl.InsertRun(ctx, run); err != nil {
		log.Warn("audit insert failed", "err", err)
	}
}

func (r *Runner) finishRun(ctx context.Context, log *slog.Logger, id int64, status domain.RunStatus, summary, errMsg string) {
	if err := r.etl.FinishRun(ctx, id, status, summary, errMsg); err != nil {
		log.Warn("audit finish failed", "err", err)
	}
}

func marshalSummary(summary map[string]any) string {
	if len(summary) == 0 {
		return "{}"
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return "{}"
	}
	return string(b)
}
