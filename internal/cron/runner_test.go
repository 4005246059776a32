package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyadvisor/engine/internal/adapters/storage/memory"
	"github.com/polyadvisor/engine/internal/domain"
)

func testJob(name string, handler Handler) Job {
	return Job{Name: name, LockKey: 9999, Budget: time.Minute, Handler: handler}
}

func TestRun_Success(t *testing.T) {
	store := memory.New()
	runner := NewRunner(store, store)

	res := runner.Run(context.Background(), testJob("demo", func(jc *Context) (Outcome, error) {
		return Outcome{Status: domain.RunSuccess, Summary: map[string]any{"items": 3}}, nil
	}))

	assert.True(t, res.OK)
	assert.Equal(t, domain.RunSuccess, res.Status)
	assert.Len(t, res.RequestID, 8)
	assert.Equal(t, 3, res.Summary["items"])

	runs := store.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSuccess, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)

	// el último resumen queda persistido como checkpoint
	summary, err := store.GetState(context.Background(), domain.SummaryStateKey("demo"), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":3}`, summary)
}

func TestRun_LockHeldSkips(t *testing.T) {
	store := memory.New()
	runner := NewRunner(store, store)

	unlock, acquired, err := store.TryLock(context.Background(), 9999)
	require.NoError(t, err)
	require.True(t, acquired)
	defer unlock()

	invoked := false
	res := runner.Run(context.Background(), testJob("demo", func(jc *Context) (Outcome, error) {
		invoked = true
		return Outcome{Status: domain.RunSuccess}, nil
	}))

	// skipped es terminal y no es un error para el scheduler
	assert.True(t, res.OK)
	assert.Equal(t, domain.RunSkipped, res.Status)
	assert.False(t, invoked)

	runs := store.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSkipped, runs[0].Status)
}

func TestRun_HandlerError(t *testing.T) {
	store := memory.New()
	runner := NewRunner(store, store)

	res := runner.Run(context.Background(), testJob("demo", func(jc *Context) (Outcome, error) {
		return Outcome{}, assert.AnError
	}))

	assert.False(t, res.OK)
	assert.Equal(t, domain.RunError, res.Status)
	assert.NotEmpty(t, res.Error)

	runs := store.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunError, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestRun_PanicRecovered(t *testing.T) {
	store := memory.New()
	runner := NewRunner(store, store)

	res := runner.Run(context.Background(), testJob("demo", func(jc *Context) (Outcome, error) {
		panic("boom")
	}))

	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "boom")

	// el lock quedó liberado: una segunda invocación no se salta
	res = runner.Run(context.Background(), testJob("demo", func(jc *Context) (Outcome, error) {
		return Outcome{Status: domain.RunSuccess}, nil
	}))
	assert.True(t, res.OK)
	assert.Equal(t, domain.RunSuccess, res.Status)
}

func TestContext_BudgetExceeded(t *testing.T) {
	jc := &Context{Context: context.Background(), start: time.Now().Add(-2 * time.Second), budget: time.Second}
	assert.True(t, jc.BudgetExceeded())

	jc = &Context{Context: context.Background(), start: time.Now(), budget: time.Minute}
	assert.False(t, jc.BudgetExceeded())

	// presupuesto 0 = sin límite
	jc = &Context{Context: context.Background(), start: time.Now().Add(-time.Hour)}
	assert.False(t, jc.BudgetExceeded())
}
