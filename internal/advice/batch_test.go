package advice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyadvisor/engine/internal/adapters/storage/memory"
	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/domain"
)

func TestBatch_ComputesOpenMarkets(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertMarkets(ctx, []domain.Market{
		{ConditionID: "0xopen1", Question: "a?", Prices: [2]float64{0.2, 0.8}},
		{ConditionID: "0xopen2", Question: "b?", Prices: [2]float64{0.7, 0.3}},
		{ConditionID: "0xclosed", Question: "c?", Closed: true},
	}))

	model := newTestModel(store, now)
	out, err := model.Batch(cron.NewContext(ctx, time.Minute), 100)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, out.Status)
	assert.Equal(t, 2, out.Summary["ok"])
	assert.Equal(t, 0, out.Summary["failed"])

	// el advice de cada abierto queda cacheado; el cerrado no se toca
	_, err = store.GetAdvice(ctx, "0xopen1")
	assert.NoError(t, err)
	_, err = store.GetAdvice(ctx, "0xclosed")
	assert.Error(t, err)
}

func TestBatch_BudgetCutsPartial(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertMarkets(ctx, []domain.Market{
		{ConditionID: "0xopen", Question: "a?"},
	}))

	model := newTestModel(store, time.Now().UTC())
	jc := cron.NewContext(ctx, time.Nanosecond)
	time.Sleep(time.Millisecond)

	out, err := model.Batch(jc, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPartial, out.Status)
	assert.Equal(t, "advice", out.StoppedAt)
	assert.Equal(t, 0, out.Summary["markets"])
}
