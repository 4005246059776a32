package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay_Linear(t *testing.T) {
	assert.Equal(t, 30*time.Minute, RetryDelay(0))
	assert.Equal(t, 60*time.Minute, RetryDelay(1))
	assert.Equal(t, 150*time.Minute, RetryDelay(4))
}

func TestBatchSummary_Add(t *testing.T) {
	var b BatchSummary
	b.Add(ItemResult{Status: ItemOK})
	b.Add(ItemResult{Status: ItemOK})
	b.Add(ItemResult{Status: ItemSkipped})
	b.Add(ItemResult{Status: ItemFailed, Reason: "boom"})

	assert.Equal(t, 2, b.OK)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, 4, b.Total())
}
