package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/position"
	"github.com/newthinker/tradesim/internal/result"
)

func TestMemoryStoreRuntime(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetRuntime(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	snap := RuntimeSnapshot{
		SessionID:    "s-1",
		Status:       "running",
		CurrentIndex: 10,
		TotalCandles: 100,
		Equity:       10500,
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, store.UpsertRuntime(ctx, snap))

	got, err := store.GetRuntime(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.CurrentIndex)

	snap.CurrentIndex = 20
	require.NoError(t, store.UpsertRuntime(ctx, snap))
	got, err = store.GetRuntime(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.CurrentIndex)
}

func TestMemoryStoreAppendOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendTrade(ctx, "s-1", position.Trade{EntryIndex: i}))
		require.NoError(t, store.AppendDecision(ctx, DecisionRecord{SessionID: "s-1", Index: i, Action: core.ActionHold}))
	}
	require.NoError(t, store.AppendTrade(ctx, "s-2", position.Trade{EntryIndex: 99}))

	trades, err := store.ListTrades(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	for i, tr := range trades {
		assert.Equal(t, i, tr.EntryIndex)
	}

	decisions, err := store.ListDecisions(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, decisions, 3)

	other, err := store.ListTrades(ctx, "s-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryStoreResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetResult(ctx, "s-1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	require.NoError(t, store.SaveResult(ctx, &result.Result{SessionID: "s-1", FinalCapital: 11000}))

	res, err := store.GetResult(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 11000.0, res.FinalCapital)
}
