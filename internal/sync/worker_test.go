package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xero-sync-service/internal/shop"
)

type handled struct {
	created    bool
	entityType shop.EntityType
	localID    int64
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []handled
}

func (r *recordingHandler) OnEntityCreated(ctx context.Context, entityType shop.EntityType, localID int64) Result {
	r.record(handled{true, entityType, localID})
	return Result{Outcome: OutcomeSynced}
}

func (r *recordingHandler) OnEntityUpdated(ctx context.Context, entityType shop.EntityType, localID int64) Result {
	r.record(handled{false, entityType, localID})
	return Result{Outcome: OutcomeSynced}
}

func (r *recordingHandler) record(h handled) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, h)
}

func (r *recordingHandler) snapshot() []handled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]handled(nil), r.calls...)
}

func TestCoalesceKeepsOneEventPerEntity(t *testing.T) {
	batch := []ChangeEvent{
		{Type: Insert, EntityType: shop.EntityProduct, LocalID: 1},
		{Type: Update, EntityType: shop.EntityProduct, LocalID: 1},
		{Type: Update, EntityType: shop.EntityCustomer, LocalID: 1},
		{Type: Update, EntityType: shop.EntityProduct, LocalID: 2},
		{Type: Delete, EntityType: shop.EntityProduct, LocalID: 2},
		{Type: Update, EntityType: shop.EntityCustomer, LocalID: 1},
	}

	out := coalesce(batch)
	require.Len(t, out, 3)
	assert.Equal(t, ChangeEvent{Type: Insert, EntityType: shop.EntityProduct, LocalID: 1}, out[0])
	assert.Equal(t, ChangeEvent{Type: Update, EntityType: shop.EntityCustomer, LocalID: 1}, out[1])
	assert.Equal(t, ChangeEvent{Type: Delete, EntityType: shop.EntityProduct, LocalID: 2}, out[2])
}

func TestWorkerPoolDispatchesEvents(t *testing.T) {
	handler := &recordingHandler{}
	pool := NewWorkerPool(testSyncConfig(), handler)
	pool.Start()

	ctx := context.Background()
	require.NoError(t, pool.Submit(ctx, ChangeEvent{Type: Insert, EntityType: shop.EntityProduct, LocalID: 1}))
	require.NoError(t, pool.Submit(ctx, ChangeEvent{Type: Update, EntityType: shop.EntityCustomer, LocalID: 2}))
	require.NoError(t, pool.Submit(ctx, ChangeEvent{Type: Delete, EntityType: shop.EntityOrder, LocalID: 3}))

	assert.Eventually(t, func() bool {
		return len(handler.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop()
	assert.ElementsMatch(t, []handled{
		{true, shop.EntityProduct, 1},
		{false, shop.EntityCustomer, 2},
	}, handler.snapshot())
}

func TestWorkerPoolFlushesOnStop(t *testing.T) {
	handler := &recordingHandler{}
	cfg := testSyncConfig()
	cfg.Workers = 1
	cfg.BatchSize = 100
	pool := NewWorkerPool(cfg, handler)

	// queued before the workers run
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, pool.Submit(context.Background(), ChangeEvent{Type: Update, EntityType: shop.EntityProduct, LocalID: id}))
	}
	pool.Start()
	pool.Stop()

	assert.Len(t, handler.snapshot(), 3)
	assert.ErrorIs(t, pool.Submit(context.Background(), ChangeEvent{Type: Update, EntityType: shop.EntityProduct, LocalID: 4}), ErrPoolStopped)
}

func TestWorkerPoolShardsByEntity(t *testing.T) {
	pool := NewWorkerPool(testSyncConfig(), &recordingHandler{})
	e := ChangeEvent{Type: Update, EntityType: shop.EntityOrder, LocalID: 99}

	first := pool.shard(e)
	e.Type = Insert
	assert.Equal(t, first, pool.shard(e))
}

func TestSubmitHonoursContext(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	pool := NewWorkerPool(cfg, &recordingHandler{})

	require.NoError(t, pool.Submit(context.Background(), ChangeEvent{Type: Update, EntityType: shop.EntityProduct, LocalID: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(ctx, ChangeEvent{Type: Update, EntityType: shop.EntityProduct, LocalID: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pool.QueueDepth())
}
