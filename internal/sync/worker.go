package sync

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/metrics"
	"xero-sync-service/internal/shop"
)

var ErrPoolStopped = errors.New("worker pool stopped")

const flushInterval = 500 * time.Millisecond

// ChangeHandler is what the pool hands events to.
type ChangeHandler interface {
	OnEntityCreated(ctx context.Context, entityType shop.EntityType, localID int64) Result
	OnEntityUpdated(ctx context.Context, entityType shop.EntityType, localID int64) Result
}

// WorkerPool syncs entities named by change events. Events for the same
// entity always go to the same worker, so they are handled in order.
type WorkerPool struct {
	workers   []*Worker
	handler   ChangeHandler
	ctx       context.Context
	quit      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	batchSize int
}

func NewWorkerPool(cfg config.SyncConfig, handler ChangeHandler) *WorkerPool {
	n := cfg.Workers
	if n < 1 {
		n = 1
	}
	perWorker := cfg.QueueSize / n
	if perWorker < 1 {
		perWorker = 1
	}
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	pool := &WorkerPool{
		workers:   make([]*Worker, n),
		handler:   handler,
		ctx:       context.Background(),
		quit:      make(chan struct{}),
		batchSize: batchSize,
	}

	for i := 0; i < n; i++ {
		pool.workers[i] = newWorker(i, pool, perWorker)
	}

	return pool
}

func (p *WorkerPool) Start() {
	logger.Log.Info("Starting worker pool", zap.Int("workers", len(p.workers)))
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
}

// Stop flushes what the workers already hold and waits for them.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
	logger.Log.Info("Stopped worker pool")
}

func (p *WorkerPool) Submit(ctx context.Context, e ChangeEvent) error {
	w := p.workers[p.shard(e)]
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}

	select {
	case w.events <- e:
		metrics.ChangeQueueDepth.Inc()
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth is the number of events not yet taken by a worker.
func (p *WorkerPool) QueueDepth() int {
	depth := 0
	for _, w := range p.workers {
		depth += len(w.events)
	}
	return depth
}

func (p *WorkerPool) shard(e ChangeEvent) int {
	h := fnv.New32a()
	h.Write([]byte(e.EntityType))
	h.Write([]byte(strconv.FormatInt(e.LocalID, 10)))
	return int(h.Sum32() % uint32(len(p.workers)))
}

type Worker struct {
	id     int
	pool   *WorkerPool
	events chan ChangeEvent
	batch  []ChangeEvent
}

func newWorker(id int, pool *WorkerPool, queueSize int) *Worker {
	return &Worker{
		id:     id,
		pool:   pool,
		events: make(chan ChangeEvent, queueSize),
	}
}

func (w *Worker) run() {
	defer w.pool.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-w.events:
			metrics.ChangeQueueDepth.Dec()
			w.batch = append(w.batch, event)
			if len(w.batch) >= w.pool.batchSize {
				w.processBatch()
			}

		case <-ticker.C:
			if len(w.batch) > 0 {
				w.processBatch()
			}

		case <-w.pool.quit:
			w.drain()
			w.processBatch()
			return
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case event := <-w.events:
			metrics.ChangeQueueDepth.Dec()
			w.batch = append(w.batch, event)
		default:
			return
		}
	}
}

func (w *Worker) processBatch() {
	if len(w.batch) == 0 {
		return
	}

	events := coalesce(w.batch)
	logger.Log.Debug("Processing batch",
		zap.Int("workerID", w.id),
		zap.Int("received", len(w.batch)),
		zap.Int("size", len(events)))

	for _, e := range events {
		var res Result
		switch e.Type {
		case Insert:
			res = w.pool.handler.OnEntityCreated(w.pool.ctx, e.EntityType, e.LocalID)
		case Update:
			res = w.pool.handler.OnEntityUpdated(w.pool.ctx, e.EntityType, e.LocalID)
		default:
			logger.Log.Debug("Ignoring local deletion", zap.Stringer("event", e))
			continue
		}
		if res.Outcome == OutcomeFailed {
			logger.Log.Error("Failed to sync change",
				zap.Int("workerID", w.id),
				zap.Stringer("event", e),
				zap.Error(res.Err))
		}
	}

	w.batch = w.batch[:0]
}

// coalesce keeps one event per entity in first-seen order. An insert stays
// an insert when followed by updates; a later delete replaces both.
func coalesce(batch []ChangeEvent) []ChangeEvent {
	index := make(map[guardKey]int, len(batch))
	out := make([]ChangeEvent, 0, len(batch))
	for _, e := range batch {
		key := guardKey{e.EntityType, e.LocalID}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, e)
			continue
		}
		if e.Type == Delete || out[i].Type == Delete {
			out[i] = e
		}
	}
	return out
}
