package enrich

import (
	"context"
	"sync"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
)

// job is one unit of work queued to a PoolBackend.
type job struct {
	kind   JobKind
	nodeID int64
}

// PoolBackend runs jobs on a fixed-size pool of goroutines draining a
// single buffered channel. Enqueue returns as soon as the job is queued
// (or the context is cancelled, or the queue is full); the job's own
// outcome is only logged, never returned to the caller, since the whole
// point of a pool backend is to not block Remember on provider latency.
type PoolBackend struct {
	executor Executor
	jobs     chan job
	wg       sync.WaitGroup
	log      *logging.Logger
}

// NewPoolBackend starts size worker goroutines draining a queue of
// capacity queueSize. Call Shutdown to drain in-flight jobs and stop the
// workers.
func NewPoolBackend(executor Executor, size, queueSize int) *PoolBackend {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = size
	}

	b := &PoolBackend{
		executor: executor,
		jobs:     make(chan job, queueSize),
		log:      logging.GetLogger("enrich.pool"),
	}

	for i := 0; i < size; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *PoolBackend) worker() {
	defer b.wg.Done()
	for j := range b.jobs {
		if err := b.executor.Execute(context.Background(), j.kind, j.nodeID); err != nil {
			b.log.Warn("enrichment job failed", "kind", j.kind, "node_id", j.nodeID, "error", err)
		}
	}
}

// Enqueue implements JobQueue.
func (b *PoolBackend) Enqueue(ctx context.Context, kind JobKind, nodeID int64) error {
	select {
	case b.jobs <- job{kind: kind, nodeID: nodeID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errs.ResourceUnavailable("enrichment pool queue is full")
	}
}

// Shutdown closes the queue and waits for every in-flight job to finish.
func (b *PoolBackend) Shutdown() {
	close(b.jobs)
	b.wg.Wait()
}
