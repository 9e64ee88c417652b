package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
)

// pollInterval is how often QueueBackend checks the jobs table for
// runnable work. Short enough that enrichment still feels near-real-time
// without polling the database aggressively.
const pollInterval = 2 * time.Second

const batchSize = 16

// QueueBackend is the framework-native, durable job backend: jobs are rows
// in enrichment_jobs, claimed with SELECT ... FOR UPDATE SKIP LOCKED so
// multiple htm processes can share one queue without double-processing a
// job, and retried with the same backoff policy as the other backends by
// pushing run_after forward on failure. Enqueue survives process restarts;
// jobs queued before a crash are picked up by whichever process polls next.
type QueueBackend struct {
	pool     *pgxpool.Pool
	executor Executor
	log      *logging.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewQueueBackend builds a QueueBackend against pool and starts its poller.
// Call Shutdown to stop polling.
func NewQueueBackend(pool *pgxpool.Pool, executor Executor) *QueueBackend {
	b := &QueueBackend{
		pool:     pool,
		executor: executor,
		log:      logging.GetLogger("enrich.queue_b"),
		stop:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Enqueue implements JobQueue by inserting a pending row.
func (b *QueueBackend) Enqueue(ctx context.Context, kind JobKind, nodeID int64) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO enrichment_jobs (node_id, kind) VALUES ($1, $2)`,
		nodeID, string(kind),
	)
	if err != nil {
		return errs.Internal("enqueue job", err)
	}
	return nil
}

// Shutdown stops the poller and waits for the current batch to finish.
func (b *QueueBackend) Shutdown() {
	close(b.stop)
	b.wg.Wait()
}

func (b *QueueBackend) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.drainOnce(context.Background())
		}
	}
}

func (b *QueueBackend) drainOnce(ctx context.Context) {
	rows, err := b.claim(ctx)
	if err != nil {
		b.log.Warn("failed to claim enrichment jobs", "error", err)
		return
	}
	for _, r := range rows {
		b.run(ctx, r)
	}
}

type claimedJob struct {
	id       int64
	nodeID   int64
	kind     JobKind
	attempts int
}

func (b *QueueBackend) claim(ctx context.Context) ([]claimedJob, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT id, node_id, kind, attempts FROM enrichment_jobs
		WHERE status = 'pending' AND run_after <= now()
		ORDER BY run_after
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, err
	}

	var claimed []claimedJob
	var ids []int64
	for rows.Next() {
		var j claimedJob
		var kind string
		if err := rows.Scan(&j.id, &j.nodeID, &kind, &j.attempts); err != nil {
			rows.Close()
			return nil, err
		}
		j.kind = JobKind(kind)
		claimed = append(claimed, j)
		ids = append(ids, j.id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE enrichment_jobs SET status = 'running', updated_at = now() WHERE id = ANY($1)`, ids,
	); err != nil {
		return nil, err
	}

	return claimed, tx.Commit(ctx)
}

func (b *QueueBackend) run(ctx context.Context, j claimedJob) {
	err := b.executor.Execute(ctx, j.kind, j.nodeID)
	if err == nil {
		b.finish(ctx, j.id, "done", "")
		return
	}

	attempts := j.attempts + 1
	if attempts >= int(retryConfig.maxTries) {
		b.log.Warn("enrichment job exhausted retries", "job_id", j.id, "kind", j.kind, "node_id", j.nodeID, "error", err)
		b.finish(ctx, j.id, "failed", err.Error())
		return
	}

	delay := backoffDelay(attempts)
	if _, execErr := b.pool.Exec(ctx, `
		UPDATE enrichment_jobs
		SET status = 'pending', attempts = $1, run_after = now() + $2::interval, last_error = $3, updated_at = now()
		WHERE id = $4
	`, attempts, delay.String(), err.Error(), j.id); execErr != nil {
		b.log.Error("failed to reschedule enrichment job", "job_id", j.id, "error", execErr)
	}
}

func (b *QueueBackend) finish(ctx context.Context, jobID int64, status, lastError string) {
	if _, err := b.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET status = $1, last_error = NULLIF($2, ''), updated_at = now() WHERE id = $3`,
		status, lastError, jobID,
	); err != nil {
		b.log.Error("failed to finalize enrichment job", "job_id", jobID, "error", err)
	}
}

// backoffDelay mirrors the exponential-with-cap policy of withRetry for
// jobs rescheduled through the jobs table rather than an in-process retry
// loop (attempts is already 1-indexed here).
func backoffDelay(attempts int) time.Duration {
	d := retryConfig.initial
	for i := 1; i < attempts; i++ {
		d = time.Duration(float64(d) * retryConfig.multiplier)
		if d > retryConfig.max {
			d = retryConfig.max
			break
		}
	}
	return d
}

