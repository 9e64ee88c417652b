package enrich

import "context"

// InlineBackend runs every job synchronously on the caller's goroutine.
// Enqueue returns only once Execute has completed, so its own error (after
// retries and breaker rejection) is the caller's error. This is the
// default for tests and single-process setups with no background worker.
type InlineBackend struct {
	executor Executor
}

// NewInlineBackend builds an InlineBackend delegating to executor.
func NewInlineBackend(executor Executor) *InlineBackend {
	return &InlineBackend{executor: executor}
}

// Enqueue implements JobQueue.
func (b *InlineBackend) Enqueue(ctx context.Context, kind JobKind, nodeID int64) error {
	return b.executor.Execute(ctx, kind, nodeID)
}
