// Package enrich implements the asynchronous enrichment pipeline: after a
// node is persisted, compute and attach its embedding and tag set without
// blocking the caller, tolerating provider outages via retries and circuit
// breakers.
package enrich

import "context"

// JobKind identifies what enrichment work a job performs.
type JobKind string

const (
	JobEmbedding JobKind = "embedding"
	JobTagging   JobKind = "tagging"
)

// JobQueue is the pluggable submit contract every backend implements.
// Enqueue returns promptly for pool/queue backends (the work runs
// elsewhere); for the inline backend it runs synchronously and returns the
// job's own error.
type JobQueue interface {
	Enqueue(ctx context.Context, kind JobKind, nodeID int64) error
}

// Executor performs the actual enrichment work for one job. Backends call
// it; it is never called directly by Remember.
type Executor interface {
	Execute(ctx context.Context, kind JobKind, nodeID int64) error
}
