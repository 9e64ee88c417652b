package enrich

import (
	"context"
	"encoding/json"

	"github.com/MycelicMemory/htm/internal/errs"
)

// BrokerClient is the integration boundary for a durable external message
// broker (the "queue A" backend). htm ships no concrete implementation:
// which broker a deployment uses is an operational choice outside this
// module's scope, so BrokerClient is the seam a caller wires a driver into
// (e.g. an AMQP or Kafka client adapted to this interface) rather than a
// dependency this module pulls in itself.
type BrokerClient interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// brokerSubject is the single subject/topic every enrichment job is
// published to; the payload's Kind field lets one consumer side fan jobs
// out to the right handler.
const brokerSubject = "htm.enrichment"

type brokerPayload struct {
	Kind   JobKind `json:"kind"`
	NodeID int64   `json:"node_id"`
}

// BrokerBackend publishes jobs to an external broker via BrokerClient.
// It does not execute jobs itself; a separate consumer process (outside
// this module) is expected to read brokerSubject and call an Executor.
type BrokerBackend struct {
	client BrokerClient
}

// NewBrokerBackend builds a BrokerBackend over client.
func NewBrokerBackend(client BrokerClient) *BrokerBackend {
	return &BrokerBackend{client: client}
}

// Enqueue implements JobQueue.
func (b *BrokerBackend) Enqueue(ctx context.Context, kind JobKind, nodeID int64) error {
	data, err := json.Marshal(brokerPayload{Kind: kind, NodeID: nodeID})
	if err != nil {
		return errs.Internal("marshal job payload", err)
	}
	if err := b.client.Publish(ctx, brokerSubject, data); err != nil {
		return errs.ResourceUnavailable("publish enrichment job", err)
	}
	return nil
}
