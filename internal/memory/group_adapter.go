package memory

import (
	"context"

	"github.com/MycelicMemory/htm/internal/retrieval"
)

// GroupRememberer adapts Service to internal/group's Rememberer interface,
// which needs a bare (content, robotID) signature without the richer
// tags/metadata parameters the public Remember exposes.
type GroupRememberer struct {
	svc *Service
}

// NewGroupRememberer wraps svc for use as a group.Group's Rememberer.
func NewGroupRememberer(svc *Service) GroupRememberer {
	return GroupRememberer{svc: svc}
}

func (g GroupRememberer) Remember(ctx context.Context, content string, robotID int64) (int64, error) {
	return g.svc.Remember(ctx, content, nil, nil, robotID)
}

// GroupRecaller adapts Service to internal/group's Recaller interface.
type GroupRecaller struct {
	svc *Service
}

// NewGroupRecaller wraps svc for use as a group.Group's Recaller.
func NewGroupRecaller(svc *Service) GroupRecaller {
	return GroupRecaller{svc: svc}
}

func (g GroupRecaller) Recall(ctx context.Context, query string, strategy retrieval.Strategy, limit int, tf *retrieval.Timeframe, tagFilter []string, queryEmbedding []float32) ([]retrieval.Result, error) {
	return g.svc.engine.Recall(ctx, query, strategy, limit, tf, tagFilter, queryEmbedding)
}
