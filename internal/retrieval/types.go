// Package retrieval implements the memory store's read path: timeframe
// parsing and the three recall strategies (fulltext, vector, hybrid) fused
// by Reciprocal Rank Fusion with tag-based boosting.
package retrieval

import (
	"context"
	"time"
)

// Strategy selects one of the three recall algorithms.
type Strategy string

const (
	StrategyFullText Strategy = "fulltext"
	StrategyVector   Strategy = "vector"
	StrategyHybrid   Strategy = "hybrid"
)

// Timeframe bounds a recall to [Start, End). Either bound may be nil,
// meaning unbounded in that direction. A nil *Timeframe means no filter.
type Timeframe struct {
	Start *time.Time
	End   *time.Time
}

// Result is a single scored recall hit. Score fields are optional: a
// fulltext-only result carries the text-search rank in CombinedScore with
// Similarity/TagBoost zero; a vector-only result has Similarity and
// CombinedScore both set to 1 - cosine distance; a hybrid result has
// CombinedScore = RRF score + TagBoost, with Similarity set for nodes that
// appeared in the vector list.
type Result struct {
	ID            int64
	Content       string
	Similarity    float64
	TagBoost      float64
	CombinedScore float64
	CreatedAt     time.Time
	Metadata      map[string]any
}

// Embedder computes a dense vector embedding for a piece of text. Narrow
// interface so the vector strategy and the hybrid query-embedding step
// don't depend on any particular provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Tagger extracts candidate tags from text. The hybrid strategy calls it in
// read-only mode (existingOntology supplied, no write-back) to find the
// query's candidate tags for the boost step.
type Tagger interface {
	ExtractTags(ctx context.Context, text string, existingOntology []string) ([]string, error)
}
