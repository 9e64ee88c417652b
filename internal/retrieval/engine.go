package retrieval

import (
	"context"
	"time"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
	"github.com/MycelicMemory/htm/internal/metrics"
	"github.com/MycelicMemory/htm/internal/store"
)

// nodeStore is the subset of *store.Store the engine depends on, narrowed
// to ease testing with a fake.
type nodeStore interface {
	SearchFullText(ctx context.Context, query string, since, until *time.Time, limit int) ([]store.FullTextHit, error)
	SearchVector(ctx context.Context, embedding []float32, since, until *time.Time, limit int) ([]store.VectorHit, error)
	TagsMatching(ctx context.Context, names []string) (map[string]int64, error)
	NodesForTags(ctx context.Context, tagIDs []int64) (map[int64][]int64, error)
	ExistingOntology(ctx context.Context, limit int) ([]string, error)
	TouchLastAccessed(ctx context.Context, ids []int64) error
}

// Config carries the tunables the engine reads from config.RetrievalConfig.
type Config struct {
	WeekStart     time.Weekday
	RRFK          int
	TagBoostAlpha float64
}

// Engine is the retrieval engine described in the memory store's read path:
// timeframe parsing, strategy dispatch, RRF fusion, and tag boosting.
type Engine struct {
	store    nodeStore
	embedder Embedder
	tagger   Tagger
	cfg      Config
	log      *logging.Logger
}

// NewEngine constructs an Engine. embedder/tagger may be nil; a nil embedder
// makes the vector strategy reject calls that don't supply their own
// embedding and makes hybrid recall fuse the fulltext list alone, and a nil
// tagger disables hybrid tag boosting unless tagFilter supplies the tags.
func NewEngine(s nodeStore, embedder Embedder, tagger Tagger, cfg Config) *Engine {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.TagBoostAlpha == 0 {
		cfg.TagBoostAlpha = 0.3
	}
	return &Engine{store: s, embedder: embedder, tagger: tagger, cfg: cfg, log: logging.GetLogger("retrieval")}
}

const defaultLimit = 10

// Recall is the primary entry point. query may be empty only for the vector
// strategy with a supplied queryEmbedding; the fulltext search, which the
// fulltext and hybrid strategies run, rejects an empty query.
// If queryEmbedding is non-nil it's used directly for the vector component
// instead of calling the embedder.
func (e *Engine) Recall(ctx context.Context, query string, strategy Strategy, limit int, tf *Timeframe, tagFilter []string, queryEmbedding []float32) ([]Result, error) {
	start := time.Now()
	recordedStrategy := strategy
	if recordedStrategy == "" {
		recordedStrategy = StrategyHybrid
	}
	defer func() {
		metrics.Default().SearchLatencyMs.WithLabelValues(string(recordedStrategy)).Observe(float64(time.Since(start).Milliseconds()))
	}()

	if limit <= 0 {
		limit = defaultLimit
	}
	var since, until *time.Time
	if tf != nil {
		since, until = tf.Start, tf.End
	}

	var results []Result
	var err error
	switch strategy {
	case StrategyFullText:
		results, err = e.recallFullText(ctx, query, since, until, limit)
	case StrategyVector:
		results, err = e.recallVector(ctx, query, queryEmbedding, since, until, limit)
	case StrategyHybrid, "":
		results, err = e.recallHybrid(ctx, query, queryEmbedding, since, until, limit, tagFilter)
	default:
		return nil, errs.Validation("unknown retrieval strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	e.touchAccessed(ctx, results)
	return results, nil
}

func (e *Engine) recallFullText(ctx context.Context, query string, since, until *time.Time, limit int) ([]Result, error) {
	hits, err := e.store.SearchFullText(ctx, query, since, until, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:            h.Node.ID,
			Content:       h.Node.Content,
			CombinedScore: h.Rank,
			CreatedAt:     h.Node.CreatedAt,
			Metadata:      h.Node.Metadata,
		})
	}
	return results, nil
}

func (e *Engine) recallVector(ctx context.Context, query string, queryEmbedding []float32, since, until *time.Time, limit int) ([]Result, error) {
	embedding, err := e.resolveEmbedding(ctx, query, queryEmbedding)
	if err != nil {
		return nil, err
	}
	hits, err := e.store.SearchVector(ctx, embedding, since, until, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:            h.Node.ID,
			Content:       h.Node.Content,
			Similarity:    1 - h.Distance,
			CombinedScore: 1 - h.Distance,
			CreatedAt:     h.Node.CreatedAt,
			Metadata:      h.Node.Metadata,
		})
	}
	return results, nil
}

func (e *Engine) recallHybrid(ctx context.Context, query string, queryEmbedding []float32, since, until *time.Time, limit int, tagFilter []string) ([]Result, error) {
	expanded := expandedLimit(limit)

	ftHits, err := e.store.SearchFullText(ctx, query, since, until, expanded)
	if err != nil {
		return nil, err
	}

	var vecHits []store.VectorHit
	embedding, err := e.resolveEmbedding(ctx, query, queryEmbedding)
	if err == nil && len(embedding) > 0 {
		vecHits, err = e.store.SearchVector(ctx, embedding, since, until, expanded)
		if err != nil {
			return nil, err
		}
	} else {
		e.log.Debug("hybrid recall proceeding without vector component", "reason", err)
	}

	fulltext := make([]rankedItem, 0, len(ftHits))
	for _, h := range ftHits {
		fulltext = append(fulltext, rankedItem{ID: h.Node.ID, Content: h.Node.Content, CreatedAt: h.Node.CreatedAt, Metadata: h.Node.Metadata})
	}
	vector := make([]rankedItem, 0, len(vecHits))
	for _, h := range vecHits {
		vector = append(vector, rankedItem{ID: h.Node.ID, Content: h.Node.Content, CreatedAt: h.Node.CreatedAt, Metadata: h.Node.Metadata, Similarity: 1 - h.Distance})
	}

	candidates := reciprocalRankFusion(fulltext, vector, e.cfg.RRFK)

	queryTags, err := e.candidateQueryTags(ctx, query, tagFilter)
	if err != nil {
		return nil, err
	}
	if len(queryTags) > 0 {
		depths, err := e.nodeTagDepths(ctx, candidates, queryTags)
		if err != nil {
			return nil, err
		}
		applyTagBoost(candidates, depths, queryTags, e.cfg.TagBoostAlpha)
	}

	return rankResults(candidates, limit), nil
}

// candidateQueryTags resolves the set of tags to boost against: an explicit
// tagFilter wins; otherwise the tagger extracts candidates from the query in
// read-only mode (existing ontology supplied, no write-back).
func (e *Engine) candidateQueryTags(ctx context.Context, query string, tagFilter []string) ([]string, error) {
	if len(tagFilter) > 0 {
		return tagFilter, nil
	}
	if e.tagger == nil || query == "" {
		return nil, nil
	}
	ontology, err := e.store.ExistingOntology(ctx, 100)
	if err != nil {
		return nil, err
	}
	tags, err := e.tagger.ExtractTags(ctx, query, ontology)
	if err != nil {
		e.log.Debug("tag extraction for hybrid boost failed, proceeding without boost", "error", err)
		return nil, nil
	}
	return tags, nil
}

// nodeTagDepths resolves, for every candidate node, the depth of each of its
// tags that also appears in queryTags (after expanding queryTags to include
// their ancestor prefixes so a query tag "database:postgresql" also boosts
// nodes tagged just "database").
func (e *Engine) nodeTagDepths(ctx context.Context, candidates map[int64]*fusionCandidate, queryTags []string) (map[int64]map[string]int, error) {
	expanded := expandWithAncestors(queryTags)
	matching, err := e.store.TagsMatching(ctx, expanded)
	if err != nil {
		return nil, err
	}
	if len(matching) == 0 {
		return nil, nil
	}

	tagIDs := make([]int64, 0, len(matching))
	idToName := make(map[int64]string, len(matching))
	for name, id := range matching {
		tagIDs = append(tagIDs, id)
		idToName[id] = name
	}

	nodesForTags, err := e.store.NodesForTags(ctx, tagIDs)
	if err != nil {
		return nil, err
	}

	depths := make(map[int64]map[string]int)
	for tagID, nodeIDs := range nodesForTags {
		name := idToName[tagID]
		depth := store.TagDepth(name)
		for _, nodeID := range nodeIDs {
			if _, isCandidate := candidates[nodeID]; !isCandidate {
				continue
			}
			if depths[nodeID] == nil {
				depths[nodeID] = make(map[string]int)
			}
			depths[nodeID][name] = depth
		}
	}
	return depths, nil
}

func (e *Engine) resolveEmbedding(ctx context.Context, query string, queryEmbedding []float32) ([]float32, error) {
	if len(queryEmbedding) > 0 {
		return queryEmbedding, nil
	}
	if e.embedder == nil {
		return nil, errs.Validation("no embedding supplied and no embedder configured")
	}
	return e.embedder.Embed(ctx, query)
}

// touchAccessed bumps last_accessed for every returned node. Best-effort:
// retrieval operations never fail a recall over this side effect.
func (e *Engine) touchAccessed(ctx context.Context, results []Result) {
	if len(results) == 0 {
		return
	}
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	if err := e.store.TouchLastAccessed(ctx, ids); err != nil {
		e.log.Warn("failed to bump last_accessed after recall", "error", err)
	}
}

func expandedLimit(limit int) int {
	if limit*2 > 20 {
		return limit * 2
	}
	return 20
}

func expandWithAncestors(tags []string) []string {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
		for _, ancestor := range store.TagAncestors(t) {
			set[ancestor] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}
