package memory

import (
	"context"
	"strings"

	"github.com/MycelicMemory/htm/internal/enrich"
	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
	"github.com/MycelicMemory/htm/internal/retrieval"
	"github.com/MycelicMemory/htm/internal/store"
	"github.com/MycelicMemory/htm/internal/workingmemory"
)

var log = logging.GetLogger("memory")

// nodeStore is the narrow persistence surface Service needs.
type nodeStore interface {
	CreateNode(ctx context.Context, content string, tokenCount int, metadata map[string]any, robotID int64) (int64, error)
	GetNode(ctx context.Context, id int64, includeDeleted bool) (*store.Node, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	HardDelete(ctx context.Context, id int64, confirm string) error
	AttachTags(ctx context.Context, nodeID int64, tagNames []string) error
	LinkSource(ctx context.Context, nodeID, sourceID int64, position int) error
	SetWorkingMemoryFlag(ctx context.Context, robotID, nodeID int64, inWorkingMemory bool) error
}

// recaller is the retrieval operation Recall delegates to.
type recaller interface {
	Recall(ctx context.Context, query string, strategy retrieval.Strategy, limit int, tf *retrieval.Timeframe, tagFilter []string, queryEmbedding []float32) ([]retrieval.Result, error)
}

// Tokenizer computes the token count Service persists on a node and budgets
// working-memory admission against. Its internals (which model family,
// which BPE vocabulary) are a collaborator's concern.
type Tokenizer interface {
	CountTokens(text string) int
}

// Service is the memory store's public facade: persist, retrieve,
// soft/hard delete, restore, and bulk-load external content, wiring
// together the store, retrieval engine, enrichment job queue, tokenizer,
// and per-robot working memory.
type Service struct {
	store     nodeStore
	engine    recaller
	jobs      enrich.JobQueue
	tokenizer Tokenizer
	wm        *workingmemory.Manager
	chunker   *Chunker
}

// NewService builds a Service from its collaborators. wm may be nil if the
// caller has no working-memory promotion needs (e.g. a bulk loader).
func NewService(s nodeStore, engine recaller, jobs enrich.JobQueue, tokenizer Tokenizer, wm *workingmemory.Manager) *Service {
	return &Service{
		store:     s,
		engine:    engine,
		jobs:      jobs,
		tokenizer: tokenizer,
		wm:        wm,
		chunker:   NewChunker(DefaultChunkConfig()),
	}
}

// admitToWorkingMemory promotes (nodeID, content, tokenCount) into robotID's
// cache and persists the resulting admission/eviction to the working_memory
// flag on each affected RobotNode.
func (s *Service) admitToWorkingMemory(ctx context.Context, robotID, nodeID int64, content string, tokenCount int, fromRecall bool) {
	evicted := s.wm.CacheFor(robotID).Add(nodeID, content, tokenCount, nil, fromRecall)
	if err := s.store.SetWorkingMemoryFlag(ctx, robotID, nodeID, true); err != nil {
		log.Warn("failed to set working memory flag", "robot_id", robotID, "node_id", nodeID, "error", err)
	}
	for _, evictedID := range evicted {
		if err := s.store.SetWorkingMemoryFlag(ctx, robotID, evictedID, false); err != nil {
			log.Warn("failed to clear working memory flag", "robot_id", robotID, "node_id", evictedID, "error", err)
		}
	}
}

// Remember persists content against robotID (deduping on normalized
// content per the store's content-hash constraint), attaches any
// explicitly supplied tags, enqueues an embedding job (plus a tagging job
// when no explicit tags were supplied), and promotes the node into
// robotID's working memory.
func (s *Service) Remember(ctx context.Context, content string, tags []string, metadata map[string]any, robotID int64) (int64, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, errs.Validation("content is required")
	}

	tokenCount := s.tokenizer.CountTokens(content)
	nodeID, err := s.store.CreateNode(ctx, content, tokenCount, metadata, robotID)
	if err != nil {
		return 0, err
	}

	if len(tags) > 0 {
		if err := s.store.AttachTags(ctx, nodeID, tags); err != nil {
			log.Warn("failed to attach explicit tags", "node_id", nodeID, "error", err)
		}
	}

	if err := s.jobs.Enqueue(ctx, enrich.JobEmbedding, nodeID); err != nil {
		log.Warn("failed to enqueue embedding job", "node_id", nodeID, "error", err)
	}
	if len(tags) == 0 {
		if err := s.jobs.Enqueue(ctx, enrich.JobTagging, nodeID); err != nil {
			log.Warn("failed to enqueue tagging job", "node_id", nodeID, "error", err)
		}
	}

	if s.wm != nil && robotID != 0 {
		s.admitToWorkingMemory(ctx, robotID, nodeID, content, tokenCount, false)
	}

	return nodeID, nil
}

// Recall delegates to the retrieval engine and, when robotID is supplied,
// promotes every returned node into that robot's working memory.
func (s *Service) Recall(ctx context.Context, query string, strategy retrieval.Strategy, limit int, tf *retrieval.Timeframe, tagFilter []string, robotID *int64) ([]retrieval.Result, error) {
	results, err := s.engine.Recall(ctx, query, strategy, limit, tf, tagFilter, nil)
	if err != nil {
		return nil, err
	}
	if s.wm == nil || robotID == nil {
		return results, nil
	}

	cache := s.wm.CacheFor(*robotID)
	for _, r := range results {
		if cache.Contains(r.ID) {
			s.admitToWorkingMemory(ctx, *robotID, r.ID, r.Content, 0, true)
			continue
		}
		node, err := s.store.GetNode(ctx, r.ID, false)
		if err != nil {
			continue
		}
		s.admitToWorkingMemory(ctx, *robotID, node.ID, node.Content, node.TokenCount, true)
	}
	return results, nil
}

// Forget soft-deletes nodeID when soft is true; otherwise it permanently
// removes the node, which requires a non-empty confirm token.
func (s *Service) Forget(ctx context.Context, nodeID int64, soft bool, confirm string) (bool, error) {
	if soft {
		if err := s.store.SoftDelete(ctx, nodeID); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := s.store.HardDelete(ctx, nodeID, confirm); err != nil {
		return false, err
	}
	return true, nil
}

// Restore clears a soft-deleted node's deleted_at, making it visible to
// reads again.
func (s *Service) Restore(ctx context.Context, nodeID int64) (bool, error) {
	if err := s.store.Restore(ctx, nodeID); err != nil {
		return false, err
	}
	return true, nil
}

// LoadExternalContent persists a pre-chunked external document: each chunk
// becomes its own node, anonymous (no originating robot), linked back to
// sourceID at its chunk position, with both enrichment jobs enqueued.
// Invoked by file-loader collaborators, which are themselves out of scope
// here; LoadExternalContent only owns what happens once chunks exist.
func (s *Service) LoadExternalContent(ctx context.Context, sourceID int64, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}

		nodeID, err := s.store.CreateNode(ctx, content, s.tokenizer.CountTokens(content), nil, 0)
		if err != nil {
			return ids, err
		}
		if err := s.store.LinkSource(ctx, nodeID, sourceID, c.Index); err != nil {
			log.Warn("failed to link chunk to source", "node_id", nodeID, "source_id", sourceID, "error", err)
		}
		if err := s.jobs.Enqueue(ctx, enrich.JobEmbedding, nodeID); err != nil {
			log.Warn("failed to enqueue embedding job", "node_id", nodeID, "error", err)
		}
		if err := s.jobs.Enqueue(ctx, enrich.JobTagging, nodeID); err != nil {
			log.Warn("failed to enqueue tagging job", "node_id", nodeID, "error", err)
		}
		ids = append(ids, nodeID)
	}
	return ids, nil
}
