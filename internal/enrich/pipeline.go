package enrich

import (
	"context"
	"time"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
	"github.com/MycelicMemory/htm/internal/metrics"
	"github.com/MycelicMemory/htm/internal/store"
	"github.com/MycelicMemory/htm/pkg/config"
)

// nodeStore is the narrow store surface the pipeline needs: read the node
// to check idempotency and tolerate concurrent soft-delete, then write back
// whichever half of the enrichment the job kind computed.
type nodeStore interface {
	GetNode(ctx context.Context, id int64, includeDeleted bool) (*store.Node, error)
	UpdateEmbedding(ctx context.Context, id int64, vector []float32) error
	AttachTags(ctx context.Context, nodeID int64, tagNames []string) error
	TagsForNode(ctx context.Context, nodeID int64) ([]string, error)
	ExistingOntology(ctx context.Context, limit int) ([]string, error)
}

// Embedder computes a node's vector representation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Tagger derives hierarchical tags for a node's content, biased toward the
// existing ontology so related content converges on the same tag names.
type Tagger interface {
	ExtractTags(ctx context.Context, text string, existingOntology []string) ([]string, error)
}

// ontologyWindow bounds how much of the existing tag vocabulary is sent to
// the tagger as bias context.
const ontologyWindow = 100

// Pipeline is the default Executor: it performs the embedding or tagging
// work for a single node, each call wrapped in a retry policy and a
// per-provider circuit breaker so a flaky or down provider degrades to
// skipped jobs instead of hung workers.
type Pipeline struct {
	store            nodeStore
	embedder         Embedder
	tagger           Tagger
	embeddingBreaker *Breaker
	taggingBreaker   *Breaker
	log              *logging.Logger
	met              *metrics.Collector
}

// NewPipeline builds a Pipeline. embedder or tagger may be nil if that
// provider was never configured; jobs of the corresponding kind then fail
// permanently rather than retrying forever against a provider that does
// not exist.
func NewPipeline(s nodeStore, embedder Embedder, tagger Tagger, cfg config.CircuitBreakerConfig) *Pipeline {
	return &Pipeline{
		store:            s,
		embedder:         embedder,
		tagger:           tagger,
		embeddingBreaker: NewBreaker("embedding", cfg),
		taggingBreaker:   NewBreaker("tagging", cfg),
		log:              logging.GetLogger("enrich.pipeline"),
		met:              metrics.Default(),
	}
}

// Execute implements Executor. It is idempotent: a node that already
// carries the requested enrichment is a silent no-op, and a node that has
// been soft-deleted between enqueue and execution is skipped rather than
// treated as an error (deletion races are expected, not exceptional).
func (p *Pipeline) Execute(ctx context.Context, kind JobKind, nodeID int64) error {
	node, err := p.store.GetNode(ctx, nodeID, true)
	if err != nil {
		return err
	}
	if node.DeletedAt != nil {
		p.log.Debug("skipping enrichment for deleted node", "node_id", nodeID, "kind", kind)
		return nil
	}

	var execErr error
	switch kind {
	case JobEmbedding:
		execErr = p.executeEmbedding(ctx, node)
	case JobTagging:
		execErr = p.executeTagging(ctx, node)
	default:
		execErr = permanent(errs.Validation("unknown job kind %q", kind))
	}

	status := "done"
	if execErr != nil {
		status = "failed"
	}
	p.met.JobsTotal.WithLabelValues(string(kind), status).Inc()
	return execErr
}

func (p *Pipeline) executeEmbedding(ctx context.Context, node *store.Node) error {
	if len(node.Embedding) > 0 {
		return nil
	}
	if p.embedder == nil {
		return permanent(errs.Validation("no embedding provider configured"))
	}

	return withRetry(ctx, func() error {
		return p.embeddingBreaker.Execute(func() error {
			start := time.Now()
			vector, err := p.embedder.Embed(ctx, node.Content)
			status := "ok"
			if err != nil {
				status = "error"
			}
			p.met.EmbeddingLatencyMs.WithLabelValues("default", status).Observe(float64(time.Since(start).Milliseconds()))
			if err != nil {
				return err
			}
			return p.store.UpdateEmbedding(ctx, node.ID, vector)
		})
	})
}

func (p *Pipeline) executeTagging(ctx context.Context, node *store.Node) error {
	existing, err := p.store.TagsForNode(ctx, node.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	if p.tagger == nil {
		return permanent(errs.Validation("no tagging provider configured"))
	}

	ontology, err := p.store.ExistingOntology(ctx, ontologyWindow)
	if err != nil {
		return err
	}

	return withRetry(ctx, func() error {
		return p.taggingBreaker.Execute(func() error {
			start := time.Now()
			tags, err := p.tagger.ExtractTags(ctx, node.Content, ontology)
			status := "ok"
			if err != nil {
				status = "error"
			}
			p.met.TagLatencyMs.WithLabelValues("default", status).Observe(float64(time.Since(start).Milliseconds()))
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				return nil
			}
			return p.store.AttachTags(ctx, node.ID, tags)
		})
	})
}
