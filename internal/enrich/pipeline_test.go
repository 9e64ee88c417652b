package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MycelicMemory/htm/internal/store"
	"github.com/MycelicMemory/htm/pkg/config"
)

type fakeNodeStore struct {
	nodes          map[int64]*store.Node
	tags           map[int64][]string
	ontology       []string
	embeddingCalls int
	attachCalls    int
}

func (f *fakeNodeStore) GetNode(_ context.Context, id int64, _ bool) (*store.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return n, nil
}

func (f *fakeNodeStore) UpdateEmbedding(_ context.Context, id int64, vector []float32) error {
	f.embeddingCalls++
	f.nodes[id].Embedding = vector
	return nil
}

func (f *fakeNodeStore) AttachTags(_ context.Context, nodeID int64, tagNames []string) error {
	f.attachCalls++
	f.tags[nodeID] = tagNames
	return nil
}

func (f *fakeNodeStore) TagsForNode(_ context.Context, nodeID int64) ([]string, error) {
	return f.tags[nodeID], nil
}

func (f *fakeNodeStore) ExistingOntology(_ context.Context, _ int) ([]string, error) {
	return f.ontology, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return f.vec, f.err }

type fakeTagger struct {
	tags []string
	err  error
}

func (f fakeTagger) ExtractTags(_ context.Context, _ string, _ []string) ([]string, error) {
	return f.tags, f.err
}

func newTestPipeline(s *fakeNodeStore, e Embedder, tg Tagger) *Pipeline {
	cfg := config.CircuitBreakerConfig{
		ConsecutiveFailureThreshold: 5,
		FailureRatioThreshold:       0.5,
		MinRequestsForRatio:         10,
		OpenDuration:                time.Second,
		MaxReopenDuration:           10 * time.Second,
	}
	return NewPipeline(s, e, tg, cfg)
}

func TestPipelineEmbeddingJobWritesVector(t *testing.T) {
	s := &fakeNodeStore{nodes: map[int64]*store.Node{1: {ID: 1, Content: "hello"}}, tags: map[int64][]string{}}
	p := newTestPipeline(s, fakeEmbedder{vec: []float32{0.1, 0.2}}, nil)

	err := p.Execute(context.Background(), JobEmbedding, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.embeddingCalls)
	assert.Equal(t, []float32{0.1, 0.2}, s.nodes[1].Embedding)
}

func TestPipelineEmbeddingJobIsIdempotent(t *testing.T) {
	s := &fakeNodeStore{nodes: map[int64]*store.Node{1: {ID: 1, Content: "hello", Embedding: []float32{0.9}}}, tags: map[int64][]string{}}
	p := newTestPipeline(s, fakeEmbedder{vec: []float32{0.1}}, nil)

	err := p.Execute(context.Background(), JobEmbedding, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, s.embeddingCalls)
}

func TestPipelineTaggingJobWritesTags(t *testing.T) {
	s := &fakeNodeStore{nodes: map[int64]*store.Node{1: {ID: 1, Content: "hello"}}, tags: map[int64][]string{}}
	p := newTestPipeline(s, nil, fakeTagger{tags: []string{"topic:go"}})

	err := p.Execute(context.Background(), JobTagging, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.attachCalls)
	assert.Equal(t, []string{"topic:go"}, s.tags[1])
}

func TestPipelineTaggingJobIsIdempotent(t *testing.T) {
	s := &fakeNodeStore{
		nodes: map[int64]*store.Node{1: {ID: 1, Content: "hello"}},
		tags:  map[int64][]string{1: {"topic:go"}},
	}
	p := newTestPipeline(s, nil, fakeTagger{tags: []string{"topic:rust"}})

	err := p.Execute(context.Background(), JobTagging, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, s.attachCalls)
}

func TestPipelineSkipsSoftDeletedNode(t *testing.T) {
	now := time.Now()
	s := &fakeNodeStore{nodes: map[int64]*store.Node{1: {ID: 1, Content: "hello", DeletedAt: &now}}, tags: map[int64][]string{}}
	p := newTestPipeline(s, fakeEmbedder{vec: []float32{0.1}}, nil)

	err := p.Execute(context.Background(), JobEmbedding, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, s.embeddingCalls)
}

func TestPipelineMissingProviderIsPermanent(t *testing.T) {
	s := &fakeNodeStore{nodes: map[int64]*store.Node{1: {ID: 1, Content: "hello"}}, tags: map[int64][]string{}}
	p := newTestPipeline(s, nil, nil)

	err := p.Execute(context.Background(), JobEmbedding, 1)
	assert.Error(t, err)
}
