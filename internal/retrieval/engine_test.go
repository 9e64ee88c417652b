package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MycelicMemory/htm/internal/store"
)

type fakeStore struct {
	fulltext      []store.FullTextHit
	vector        []store.VectorHit
	tagsMatching  map[string]int64
	nodesForTags  map[int64][]int64
	ontology      []string
	touchedIDs    []int64
}

func (f *fakeStore) SearchFullText(_ context.Context, _ string, _, _ *time.Time, _ int) ([]store.FullTextHit, error) {
	return f.fulltext, nil
}

func (f *fakeStore) SearchVector(_ context.Context, _ []float32, _, _ *time.Time, _ int) ([]store.VectorHit, error) {
	return f.vector, nil
}

func (f *fakeStore) TagsMatching(_ context.Context, _ []string) (map[string]int64, error) {
	return f.tagsMatching, nil
}

func (f *fakeStore) NodesForTags(_ context.Context, _ []int64) (map[int64][]int64, error) {
	return f.nodesForTags, nil
}

func (f *fakeStore) ExistingOntology(_ context.Context, _ int) ([]string, error) {
	return f.ontology, nil
}

func (f *fakeStore) TouchLastAccessed(_ context.Context, ids []int64) error {
	f.touchedIDs = ids
	return nil
}

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return f.vec, nil }

func TestHybridRecallTagBoost(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		fulltext: []store.FullTextHit{
			{Node: &store.Node{ID: 1, Content: "Postgres HNSW index builds fast", CreatedAt: now}, Rank: 0.8},
			{Node: &store.Node{ID: 2, Content: "Redis uses in-memory hashing", CreatedAt: now}, Rank: 0.2},
		},
		vector: []store.VectorHit{
			{Node: &store.Node{ID: 1, Content: "Postgres HNSW index builds fast", CreatedAt: now}, Distance: 0.1},
			{Node: &store.Node{ID: 2, Content: "Redis uses in-memory hashing", CreatedAt: now}, Distance: 0.6},
		},
		tagsMatching: map[string]int64{"database:postgresql": 1, "database": 2},
		nodesForTags: map[int64][]int64{1: {1}, 2: {2}},
	}

	e := NewEngine(fs, fakeEmbedder{vec: []float32{0.1, 0.2}}, nil, Config{})

	results, err := e.Recall(context.Background(), "postgres hnsw", StrategyHybrid, 2, nil, []string{"database:postgresql"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Greater(t, results[0].CombinedScore, results[1].CombinedScore)
	assert.Greater(t, results[0].TagBoost, 0.0)
	assert.ElementsMatch(t, []int64{1, 2}, fs.touchedIDs)
}

func TestFullTextRecallDoesNotRequireEmbedder(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		fulltext: []store.FullTextHit{
			{Node: &store.Node{ID: 1, Content: "hello", CreatedAt: now}, Rank: 0.5},
		},
	}
	e := NewEngine(fs, nil, nil, Config{})
	results, err := e.Recall(context.Background(), "hello", StrategyFullText, 10, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestVectorRecallRequiresEmbeddingSource(t *testing.T) {
	e := NewEngine(&fakeStore{}, nil, nil, Config{})
	_, err := e.Recall(context.Background(), "hello", StrategyVector, 10, nil, nil, nil)
	assert.Error(t, err)
}

func TestVectorRecallAcceptsSuppliedEmbedding(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		vector: []store.VectorHit{
			{Node: &store.Node{ID: 9, Content: "vectorized", CreatedAt: now}, Distance: 0.2},
		},
	}
	e := NewEngine(fs, nil, nil, Config{})
	results, err := e.Recall(context.Background(), "", StrategyVector, 10, nil, nil, []float32{0.1, 0.2, 0.3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.8, results[0].Similarity, 1e-9)
}

func TestUnknownStrategyRejected(t *testing.T) {
	e := NewEngine(&fakeStore{}, nil, nil, Config{})
	_, err := e.Recall(context.Background(), "hello", Strategy("bogus"), 10, nil, nil, nil)
	assert.Error(t, err)
}
