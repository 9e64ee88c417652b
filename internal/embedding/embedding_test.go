package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MycelicMemory/htm/pkg/config"
)

func testClient(dimension int, distance string) *Client {
	return NewClient("", config.EmbeddingConfig{Model: "test", Dimension: dimension, Distance: distance})
}

func TestShapePadsShortVector(t *testing.T) {
	c := testClient(4, "l2")
	out, err := c.shape([]float64{1, 2})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []float32{1, 2, 0, 0}, out)
}

func TestShapeRejectsOversizedVector(t *testing.T) {
	c := testClient(2, "l2")
	_, err := c.shape([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestShapeRejectsEmptyVector(t *testing.T) {
	c := testClient(4, "l2")
	_, err := c.shape(nil)
	assert.Error(t, err)
}

func TestShapeNormalizesForCosine(t *testing.T) {
	c := testClient(2, "cosine")
	out, err := c.shape([]float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
}

func TestShapeDoesNotNormalizeForL2(t *testing.T) {
	c := testClient(2, "l2")
	out, err := c.shape([]float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, out[0], 1e-6)
	assert.InDelta(t, 4.0, out[1], 1e-6)
}
