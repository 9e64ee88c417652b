package workingmemory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTouchesExistingEntryWithoutGrowingTokens(t *testing.T) {
	c := NewCache(1000)
	c.Add(1, "hello", 100, nil, false)
	c.Add(1, "hello", 100, nil, false)
	assert.Equal(t, 100, c.TokenCount())
	assert.Equal(t, 1, c.NodeCount())
}

func TestAddEvictsWhenOverBudget(t *testing.T) {
	c := NewCache(150)
	c.Add(1, "a", 100, nil, false)
	evicted := c.Add(2, "b", 100, nil, false)
	require.Len(t, evicted, 1)
	assert.Equal(t, int64(1), evicted[0])
	assert.False(t, c.Contains(1))
	assert.True(t, c.Contains(2))
	assert.LessOrEqual(t, c.TokenCount(), 150)
}

func TestAddNeverExceedsBudgetInvariant(t *testing.T) {
	c := NewCache(100)
	for i := int64(1); i <= 20; i++ {
		c.Add(i, "x", 10, nil, false)
		assert.LessOrEqual(t, c.TokenCount(), 100)
	}
}

func TestRemoveFreesTokens(t *testing.T) {
	c := NewCache(1000)
	c.Add(1, "hello", 100, nil, false)
	c.Remove(1)
	assert.Equal(t, 0, c.TokenCount())
	assert.False(t, c.Contains(1))
}

func TestUtilizationReflectsTokenCount(t *testing.T) {
	c := NewCache(200)
	c.Add(1, "hello", 50, nil, false)
	assert.InDelta(t, 0.25, c.Utilization(), 1e-9)
}

func TestEvictionPrefersLowestImportanceAndOldest(t *testing.T) {
	c := NewCache(250)
	low := 0.1
	high := 0.9
	c.Add(1, "low importance", 100, &low, false)
	c.Add(2, "high importance", 100, &high, false)
	// Adding a third entry forces an eviction; the low-importance, older
	// entry should go before the high-importance one.
	evicted := c.Add(3, "newest", 100, nil, false)
	require.Len(t, evicted, 1)
	assert.Equal(t, int64(1), evicted[0])
}

func TestAssembleContextRecentOrdersNewestFirst(t *testing.T) {
	c := NewCache(1000)
	c.Add(1, "first", 10, nil, false)
	c.Add(2, "second", 10, nil, false)
	out := c.AssembleContext(StrategyRecent, nil)
	assert.Equal(t, "second\nfirst", out)
}

func TestAssembleContextImportantOrdersHighestFirst(t *testing.T) {
	c := NewCache(1000)
	low := 0.2
	high := 0.8
	c.Add(1, "low", 10, &low, false)
	c.Add(2, "high", 10, &high, false)
	out := c.AssembleContext(StrategyImportant, nil)
	assert.Equal(t, "high\nlow", out)
}

func TestAssembleContextRespectsTokenBudget(t *testing.T) {
	c := NewCache(1000)
	c.Add(1, "first", 10, nil, false)
	c.Add(2, "second", 10, nil, false)
	budget := 10
	out := c.AssembleContext(StrategyRecent, &budget)
	assert.Equal(t, "second", out)
}

func TestAssembleContextBalancedIncludesEveryEntryOnce(t *testing.T) {
	c := NewCache(1000)
	c.Add(1, "a", 10, nil, false)
	c.Add(2, "b", 10, nil, false)
	c.Add(3, "c", 10, nil, false)
	out := c.AssembleContext(StrategyBalanced, nil)
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
	assert.Contains(t, out, "c")
}
