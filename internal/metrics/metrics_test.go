package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorRegistersEveryMetric(t *testing.T) {
	c := NewCollector("htm_test")
	require.NotNil(t, c.Registry())

	c.JobsTotal.WithLabelValues("embedding", "done").Inc()
	c.CacheOpsTotal.WithLabelValues("evict").Inc()
	c.CircuitBreakerState.WithLabelValues("embedding").Set(BreakerOpen)
	c.WorkingMemoryUtil.WithLabelValues("7").Set(0.5)
	c.ChannelNotifsTotal.WithLabelValues("squad").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.JobsTotal.WithLabelValues("embedding", "done")))
	assert.Equal(t, float64(BreakerOpen), testutil.ToFloat64(c.CircuitBreakerState.WithLabelValues("embedding")))
}

func TestDefaultReturnsSameInstanceUntilReset(t *testing.T) {
	ResetDefaultForTesting()
	a := Default()
	b := Default()
	assert.Same(t, a, b)
	ResetDefaultForTesting()
	c := Default()
	assert.NotSame(t, a, c)
}
