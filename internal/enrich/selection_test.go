package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MycelicMemory/htm/pkg/config"
)

type noopExecutor struct{ calls int }

func (n *noopExecutor) Execute(_ context.Context, _ JobKind, _ int64) error {
	n.calls++
	return nil
}

type fakeBrokerClient struct{ published int }

func (f *fakeBrokerClient) Publish(_ context.Context, _ string, _ []byte) error {
	f.published++
	return nil
}

func TestSelectExplicitInline(t *testing.T) {
	exec := &noopExecutor{}
	q := Select("inline", config.JobBackendConfig{}, Backends{Executor: exec})
	_, ok := q.(*InlineBackend)
	require.True(t, ok)
}

func TestSelectTestOverrideWinsOverAutoDefault(t *testing.T) {
	exec := &noopExecutor{}
	q := Select("auto", config.JobBackendConfig{PoolSize: 2}, Backends{Executor: exec, TestOverride: true})
	_, ok := q.(*InlineBackend)
	require.True(t, ok)
}

func TestSelectAutoFallsBackToPoolWithNoStoreOrBroker(t *testing.T) {
	exec := &noopExecutor{}
	q := Select("auto", config.JobBackendConfig{PoolSize: 2}, Backends{Executor: exec})
	pb, ok := q.(*PoolBackend)
	require.True(t, ok)
	pb.Shutdown()
}

func TestSelectAutoPrefersBrokerOverPoolWhenNoQueueTable(t *testing.T) {
	exec := &noopExecutor{}
	broker := &fakeBrokerClient{}
	q := Select("auto", config.JobBackendConfig{PoolSize: 2}, Backends{Executor: exec, Broker: broker})
	_, ok := q.(*BrokerBackend)
	assert.True(t, ok)
}

func TestSelectQueueAFallsBackWhenNoBroker(t *testing.T) {
	exec := &noopExecutor{}
	q := Select("queue_a", config.JobBackendConfig{PoolSize: 2}, Backends{Executor: exec})
	pb, ok := q.(*PoolBackend)
	require.True(t, ok)
	pb.Shutdown()
}
