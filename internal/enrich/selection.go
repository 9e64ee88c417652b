package enrich

import (
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MycelicMemory/htm/pkg/config"
)

// Backends bundles every concrete JobQueue an Open call might construct, so
// Select can build whichever ones auto-detection actually needs without the
// caller having to construct all four up front.
type Backends struct {
	Pool         *pgxpool.Pool
	Executor     Executor
	PoolSize     int
	Broker       BrokerClient // nil if no durable broker is configured
	TestOverride bool         // forces inline regardless of selector, e.g. under `go test`
}

// testEnvVar, when set to any non-empty value, triggers the
// test-environment override in Select's precedence chain independent of
// Backends.TestOverride (so CI can force inline without plumbing a flag
// through every call site).
const testEnvVar = "HTM_ENRICH_TEST_MODE"

// Select builds the JobQueue the selector chooses, honoring the documented
// precedence: explicit non-"auto" selector > test-environment override
// (always inline) > framework-native queue (queue_b, since Backends.Pool
// is always available once the store is open) > durable broker (queue_a,
// since deployments rarely wire one) > thread-pool default.
func Select(selector string, cfg config.JobBackendConfig, b Backends) JobQueue {
	if selector == "" {
		selector = "auto"
	}

	switch selector {
	case "inline":
		return NewInlineBackend(b.Executor)
	case "pool":
		return NewPoolBackend(b.Executor, cfg.PoolSize, cfg.PoolSize*4)
	case "queue_a":
		if b.Broker != nil {
			return NewBrokerBackend(b.Broker)
		}
	case "queue_b":
		if b.Pool != nil {
			return NewQueueBackend(b.Pool, b.Executor)
		}
	}

	if selector != "auto" {
		// Requested backend's dependency was not supplied; fall through to
		// auto-detection rather than returning nil.
		return Select("auto", cfg, b)
	}

	if b.TestOverride || os.Getenv(testEnvVar) != "" {
		return NewInlineBackend(b.Executor)
	}
	if b.Pool != nil {
		return NewQueueBackend(b.Pool, b.Executor)
	}
	if b.Broker != nil {
		return NewBrokerBackend(b.Broker)
	}
	return NewPoolBackend(b.Executor, cfg.PoolSize, cfg.PoolSize*4)
}
