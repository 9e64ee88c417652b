// Package store is the persistence layer: durable storage of nodes, tags,
// and their links, with the invariants of content-hash dedup, soft delete,
// and tag ancestor-closure enforced at the repository boundary.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MycelicMemory/htm/internal/logging"
)

var log = logging.GetLogger("store")

// Store owns the connection pool and exposes the node/tag/robot repository
// methods. It is safe for concurrent use; pgxpool.Pool itself is.
type Store struct {
	pool *pgxpool.Pool
}

// Config configures pool construction. Mirrors pkg/config.DatabaseConfig but
// kept separate so store does not import the config package directly.
type Config struct {
	DSN            string
	PoolSize       int32
	AcquireTimeout time.Duration
}

// Open establishes the connection pool and verifies connectivity. It does
// not run schema migrations; call InitSchema explicitly.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	log.Info("opening store", "pool_size", cfg.PoolSize)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolCfg.MaxConns = cfg.PoolSize
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.MaxConnLifetime = time.Hour
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("store opened")
	return &Store{pool: pool}, nil
}

// InitSchema creates every table, index, and extension this package depends
// on. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	log.Info("initializing schema", "version", SchemaVersion)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, CoreSchema); err != nil {
		return fmt.Errorf("create core schema: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`,
		SchemaVersion,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	log.Info("schema initialized")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	log.Info("closing store")
	s.pool.Close()
}

// Pool exposes the underlying pool for the group package's dedicated
// LISTEN connection, which needs to acquire and hold a single connection
// outside the pool's normal borrow/return cycle.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// PoolStats summarizes connection-pool utilization for health checks.
type PoolStats struct {
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
}

// Stats returns current pool utilization.
func (s *Store) Stats() PoolStats {
	st := s.pool.Stat()
	return PoolStats{
		TotalConns:    st.TotalConns(),
		IdleConns:     st.IdleConns(),
		AcquiredConns: st.AcquiredConns(),
	}
}

// Utilization returns the fraction of the pool currently acquired, in [0,1].
func (p PoolStats) Utilization() float64 {
	if p.TotalConns == 0 {
		return 0
	}
	return float64(p.AcquiredConns) / float64(p.TotalConns)
}
