package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/MycelicMemory/htm/internal/errs"
)

const maxContentBytes = 1 << 20 // 1 MB

// CreateNode persists content against robotID, coalescing on content_hash
// per the dedup contract: an existing non-deleted row bumps RobotNode
// provenance and returns its id; a soft-deleted row is restored; otherwise
// a new row is inserted with embedding left null for the enrichment
// pipeline to fill in later.
func (s *Store) CreateNode(ctx context.Context, content string, tokenCount int, metadata map[string]any, robotID int64) (int64, error) {
	if len(content) == 0 {
		return 0, errs.Validation("content must not be empty")
	}
	if len(content) > maxContentBytes {
		return 0, errs.Validation("content exceeds maximum size of %d bytes", maxContentBytes)
	}

	hash := contentHash(content)

	var nodeID int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var existingID int64
		var deletedAt *time.Time
		err := tx.QueryRow(ctx,
			`SELECT id, deleted_at FROM nodes WHERE content_hash = $1`, hash,
		).Scan(&existingID, &deletedAt)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			metaJSON, mErr := json.Marshal(metadataOrEmpty(metadata))
			if mErr != nil {
				return errs.Internal("marshal metadata", mErr)
			}
			if err := tx.QueryRow(ctx,
				`INSERT INTO nodes (content, content_hash, token_count, metadata)
				 VALUES ($1, $2, $3, $4) RETURNING id`,
				content, hash, tokenCount, metaJSON,
			).Scan(&nodeID); err != nil {
				return errs.Internal("insert node", err)
			}
		case err != nil:
			return errs.Internal("lookup content hash", err)
		case deletedAt != nil:
			if _, err := tx.Exec(ctx,
				`UPDATE nodes SET deleted_at = NULL, updated_at = now() WHERE id = $1`, existingID,
			); err != nil {
				return errs.Internal("restore node", err)
			}
			nodeID = existingID
		default:
			nodeID = existingID
		}

		return s.linkRobotNodeTx(ctx, tx, robotID, nodeID)
	})
	if err != nil {
		return 0, err
	}
	return nodeID, nil
}

// linkRobotNodeTx inserts or bumps the RobotNode provenance row for
// (robotID, nodeID) within an existing transaction.
func (s *Store) linkRobotNodeTx(ctx context.Context, tx pgx.Tx, robotID, nodeID int64) error {
	if robotID == 0 {
		return nil // anonymous write (e.g. LoadExternalContent with no robot context)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO robot_nodes (robot_id, node_id, remember_count, first_remembered_at, last_remembered_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (robot_id, node_id) DO UPDATE SET
			remember_count = robot_nodes.remember_count + 1,
			last_remembered_at = now(),
			deleted_at = NULL
	`, robotID, nodeID)
	if err != nil {
		return errs.Internal("link robot node", err)
	}
	return nil
}

// GetNode returns the node or errs.NotFound. Soft-deleted rows are hidden
// unless includeDeleted is true.
func (s *Store) GetNode(ctx context.Context, id int64, includeDeleted bool) (*Node, error) {
	query := `SELECT id, content, content_hash, token_count, embedding, embedding_dimension,
		metadata, source_id, chunk_position, created_at, updated_at, last_accessed, deleted_at
		FROM nodes WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	node, err := s.scanNode(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("node %d not found", id)
	}
	if err != nil {
		return nil, errs.Internal("get node", err)
	}
	return node, nil
}

// FindByContentHash looks up a node by its content hash.
func (s *Store) FindByContentHash(ctx context.Context, hash string, includeDeleted bool) (*Node, error) {
	query := `SELECT id, content, content_hash, token_count, embedding, embedding_dimension,
		metadata, source_id, chunk_position, created_at, updated_at, last_accessed, deleted_at
		FROM nodes WHERE content_hash = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	node, err := s.scanNode(s.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("node with content hash %s not found", hash)
	}
	if err != nil {
		return nil, errs.Internal("find by content hash", err)
	}
	return node, nil
}

// SoftDelete sets deleted_at on the node and cascades to its NodeTag and
// RobotNode links.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE nodes SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return errs.Internal("soft delete node", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.NotFound("node %d not found or already deleted", id)
		}
		if _, err := tx.Exec(ctx, `UPDATE node_tags SET deleted_at = now() WHERE node_id = $1 AND deleted_at IS NULL`, id); err != nil {
			return errs.Internal("cascade soft delete node_tags", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE robot_nodes SET deleted_at = now() WHERE node_id = $1 AND deleted_at IS NULL`, id); err != nil {
			return errs.Internal("cascade soft delete robot_nodes", err)
		}
		return nil
	})
}

// Restore clears deleted_at on the node and its cascaded links.
func (s *Store) Restore(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE nodes SET deleted_at = NULL WHERE id = $1 AND deleted_at IS NOT NULL`, id)
		if err != nil {
			return errs.Internal("restore node", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.NotFound("node %d not found or not deleted", id)
		}
		if _, err := tx.Exec(ctx, `UPDATE node_tags SET deleted_at = NULL WHERE node_id = $1`, id); err != nil {
			return errs.Internal("cascade restore node_tags", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE robot_nodes SET deleted_at = NULL WHERE node_id = $1`, id); err != nil {
			return errs.Internal("cascade restore robot_nodes", err)
		}
		return nil
	})
}

// HardDelete physically removes the node and its link rows. Requires an
// explicit non-empty confirm token; tags themselves are never touched
// (shared ontology, never garbage-collected).
func (s *Store) HardDelete(ctx context.Context, id int64, confirm string) error {
	if confirm == "" {
		return errs.Validation("hard delete requires an explicit confirmation token")
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM node_tags WHERE node_id = $1`, id); err != nil {
			return errs.Internal("delete node_tags", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM robot_nodes WHERE node_id = $1`, id); err != nil {
			return errs.Internal("delete robot_nodes", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
		if err != nil {
			return errs.Internal("delete node", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.NotFound("node %d not found", id)
		}
		return nil
	})
}

// UpdateEmbedding writes the node's embedding vector and its recorded
// dimension. Validates the vector length against the 2000-dimension cap.
// Idempotent.
func (s *Store) UpdateEmbedding(ctx context.Context, id int64, vector []float32) error {
	if len(vector) == 0 || len(vector) > 2000 {
		return errs.Validation("embedding dimension must be between 1 and 2000, got %d", len(vector))
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE nodes SET embedding = $1, embedding_dimension = $2, updated_at = now() WHERE id = $3`,
		pgvector.NewVector(vector), len(vector), id,
	)
	if err != nil {
		return errs.Internal("update embedding", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("node %d not found", id)
	}
	return nil
}

// LinkSource records that node id originated as chunk position of sourceID,
// used by external content loaders after the chunk's node row already
// exists (dedup may have resolved it to a node another source also claims,
// in which case the earlier linkage wins and this call is a no-op on a
// foreign-key level since source_id/chunk_position are nullable metadata,
// not an ownership constraint).
func (s *Store) LinkSource(ctx context.Context, nodeID, sourceID int64, position int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE nodes SET source_id = $1, chunk_position = $2, updated_at = now() WHERE id = $3 AND source_id IS NULL`,
		sourceID, position, nodeID,
	)
	if err != nil {
		return errs.Internal("link node source", err)
	}
	return nil
}

// TouchLastAccessed bumps last_accessed to now for every id in ids. Used by
// the retrieval engine's recall side effect.
func (s *Store) TouchLastAccessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE nodes SET last_accessed = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return errs.Internal("touch last_accessed", err)
	}
	return nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanNode(row rowScanner) (*Node, error) {
	var n Node
	var metaJSON []byte
	var embedding *pgvector.Vector

	if err := row.Scan(
		&n.ID, &n.Content, &n.ContentHash, &n.TokenCount, &embedding, &n.EmbeddingDimension,
		&metaJSON, &n.SourceID, &n.ChunkPosition, &n.CreatedAt, &n.UpdatedAt, &n.LastAccessed, &n.DeletedAt,
	); err != nil {
		return nil, err
	}

	if embedding != nil {
		n.Embedding = embedding.Slice()
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &n.Metadata); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any returned error.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.ResourceUnavailable("acquire transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.Internal("commit transaction", err)
	}
	return nil
}
