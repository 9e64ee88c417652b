package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/MycelicMemory/htm/internal/errs"
)

// FullTextHit is one row of a full-text search result, ordered by the
// store's native relevance score.
type FullTextHit struct {
	Node *Node
	Rank float64
}

// SearchFullText runs a language-aware full-text search over non-deleted
// node content, optionally bounded by [since, until), ordered by relevance
// descending and capped at limit.
func (s *Store) SearchFullText(ctx context.Context, query string, since, until *time.Time, limit int) ([]FullTextHit, error) {
	if query == "" {
		return nil, errs.Validation("query must not be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	sql := `
		SELECT id, content, content_hash, token_count, embedding, embedding_dimension,
		       metadata, source_id, chunk_position, created_at, updated_at, last_accessed, deleted_at,
		       ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		FROM nodes
		WHERE deleted_at IS NULL
		  AND to_tsvector('english', content) @@ plainto_tsquery('english', $1)
	`
	args := []any{query}
	sql, args = appendTimeframe(sql, args, "created_at", since, until)
	sql += ` ORDER BY rank DESC, created_at DESC, id ASC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Internal("fulltext search", err)
	}
	defer rows.Close()

	var hits []FullTextHit
	for rows.Next() {
		var n Node
		var metaJSON []byte
		var embedding *pgvector.Vector
		var rank float64
		if err := rows.Scan(
			&n.ID, &n.Content, &n.ContentHash, &n.TokenCount, &embedding, &n.EmbeddingDimension,
			&metaJSON, &n.SourceID, &n.ChunkPosition, &n.CreatedAt, &n.UpdatedAt, &n.LastAccessed, &n.DeletedAt,
			&rank,
		); err != nil {
			return nil, errs.Internal("scan fulltext hit", err)
		}
		if embedding != nil {
			n.Embedding = embedding.Slice()
		}
		if len(metaJSON) > 0 {
			if err := unmarshalMetadata(metaJSON, &n.Metadata); err != nil {
				return nil, errs.Internal("unmarshal node metadata", err)
			}
		}
		hits = append(hits, FullTextHit{Node: &n, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Internal("iterate fulltext hits", err)
	}
	return hits, nil
}

// VectorHit is one row of a vector search result.
type VectorHit struct {
	Node     *Node
	Distance float64
}

// SearchVector runs an approximate nearest-neighbor search over non-deleted
// nodes with a non-null embedding, ordered by ascending cosine distance and
// capped at limit.
func (s *Store) SearchVector(ctx context.Context, embedding []float32, since, until *time.Time, limit int) ([]VectorHit, error) {
	if len(embedding) == 0 {
		return nil, errs.Validation("embedding must not be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	sql := `
		SELECT id, content, content_hash, token_count, embedding, embedding_dimension,
		       metadata, source_id, chunk_position, created_at, updated_at, last_accessed, deleted_at,
		       embedding <=> $1 AS distance
		FROM nodes
		WHERE deleted_at IS NULL AND embedding IS NOT NULL
	`
	args := []any{pgvector.NewVector(embedding)}
	sql, args = appendTimeframe(sql, args, "created_at", since, until)
	sql += ` ORDER BY distance ASC, created_at DESC, id ASC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Internal("vector search", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var n Node
		var metaJSON []byte
		var nodeEmbedding *pgvector.Vector
		var distance float64
		if err := rows.Scan(
			&n.ID, &n.Content, &n.ContentHash, &n.TokenCount, &nodeEmbedding, &n.EmbeddingDimension,
			&metaJSON, &n.SourceID, &n.ChunkPosition, &n.CreatedAt, &n.UpdatedAt, &n.LastAccessed, &n.DeletedAt,
			&distance,
		); err != nil {
			return nil, errs.Internal("scan vector hit", err)
		}
		if nodeEmbedding != nil {
			n.Embedding = nodeEmbedding.Slice()
		}
		if len(metaJSON) > 0 {
			if err := unmarshalMetadata(metaJSON, &n.Metadata); err != nil {
				return nil, errs.Internal("unmarshal node metadata", err)
			}
		}
		hits = append(hits, VectorHit{Node: &n, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Internal("iterate vector hits", err)
	}
	return hits, nil
}

func unmarshalMetadata(data []byte, dst *map[string]any) error {
	return json.Unmarshal(data, dst)
}

// appendTimeframe appends an optional [since, until) bound on column to sql,
// returning the extended arg list alongside it.
func appendTimeframe(sql string, args []any, column string, since, until *time.Time) (string, []any) {
	if since != nil {
		args = append(args, *since)
		sql += ` AND ` + column + ` >= $` + strconv.Itoa(len(args))
	}
	if until != nil {
		args = append(args, *until)
		sql += ` AND ` + column + ` < $` + strconv.Itoa(len(args))
	}
	return sql, args
}
