package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MycelicMemory/htm/internal/errs"
)

// CreateOrUpdateFileSource upserts the file-source linkage row a file
// loader collaborator writes before calling Memory.LoadExternalContent.
// The loader's own chunking/frontmatter logic is out of scope; this is
// only the collaborator boundary record named in the data model.
func (s *Store) CreateOrUpdateFileSource(ctx context.Context, filePath, fileHash string, mtime *time.Time, fileSize *int64, frontmatter map[string]any) (int64, error) {
	if filePath == "" {
		return 0, errs.Validation("file_path must not be empty")
	}

	fmJSON, err := json.Marshal(metadataOrEmpty(frontmatter))
	if err != nil {
		return 0, errs.Internal("marshal frontmatter", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO file_sources (file_path, file_hash, mtime, file_size, frontmatter, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (file_path) DO UPDATE SET
			file_hash = EXCLUDED.file_hash,
			mtime = EXCLUDED.mtime,
			file_size = EXCLUDED.file_size,
			frontmatter = EXCLUDED.frontmatter,
			last_synced_at = now()
		RETURNING id
	`, filePath, fileHash, mtime, fileSize, fmJSON).Scan(&id)
	if err != nil {
		return 0, errs.Internal("upsert file source", err)
	}
	return id, nil
}

// GetFileSource looks up a file source by id.
func (s *Store) GetFileSource(ctx context.Context, id int64) (*FileSource, error) {
	var fs FileSource
	var fmJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, file_path, file_hash, mtime, file_size, frontmatter, last_synced_at
		FROM file_sources WHERE id = $1
	`, id).Scan(&fs.ID, &fs.FilePath, &fs.FileHash, &fs.MTime, &fs.FileSize, &fmJSON, &fs.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("file source %d not found", id)
	}
	if err != nil {
		return nil, errs.Internal("get file source", err)
	}
	if len(fmJSON) > 0 {
		if err := json.Unmarshal(fmJSON, &fs.Frontmatter); err != nil {
			return nil, errs.Internal("unmarshal frontmatter", err)
		}
	}
	return &fs, nil
}

// CreateNodeFromSource persists a chunk of external content linked back to
// sourceID at the given chunk_position, applying the same dedup/soft-delete
// coalescing rules as CreateNode.
func (s *Store) CreateNodeFromSource(ctx context.Context, content string, tokenCount int, sourceID int64, chunkPosition int) (int64, error) {
	if len(content) == 0 {
		return 0, errs.Validation("content must not be empty")
	}
	hash := contentHash(content)

	var nodeID int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var existingID int64
		var deletedAt *time.Time
		err := tx.QueryRow(ctx, `SELECT id, deleted_at FROM nodes WHERE content_hash = $1`, hash).Scan(&existingID, &deletedAt)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if err := tx.QueryRow(ctx, `
				INSERT INTO nodes (content, content_hash, token_count, metadata, source_id, chunk_position)
				VALUES ($1, $2, $3, '{}'::jsonb, $4, $5) RETURNING id
			`, content, hash, tokenCount, sourceID, chunkPosition).Scan(&nodeID); err != nil {
				return errs.Internal("insert source node", err)
			}
		case err != nil:
			return errs.Internal("lookup content hash", err)
		case deletedAt != nil:
			if _, err := tx.Exec(ctx, `UPDATE nodes SET deleted_at = NULL, updated_at = now() WHERE id = $1`, existingID); err != nil {
				return errs.Internal("restore source node", err)
			}
			nodeID = existingID
		default:
			nodeID = existingID
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nodeID, nil
}
