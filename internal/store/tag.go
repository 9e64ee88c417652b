package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/MycelicMemory/htm/internal/errs"
)

// AttachTags links nodeID to every name in tagNames, finding-or-creating
// each Tag row, and materializes every ancestor prefix of every name so the
// ancestor-closure invariant holds: linking a node to "a:b:c" also links it
// to "a" and "a:b". Duplicates (repeat names, names already linked) are
// silently coalesced. Runs in a single transaction.
func (s *Store) AttachTags(ctx context.Context, nodeID int64, tagNames []string) error {
	if len(tagNames) == 0 {
		return nil
	}

	required := make(map[string]struct{})
	for _, name := range tagNames {
		if !validTagName(name) {
			return errs.Validation("invalid tag name %q", name)
		}
		required[name] = struct{}{}
		for _, ancestor := range tagAncestors(name) {
			required[ancestor] = struct{}{}
		}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		for name := range required {
			tagID, err := findOrCreateTagTx(ctx, tx, name)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO node_tags (node_id, tag_id)
				VALUES ($1, $2)
				ON CONFLICT (node_id, tag_id) DO UPDATE SET deleted_at = NULL
			`, nodeID, tagID); err != nil {
				return errs.Internal("link node tag", err)
			}
		}
		return nil
	})
}

// findOrCreateTagTx finds the Tag row by name or creates it, returning its
// id. Uses a transactional upsert so concurrent ancestor materialization
// does not race (the unique index on tags.name is the arbiter).
func findOrCreateTagTx(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM tags WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.Internal("lookup tag %q", name, err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO tags (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, errs.Internal("create tag %q", name, err)
	}
	return id, nil
}

// TagsForNode returns the non-deleted tag names linked to a node.
func (s *Store) TagsForNode(ctx context.Context, nodeID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.name FROM tags t
		JOIN node_tags nt ON nt.tag_id = t.id
		WHERE nt.node_id = $1 AND nt.deleted_at IS NULL
		ORDER BY t.name
	`, nodeID)
	if err != nil {
		return nil, errs.Internal("query node tags", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Internal("scan tag name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ExistingOntology returns the most recent `limit` tag names by creation
// time, used to bias the tag-extraction provider toward ontology
// consistency (spec calls for the most recent 100).
func (s *Store) ExistingOntology(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM tags ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Internal("query ontology", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Internal("scan ontology tag", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TagsMatching returns the subset of names that exist as Tag rows, used by
// the hybrid retrieval strategy's tag-boost step (exact match against the
// store, not a fuzzy lookup).
func (s *Store) TagsMatching(ctx context.Context, names []string) (map[string]int64, error) {
	if len(names) == 0 {
		return map[string]int64{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM tags WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, errs.Internal("query matching tags", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errs.Internal("scan matching tag", err)
		}
		result[name] = id
	}
	return result, rows.Err()
}

// NodesForTags returns, for each tag id, the set of non-deleted node ids
// linked to it. Used by the hybrid strategy to compute |matched_tags| per
// candidate node without an N+1 query per node.
func (s *Store) NodesForTags(ctx context.Context, tagIDs []int64) (map[int64][]int64, error) {
	if len(tagIDs) == 0 {
		return map[int64][]int64{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tag_id, node_id FROM node_tags
		WHERE tag_id = ANY($1) AND deleted_at IS NULL
	`, tagIDs)
	if err != nil {
		return nil, errs.Internal("query nodes for tags", err)
	}
	defer rows.Close()

	result := make(map[int64][]int64)
	for rows.Next() {
		var tagID, nodeID int64
		if err := rows.Scan(&tagID, &nodeID); err != nil {
			return nil, errs.Internal("scan node-tag row", err)
		}
		result[tagID] = append(result[tagID], nodeID)
	}
	return result, rows.Err()
}
