package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MycelicMemory/htm/internal/errs"
)

// CreateRobot registers a new agent identity. Name must be unique.
func (s *Store) CreateRobot(ctx context.Context, name string, metadata map[string]any) (*Robot, error) {
	if name == "" {
		return nil, errs.Validation("robot name must not be empty")
	}

	metaJSON, err := json.Marshal(metadataOrEmpty(metadata))
	if err != nil {
		return nil, errs.Internal("marshal robot metadata", err)
	}

	externalID := uuid.New().String()
	var r Robot
	err = s.pool.QueryRow(ctx, `
		INSERT INTO robots (external_id, name, metadata)
		VALUES ($1, $2, $3)
		RETURNING id, external_id, name, metadata, created_at
	`, externalID, name, metaJSON).Scan(&r.ID, &r.ExternalID, &r.Name, &metaJSON, &r.CreatedAt)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return nil, errs.Conflict("robot name %q already exists", name, err)
		}
		return nil, errs.Internal("create robot", err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &r.Metadata)
	}
	return &r, nil
}

// GetRobotByName looks up a robot by its unique name.
func (s *Store) GetRobotByName(ctx context.Context, name string) (*Robot, error) {
	var r Robot
	var metaJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, external_id, name, metadata, created_at FROM robots WHERE name = $1
	`, name).Scan(&r.ID, &r.ExternalID, &r.Name, &metaJSON, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("robot %q not found", name)
	}
	if err != nil {
		return nil, errs.Internal("get robot", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, errs.Internal("unmarshal robot metadata", err)
		}
	}
	return &r, nil
}

// RobotsForNode returns every robot that has remembered the given node
// (excluding soft-deleted RobotNode links), along with their per-robot
// RobotNode provenance.
func (s *Store) RobotsForNode(ctx context.Context, nodeID int64) ([]RobotNode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, robot_id, node_id, remember_count, first_remembered_at, last_remembered_at, working_memory, deleted_at
		FROM robot_nodes WHERE node_id = $1 AND deleted_at IS NULL
	`, nodeID)
	if err != nil {
		return nil, errs.Internal("query robot nodes", err)
	}
	defer rows.Close()

	var links []RobotNode
	for rows.Next() {
		var rn RobotNode
		if err := rows.Scan(&rn.ID, &rn.RobotID, &rn.NodeID, &rn.RememberCount,
			&rn.FirstRememberedAt, &rn.LastRememberedAt, &rn.WorkingMemory, &rn.DeletedAt); err != nil {
			return nil, errs.Internal("scan robot node", err)
		}
		links = append(links, rn)
	}
	return links, rows.Err()
}

// SetWorkingMemoryFlag updates the working_memory flag on a RobotNode link,
// called when the in-process working-memory cache admits or evicts a node.
func (s *Store) SetWorkingMemoryFlag(ctx context.Context, robotID, nodeID int64, inWorkingMemory bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE robot_nodes SET working_memory = $1 WHERE robot_id = $2 AND node_id = $3
	`, inWorkingMemory, robotID, nodeID)
	if err != nil {
		return errs.Internal("set working memory flag", err)
	}
	return nil
}

// WorkingMemoryNodeIDs returns the node ids robotID's RobotNode links
// currently mark as held in working memory, the authoritative set a group
// member's local cache reconciles against.
func (s *Store) WorkingMemoryNodeIDs(ctx context.Context, robotID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id FROM robot_nodes
		WHERE robot_id = $1 AND working_memory = true AND deleted_at IS NULL
	`, robotID)
	if err != nil {
		return nil, errs.Internal("query working memory node ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Internal("scan working memory node id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRobot removes only the robot's RobotNode links and the Robot row
// itself; nodes are logically shared and are never owned by one robot.
func (s *Store) DeleteRobot(ctx context.Context, robotID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM robot_nodes WHERE robot_id = $1`, robotID); err != nil {
			return errs.Internal("delete robot nodes", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM robots WHERE id = $1`, robotID)
		if err != nil {
			return errs.Internal("delete robot", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.NotFound("robot %d not found", robotID)
		}
		return nil
	})
}
