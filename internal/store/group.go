package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/MycelicMemory/htm/internal/errs"
)

// CreateGroup registers a new robot group. Name must be unique.
func (s *Store) CreateGroup(ctx context.Context, name string, maxTokens int) (*RobotGroup, error) {
	if name == "" {
		return nil, errs.Validation("group name must not be empty")
	}
	var g RobotGroup
	err := s.pool.QueryRow(ctx, `
		INSERT INTO robot_groups (name, max_tokens)
		VALUES ($1, $2)
		RETURNING id, name, max_tokens, created_at
	`, name, maxTokens).Scan(&g.ID, &g.Name, &g.MaxTokens, &g.CreatedAt)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return nil, errs.Conflict("group %q already exists", name, err)
		}
		return nil, errs.Internal("create group", err)
	}
	return &g, nil
}

// GetGroupByName looks up a group by its unique name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (*RobotGroup, error) {
	var g RobotGroup
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, max_tokens, created_at FROM robot_groups WHERE name = $1
	`, name).Scan(&g.ID, &g.Name, &g.MaxTokens, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("group %q not found", name)
	}
	if err != nil {
		return nil, errs.Internal("get group", err)
	}
	return &g, nil
}

// ListGroupMembers returns every member of groupID, active first, each set
// ordered by position.
func (s *Store) ListGroupMembers(ctx context.Context, groupID int64) ([]RobotGroupMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, robot_id, role, position FROM robot_group_members
		WHERE group_id = $1 ORDER BY role ASC, position ASC
	`, groupID)
	if err != nil {
		return nil, errs.Internal("query group members", err)
	}
	defer rows.Close()

	var members []RobotGroupMember
	for rows.Next() {
		var m RobotGroupMember
		if err := rows.Scan(&m.ID, &m.GroupID, &m.RobotID, &m.Role, &m.Position); err != nil {
			return nil, errs.Internal("scan group member", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddGroupMember inserts robotID into groupID with the given role, placed
// after the existing members of that role. Re-adding an existing member
// updates its role and leaves its position unchanged.
func (s *Store) AddGroupMember(ctx context.Context, groupID, robotID int64, role string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var nextPos int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(position), -1) + 1 FROM robot_group_members
			WHERE group_id = $1 AND role = $2
		`, groupID, role).Scan(&nextPos); err != nil {
			return errs.Internal("compute member position", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO robot_group_members (group_id, robot_id, role, position)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (group_id, robot_id) DO UPDATE SET role = $3
		`, groupID, robotID, role, nextPos)
		if err != nil {
			return errs.Internal("add group member", err)
		}
		return nil
	})
}

// RemoveGroupMember drops robotID from groupID entirely.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, robotID int64) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM robot_group_members WHERE group_id = $1 AND robot_id = $2
	`, groupID, robotID)
	if err != nil {
		return errs.Internal("remove group member", err)
	}
	return nil
}

// SetMemberRole updates robotID's role and position within groupID, used by
// Failover to promote a passive robot. AddActive/AddPassive go through
// AddGroupMember instead.
func (s *Store) SetMemberRole(ctx context.Context, groupID, robotID int64, role string, position int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE robot_group_members SET role = $1, position = $2
		WHERE group_id = $3 AND robot_id = $4
	`, role, position, groupID, robotID)
	if err != nil {
		return errs.Internal("set member role", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("robot %d is not a member of group %d", robotID, groupID)
	}
	return nil
}
