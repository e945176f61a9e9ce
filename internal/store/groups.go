package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PutGroup inserts or updates a group and replaces its member list in one
// transaction. Member order is preserved.
func (s *Store) PutGroup(ctx context.Context, g Group) error {
	if g.ID == "" {
		return errors.New("store: group id is required")
	}
	if g.Name == "" {
		return errors.New("store: group name is required")
	}
	if _, ok := ParseCriteriaType(string(g.Criteria)); !ok {
		return fmt.Errorf("store: unknown criteria type %q", g.Criteria)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}
	defer tx.Rollback()

	enabled := 0
	if g.Enabled {
		enabled = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, criteria_type, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name          = excluded.name,
			description   = excluded.description,
			criteria_type = excluded.criteria_type,
			enabled       = excluded.enabled`,
		g.ID, g.Name, g.Description, string(g.Criteria), enabled)
	if err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_agents WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("clear members of %s: %w", g.ID, err)
	}
	for i, agentID := range g.AgentIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO group_agents (group_id, agent_id, position) VALUES (?, ?, ?)`,
			g.ID, agentID, i)
		if err != nil {
			return fmt.Errorf("add member %s to %s: %w", agentID, g.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}
	return nil
}

// Group returns one group by id with its ordered member list.
func (s *Store) Group(ctx context.Context, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, criteria_type, enabled
		FROM groups WHERE id = ?`, id)

	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", id, err)
	}

	if g.AgentIDs, err = s.memberIDs(ctx, id); err != nil {
		return nil, err
	}
	return g, nil
}

// Groups lists all groups with their ordered member lists.
func (s *Store) Groups(ctx context.Context) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, criteria_type, enabled
		FROM groups ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		if groups[i].AgentIDs, err = s.memberIDs(ctx, groups[i].ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// EligibleGroups returns groups that can take part in routing: enabled and
// holding at least one member.
func (s *Store) EligibleGroups(ctx context.Context) ([]Group, error) {
	all, err := s.Groups(ctx)
	if err != nil {
		return nil, err
	}

	eligible := all[:0]
	for _, g := range all {
		if g.Eligible() {
			eligible = append(eligible, g)
		}
	}
	return eligible, nil
}

// DeleteGroup removes a group and its memberships. Agents are untouched.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) memberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id FROM group_agents WHERE group_id = ? ORDER BY position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", groupID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanGroup(row scanner) (*Group, error) {
	var g Group
	var enabled int
	var criteria string
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &criteria, &enabled); err != nil {
		return nil, err
	}
	g.Criteria = CriteriaType(criteria)
	g.Enabled = enabled != 0
	return &g, nil
}
