package repo

import (
	"context"
	"database/sql"
	"strings"

	"tracker/internal/domain"
)

// --- users and groups ---

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, id, name string, now string) error {
	if name == "" {
		name = id
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, name, admin, created_at) VALUES (?,?,0,?)`, id, name, now)
	return err
}

func (r Repo) SetUserAdmin(ctx context.Context, tx *sql.Tx, id string, admin bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET admin=? WHERE id=?`, admin, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,admin FROM users WHERE id=?`, id).Scan(&u.ID, &u.Name, &u.Admin)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var admin bool
	err := r.DB.QueryRowContext(ctx, `SELECT admin FROM users WHERE id=?`, userID).Scan(&admin)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return admin, err
}

func (r Repo) InsertGroup(ctx context.Context, tx *sql.Tx, g domain.Group) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO groups(id,project_id,name) VALUES (?,?,?)`,
		g.ID, nullableStringPtr(g.ProjectID), g.Name)
	return err
}

func (r Repo) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	var g domain.Group
	var project sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name FROM groups WHERE id=?`, id).Scan(&g.ID, &project, &g.Name)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if project.Valid {
		g.ProjectID = &project.String
	}
	return g, nil
}

func (r Repo) AddGroupMember(ctx context.Context, tx *sql.Tx, groupID, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id, user_id) VALUES (?,?)`, groupID, userID)
	return err
}

func (r Repo) RemoveGroupMember(ctx context.Context, tx *sql.Tx, groupID, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=? AND user_id=?`, groupID, userID)
	return err
}

// --- permission grants ---

func (r Repo) UpsertRoleGrant(ctx context.Context, tx *sql.Tx, g domain.RoleGrant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO role_grants(target_kind,target_id,role,level) VALUES (?,?,?,?)
ON CONFLICT(target_kind,target_id,role) DO UPDATE SET level=excluded.level`,
		string(g.TargetKind), g.TargetID, string(g.Role), g.Level.String())
	return err
}

func (r Repo) DeleteRoleGrant(ctx context.Context, tx *sql.Tx, kind domain.TargetKind, targetID string, role domain.SystemRole) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM role_grants WHERE target_kind=? AND target_id=? AND role=?`,
		string(kind), targetID, string(role))
	return err
}

func (r Repo) UpsertGroupGrant(ctx context.Context, tx *sql.Tx, g domain.GroupGrant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO group_grants(target_kind,target_id,group_id,level) VALUES (?,?,?,?)
ON CONFLICT(target_kind,target_id,group_id) DO UPDATE SET level=excluded.level`,
		string(g.TargetKind), g.TargetID, g.GroupID, g.Level.String())
	return err
}

func (r Repo) DeleteGroupGrant(ctx context.Context, tx *sql.Tx, kind domain.TargetKind, targetID, groupID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM group_grants WHERE target_kind=? AND target_id=? AND group_id=?`,
		string(kind), targetID, groupID)
	return err
}

// RoleGrantLevels returns the stored levels for the given roles on a target.
func (r Repo) RoleGrantLevels(ctx context.Context, kind domain.TargetKind, targetID string, roles []domain.SystemRole) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roles)), ",")
	args := []any{string(kind), targetID}
	for _, role := range roles {
		args = append(args, string(role))
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT level FROM role_grants WHERE target_kind=? AND target_id=? AND role IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []string
	for rows.Next() {
		var level string
		if err := rows.Scan(&level); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// GroupGrantLevels returns levels granted through the user's groups,
// honoring group scoping: a project-local group only applies when the issue
// context carries the same project.
func (r Repo) GroupGrantLevels(ctx context.Context, kind domain.TargetKind, targetID, userID string, projectID *string) ([]string, error) {
	query := `
SELECT gg.level
FROM group_grants gg
JOIN groups g ON g.id=gg.group_id
JOIN group_members gm ON gm.group_id=gg.group_id
WHERE gg.target_kind=? AND gg.target_id=? AND gm.user_id=?
  AND (g.project_id IS NULL OR g.project_id=?)`
	rows, err := r.DB.QueryContext(ctx, query, string(kind), targetID, userID, nullableStringPtr(projectID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []string
	for rows.Next() {
		var level string
		if err := rows.Scan(&level); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// --- transition edges ---

func (r Repo) ListRoleTransitionGrantees(ctx context.Context, tx *sql.Tx, fromID, toID string) ([]domain.SystemRole, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role FROM state_role_transitions WHERE from_state_id=? AND to_state_id=?`, fromID, toID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []domain.SystemRole
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, domain.SystemRole(role))
	}
	return roles, rows.Err()
}

func (r Repo) InsertRoleTransition(ctx context.Context, tx *sql.Tx, fromID, toID string, role domain.SystemRole) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO state_role_transitions(from_state_id,to_state_id,role) VALUES (?,?,?)`,
		fromID, toID, string(role))
	return err
}

func (r Repo) DeleteRoleTransition(ctx context.Context, tx *sql.Tx, fromID, toID string, role domain.SystemRole) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM state_role_transitions WHERE from_state_id=? AND to_state_id=? AND role=?`,
		fromID, toID, string(role))
	return err
}

func (r Repo) ListGroupTransitionGrantees(ctx context.Context, tx *sql.Tx, fromID, toID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT group_id FROM state_group_transitions WHERE from_state_id=? AND to_state_id=?`, fromID, toID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

func (r Repo) InsertGroupTransition(ctx context.Context, tx *sql.Tx, fromID, toID, groupID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO state_group_transitions(from_state_id,to_state_id,group_id) VALUES (?,?,?)`,
		fromID, toID, groupID)
	return err
}

func (r Repo) DeleteGroupTransition(ctx context.Context, tx *sql.Tx, fromID, toID, groupID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM state_group_transitions WHERE from_state_id=? AND to_state_id=? AND group_id=?`,
		fromID, toID, groupID)
	return err
}

// RoleTransitionAllowed checks for an edge whose role matches any of the
// actor's applicable system roles.
func (r Repo) RoleTransitionAllowed(ctx context.Context, tx *sql.Tx, fromID, toID string, roles []domain.SystemRole) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roles)), ",")
	args := []any{fromID, toID}
	for _, role := range roles {
		args = append(args, string(role))
	}
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM state_role_transitions WHERE from_state_id=? AND to_state_id=? AND role IN (`+placeholders+`) LIMIT 1`,
		args...).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// GroupTransitionAllowed checks for an edge attached to any group the actor
// belongs to, with the same project scoping as group grants.
func (r Repo) GroupTransitionAllowed(ctx context.Context, tx *sql.Tx, fromID, toID, userID string, projectID *string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
SELECT 1
FROM state_group_transitions st
JOIN groups g ON g.id=st.group_id
JOIN group_members gm ON gm.group_id=st.group_id
WHERE st.from_state_id=? AND st.to_state_id=? AND gm.user_id=?
  AND (g.project_id IS NULL OR g.project_id=?)
LIMIT 1`, fromID, toID, userID, nullableStringPtr(projectID)).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
