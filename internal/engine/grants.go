package engine

import (
	"context"
	"database/sql"
	"fmt"

	"tracker/internal/apperr"
	"tracker/internal/domain"
)

// EnsureUser creates the user row on first sight and returns it. Repeated
// calls are idempotent; an existing row keeps its name and admin flag.
func (e Engine) EnsureUser(ctx context.Context, id, name string) (domain.User, error) {
	if id == "" {
		return domain.User{}, fmt.Errorf("user id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, id, name, e.timestamp()); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, id)
}

// SetUserAdmin toggles the admin override. Admins resolve to read-write on
// every target and bypass transition gating.
func (e Engine) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetUserAdmin(ctx, tx, id, admin); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateGroup creates a group. A nil project makes it global: its grants and
// transition edges apply regardless of the issue's project.
func (e Engine) CreateGroup(ctx context.Context, name string, projectID *string) (domain.Group, error) {
	if name == "" {
		return domain.Group{}, fmt.Errorf("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Group{}, err
	}
	defer tx.Rollback()
	g := domain.Group{ID: newID(), Name: name, ProjectID: projectID}
	if err := e.Repo.InsertGroup(ctx, tx, g); err != nil {
		return domain.Group{}, fmt.Errorf("insert group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

func (e Engine) AddGroupMember(ctx context.Context, groupID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := e.Repo.AddGroupMember(ctx, tx, groupID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveGroupMember(ctx, tx, groupID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRoleGrant stores one role grant on a target. Setting the none level
// deletes the row; absence and none are the same thing.
func (e Engine) SetRoleGrant(ctx context.Context, kind domain.TargetKind, targetID string, role domain.SystemRole, level domain.PermissionLevel) error {
	switch role {
	case domain.RoleAnyone, domain.RoleAuthor, domain.RoleResponsible:
	default:
		return fmt.Errorf("unknown system role %s", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.checkGrantTarget(ctx, tx, kind, targetID); err != nil {
		return err
	}
	if level == domain.PermissionNone {
		if err := e.Repo.DeleteRoleGrant(ctx, tx, kind, targetID, role); err != nil {
			return err
		}
		return tx.Commit()
	}
	if err := e.Repo.UpsertRoleGrant(ctx, tx, domain.RoleGrant{
		TargetKind: kind,
		TargetID:   targetID,
		Role:       role,
		Level:      level,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveRoleGrant(ctx context.Context, kind domain.TargetKind, targetID string, role domain.SystemRole) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRoleGrant(ctx, tx, kind, targetID, role); err != nil {
		return err
	}
	return tx.Commit()
}

// SetGroupGrant stores one group grant on a target, with the same
// none-deletes convention as role grants.
func (e Engine) SetGroupGrant(ctx context.Context, kind domain.TargetKind, targetID, groupID string, level domain.PermissionLevel) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.checkGrantTarget(ctx, tx, kind, targetID); err != nil {
		return err
	}
	if _, err := e.Repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if level == domain.PermissionNone {
		if err := e.Repo.DeleteGroupGrant(ctx, tx, kind, targetID, groupID); err != nil {
			return err
		}
		return tx.Commit()
	}
	if err := e.Repo.UpsertGroupGrant(ctx, tx, domain.GroupGrant{
		TargetKind: kind,
		TargetID:   targetID,
		GroupID:    groupID,
		Level:      level,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveGroupGrant(ctx context.Context, kind domain.TargetKind, targetID, groupID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteGroupGrant(ctx, tx, kind, targetID, groupID); err != nil {
		return err
	}
	return tx.Commit()
}

// checkGrantTarget verifies the grant's target row exists for its kind.
func (e Engine) checkGrantTarget(ctx context.Context, tx *sql.Tx, kind domain.TargetKind, targetID string) error {
	switch kind {
	case domain.TargetTemplate:
		_, err := e.Repo.GetTemplateTx(ctx, tx, targetID)
		return err
	case domain.TargetState:
		_, err := e.Repo.GetStateTx(ctx, tx, targetID)
		return err
	case domain.TargetField:
		_, err := e.Repo.GetFieldTx(ctx, tx, targetID)
		return err
	default:
		return apperr.ConfigurationError{Field: string(kind), Reason: "unknown grant target kind"}
	}
}
