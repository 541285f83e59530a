// Package perm implements the single permission resolver every call site
// goes through: transition authorization, field visibility, and change
// history filtering all reduce to the same role-union-group computation.
package perm

import (
	"context"

	"tracker/internal/domain"
	"tracker/internal/repo"
)

// IssueContext carries the issue-relative inputs of role applicability.
// It is optional: without one, only the anyone role applies.
type IssueContext struct {
	AuthorID      string
	ResponsibleID *string
	ProjectID     *string
}

// Resolver computes effective permission levels. It never errors for
// "no access"; absence of any grant row resolves to PermissionNone and the
// caller decides between Forbidden and silent omission.
type Resolver struct {
	Repo repo.Repo
}

// ApplicableRoles evaluates which system roles apply to the actor in the
// given issue context. anyone always applies; author and responsible
// require the matching relationship to the issue.
func ApplicableRoles(actorID string, issue *IssueContext) []domain.SystemRole {
	roles := []domain.SystemRole{domain.RoleAnyone}
	if issue == nil {
		return roles
	}
	if issue.AuthorID == actorID {
		roles = append(roles, domain.RoleAuthor)
	}
	if issue.ResponsibleID != nil && *issue.ResponsibleID == actorID {
		roles = append(roles, domain.RoleResponsible)
	}
	return roles
}

// Resolve returns the maximum level found across the actor's applicable
// role grants and project-scoped group grants on the target. Admins resolve
// to read-write on everything.
func (r Resolver) Resolve(ctx context.Context, actorID string, kind domain.TargetKind, targetID string, issue *IssueContext) (domain.PermissionLevel, error) {
	admin, err := r.Repo.IsAdmin(ctx, actorID)
	if err != nil {
		return domain.PermissionNone, err
	}
	if admin {
		return domain.PermissionReadWrite, nil
	}

	var projectID *string
	if issue != nil {
		projectID = issue.ProjectID
	}

	roleLevels, err := r.Repo.RoleGrantLevels(ctx, kind, targetID, ApplicableRoles(actorID, issue))
	if err != nil {
		return domain.PermissionNone, err
	}
	groupLevels, err := r.Repo.GroupGrantLevels(ctx, kind, targetID, actorID, projectID)
	if err != nil {
		return domain.PermissionNone, err
	}

	level := domain.PermissionNone
	for _, l := range roleLevels {
		if parsed := domain.ParseLevel(l); parsed > level {
			level = parsed
		}
	}
	for _, l := range groupLevels {
		if parsed := domain.ParseLevel(l); parsed > level {
			level = parsed
		}
	}
	return level, nil
}

// CanRead reports whether the actor may see the target at all.
func (r Resolver) CanRead(ctx context.Context, actorID string, kind domain.TargetKind, targetID string, issue *IssueContext) (bool, error) {
	level, err := r.Resolve(ctx, actorID, kind, targetID, issue)
	if err != nil {
		return false, err
	}
	return level >= domain.PermissionReadOnly, nil
}

// CanWrite reports whether the actor may mutate the target.
func (r Resolver) CanWrite(ctx context.Context, actorID string, kind domain.TargetKind, targetID string, issue *IssueContext) (bool, error) {
	level, err := r.Resolve(ctx, actorID, kind, targetID, issue)
	if err != nil {
		return false, err
	}
	return level == domain.PermissionReadWrite, nil
}
