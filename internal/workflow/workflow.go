// Package workflow implements the state-machine side of the core: which
// transitions an actor may take, what happens to responsibility on arrival,
// and the reconciliation of transition edges against a requested grantee
// set.
package workflow

import (
	"context"
	"database/sql"
	"fmt"

	"tracker/internal/apperr"
	"tracker/internal/domain"
	"tracker/internal/perm"
	"tracker/internal/repo"
)

type Graph struct {
	Repo repo.Repo
}

// AuthorizeTransition decides whether actor may move the issue from its
// current state to the target. Role edges and group edges are independently
// sufficient; an admin override bypasses both. The final-state rule applies
// before any grant is consulted.
func (g Graph) AuthorizeTransition(ctx context.Context, tx *sql.Tx, actorID string, admin bool, issue domain.Issue, from, to domain.State) error {
	if from.Type == domain.StateFinal {
		return fmt.Errorf("state %s is final: no outgoing transitions", from.Name)
	}
	if from.TemplateID != to.TemplateID {
		return fmt.Errorf("states %s and %s belong to different templates", from.Name, to.Name)
	}
	if admin {
		return nil
	}
	roles := perm.ApplicableRoles(actorID, &perm.IssueContext{
		AuthorID:      issue.AuthorID,
		ResponsibleID: issue.ResponsibleID,
		ProjectID:     issue.ProjectID,
	})
	allowed, err := g.Repo.RoleTransitionAllowed(ctx, tx, from.ID, to.ID, roles)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	allowed, err = g.Repo.GroupTransitionAllowed(ctx, tx, from.ID, to.ID, actorID, issue.ProjectID)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	return apperr.ForbiddenError{Actor: actorID, Target: fmt.Sprintf("transition %s -> %s", from.Name, to.Name)}
}

// ApplyResponsibility computes the issue's responsible user after entering
// the target state. The effective mode is derived, not read back, so a
// final state edited to keep or assign after issues entered it still
// removes.
func ApplyResponsibility(target domain.State, current, supplied *string) (*string, error) {
	switch target.EffectiveResponsibleMode() {
	case domain.ResponsibleRemove:
		return nil, nil
	case domain.ResponsibleAssign:
		if supplied == nil || *supplied == "" {
			return nil, fmt.Errorf("state %s requires a responsible user", target.Name)
		}
		return supplied, nil
	default:
		return current, nil
	}
}

// ReconcileRoleEdges brings the stored role-gated edges for one
// (from, to) pair to exactly the requested set: edges no longer requested
// are deleted, newly requested ones inserted, everything else untouched.
// Applying the same set twice performs zero writes the second time.
func (g Graph) ReconcileRoleEdges(ctx context.Context, tx *sql.Tx, fromID, toID string, want []domain.SystemRole) error {
	have, err := g.Repo.ListRoleTransitionGrantees(ctx, tx, fromID, toID)
	if err != nil {
		return err
	}
	haveSet := make(map[domain.SystemRole]bool, len(have))
	for _, role := range have {
		haveSet[role] = true
	}
	wantSet := make(map[domain.SystemRole]bool, len(want))
	for _, role := range want {
		wantSet[role] = true
	}
	for _, role := range have {
		if !wantSet[role] {
			if err := g.Repo.DeleteRoleTransition(ctx, tx, fromID, toID, role); err != nil {
				return err
			}
		}
	}
	for _, role := range want {
		if !haveSet[role] {
			if err := g.Repo.InsertRoleTransition(ctx, tx, fromID, toID, role); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReconcileGroupEdges is the group-gated twin of ReconcileRoleEdges.
func (g Graph) ReconcileGroupEdges(ctx context.Context, tx *sql.Tx, fromID, toID string, want []string) error {
	have, err := g.Repo.ListGroupTransitionGrantees(ctx, tx, fromID, toID)
	if err != nil {
		return err
	}
	haveSet := make(map[string]bool, len(have))
	for _, id := range have {
		haveSet[id] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, id := range want {
		wantSet[id] = true
	}
	for _, id := range have {
		if !wantSet[id] {
			if err := g.Repo.DeleteGroupTransition(ctx, tx, fromID, toID, id); err != nil {
				return err
			}
		}
	}
	for _, id := range want {
		if !haveSet[id] {
			if err := g.Repo.InsertGroupTransition(ctx, tx, fromID, toID, id); err != nil {
				return err
			}
		}
	}
	return nil
}
