// Package engine orchestrates the core: template and workflow
// administration, issue lifecycle, field values, and permission-filtered
// reads. Every mutation runs in one transaction; a rejected mutation leaves
// no partial writes behind.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tracker/internal/apperr"
	"tracker/internal/domain"
	"tracker/internal/intern"
	"tracker/internal/ledger"
	"tracker/internal/perm"
	"tracker/internal/repo"
	"tracker/internal/workflow"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Interner *intern.Interner
	Resolver perm.Resolver
	Graph    workflow.Graph
	Ledger   ledger.Writer
	Now      func() time.Time
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Interner: intern.New(db),
		Resolver: perm.Resolver{Repo: r},
		Graph:    workflow.Graph{Repo: r},
		Ledger:   ledger.Writer{DB: db},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.New().String()
}

// requireUnlocked guards structural edits: states, fields, edges and grants
// of a locked template cannot change.
func (e Engine) requireUnlocked(ctx context.Context, tx *sql.Tx, templateID string) error {
	t, err := e.Repo.GetTemplateTx(ctx, tx, templateID)
	if err != nil {
		return err
	}
	if t.Locked {
		return apperr.ConflictError{Reason: fmt.Sprintf("template %s is locked", t.Name)}
	}
	return nil
}

// --- templates ---

type TemplateCreateOptions struct {
	Name        string
	CriticalAge *int
	FrozenTime  *int
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, error) {
	if opts.Name == "" {
		return domain.Template{}, fmt.Errorf("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	taken, err := e.Repo.TemplateNameTaken(ctx, tx, opts.Name, "")
	if err != nil {
		return domain.Template{}, err
	}
	if taken {
		return domain.Template{}, apperr.ConflictError{Reason: fmt.Sprintf("template name %s already exists", opts.Name)}
	}
	t := domain.Template{
		ID:          newID(),
		Name:        opts.Name,
		CriticalAge: opts.CriticalAge,
		FrozenTime:  opts.FrozenTime,
		CreatedAt:   e.timestamp(),
	}
	if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (e Engine) RenameTemplate(ctx context.Context, id, name string) (domain.Template, error) {
	if name == "" {
		return domain.Template{}, fmt.Errorf("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTemplateTx(ctx, tx, id)
	if err != nil {
		return domain.Template{}, err
	}
	taken, err := e.Repo.TemplateNameTaken(ctx, tx, name, id)
	if err != nil {
		return domain.Template{}, err
	}
	if taken {
		return domain.Template{}, apperr.ConflictError{Reason: fmt.Sprintf("template name %s already exists", name)}
	}
	if err := e.Repo.RenameTemplate(ctx, tx, id, name); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	t.Name = name
	return t, nil
}

// SetTemplateLocked toggles the structural-edit lock. Locking is always
// allowed; it is the edits that get refused while locked.
func (e Engine) SetTemplateLocked(ctx context.Context, id string, locked bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetTemplateLocked(ctx, tx, id, locked); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTemplate refuses while issues reference the template: historical
// values must stay resolvable.
func (e Engine) DeleteTemplate(ctx context.Context, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTemplateTx(ctx, tx, id)
	if err != nil {
		return err
	}
	has, err := e.Repo.TemplateHasIssues(ctx, tx, id)
	if err != nil {
		return err
	}
	if has {
		return apperr.ConflictError{Reason: fmt.Sprintf("template %s has issues", t.Name)}
	}
	states, err := e.Repo.ListStatesTx(ctx, tx, id)
	if err != nil {
		return err
	}
	for _, s := range states {
		if err := e.Repo.DeleteState(ctx, tx, s.ID); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteTemplate(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- states ---

type StateCreateOptions struct {
	TemplateID      string
	Name            string
	Type            domain.StateType
	ResponsibleMode domain.ResponsibleMode
}

// CreateState adds a state to a template. The first state of a template is
// always the initial one; creating a later state as initial demotes the
// previous initial state in the same transaction.
func (e Engine) CreateState(ctx context.Context, opts StateCreateOptions) (domain.State, error) {
	if opts.Name == "" {
		return domain.State{}, fmt.Errorf("name is required")
	}
	if opts.Type == "" {
		opts.Type = domain.StateIntermediate
	}
	if opts.ResponsibleMode == "" {
		opts.ResponsibleMode = domain.ResponsibleKeep
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.State{}, err
	}
	defer tx.Rollback()

	if err := e.requireUnlocked(ctx, tx, opts.TemplateID); err != nil {
		return domain.State{}, err
	}
	taken, err := e.Repo.StateNameTaken(ctx, tx, opts.TemplateID, opts.Name, "")
	if err != nil {
		return domain.State{}, err
	}
	if taken {
		return domain.State{}, apperr.ConflictError{Reason: fmt.Sprintf("state name %s already exists in template", opts.Name)}
	}

	_, err = e.Repo.InitialState(ctx, tx, opts.TemplateID)
	hasInitial := err == nil
	if err != nil && err != repo.ErrNotFound {
		return domain.State{}, err
	}
	if !hasInitial {
		// A template's first state anchors the graph.
		opts.Type = domain.StateInitial
	}

	s := domain.State{
		ID:              newID(),
		TemplateID:      opts.TemplateID,
		Name:            opts.Name,
		Type:            opts.Type,
		ResponsibleMode: opts.ResponsibleMode,
	}
	if s.Type == domain.StateFinal {
		s.ResponsibleMode = domain.ResponsibleRemove
	}
	wantInitial := s.Type == domain.StateInitial
	if wantInitial && hasInitial {
		// Insert demoted, then promote atomically.
		s.Type = domain.StateIntermediate
	}
	if err := e.Repo.InsertState(ctx, tx, s); err != nil {
		return domain.State{}, fmt.Errorf("insert state: %w", err)
	}
	if wantInitial && hasInitial {
		if err := e.Repo.PromoteInitial(ctx, tx, opts.TemplateID, s.ID); err != nil {
			return domain.State{}, err
		}
		s.Type = domain.StateInitial
	}
	if err := tx.Commit(); err != nil {
		return domain.State{}, err
	}
	return s, nil
}

// SetInitial promotes the state to the template's initial state, demoting
// the previous one in the same atomic statement.
func (e Engine) SetInitial(ctx context.Context, stateID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if err := e.requireUnlocked(ctx, tx, s.TemplateID); err != nil {
		return err
	}
	if s.Type == domain.StateFinal {
		return fmt.Errorf("state %s is final and cannot become initial", s.Name)
	}
	if err := e.Repo.PromoteInitial(ctx, tx, s.TemplateID, s.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RenameState(ctx context.Context, stateID, name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if err := e.requireUnlocked(ctx, tx, s.TemplateID); err != nil {
		return err
	}
	taken, err := e.Repo.StateNameTaken(ctx, tx, s.TemplateID, name, stateID)
	if err != nil {
		return err
	}
	if taken {
		return apperr.ConflictError{Reason: fmt.Sprintf("state name %s already exists in template", name)}
	}
	if err := e.Repo.RenameState(ctx, tx, stateID, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) SetResponsibleMode(ctx context.Context, stateID string, mode domain.ResponsibleMode) error {
	switch mode {
	case domain.ResponsibleKeep, domain.ResponsibleAssign, domain.ResponsibleRemove:
	default:
		return fmt.Errorf("unknown responsible mode %s", mode)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if err := e.requireUnlocked(ctx, tx, s.TemplateID); err != nil {
		return err
	}
	if s.Type == domain.StateFinal {
		// Stored mode on final states is normalized, not configurable.
		mode = domain.ResponsibleRemove
	}
	if err := e.Repo.SetStateResponsibleMode(ctx, tx, stateID, mode); err != nil {
		return err
	}
	return tx.Commit()
}

// SetDefaultNext sets or clears the state's default next state. Final
// states never have one; the target must live in the same template.
func (e Engine) SetDefaultNext(ctx context.Context, stateID string, nextID *string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if err := e.requireUnlocked(ctx, tx, s.TemplateID); err != nil {
		return err
	}
	if nextID != nil {
		if s.Type == domain.StateFinal {
			return fmt.Errorf("state %s is final and cannot have a default next state", s.Name)
		}
		next, err := e.Repo.GetStateTx(ctx, tx, *nextID)
		if err != nil {
			return err
		}
		if next.TemplateID != s.TemplateID {
			return fmt.Errorf("default next state must belong to the same template")
		}
	}
	if err := e.Repo.SetStateDefaultNext(ctx, tx, stateID, nextID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteState refuses while issues sit in the state.
func (e Engine) DeleteState(ctx context.Context, stateID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if err := e.requireUnlocked(ctx, tx, s.TemplateID); err != nil {
		return err
	}
	has, err := e.Repo.StateHasIssues(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if has {
		return apperr.ConflictError{Reason: fmt.Sprintf("state %s has issues", s.Name)}
	}
	if err := e.Repo.DeleteState(ctx, tx, stateID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- transition edges ---

// SetRoleTransitions reconciles the role-gated grantee set for one edge
// pair. Reapplying an identical set is a no-op.
func (e Engine) SetRoleTransitions(ctx context.Context, fromID, toID string, roles []domain.SystemRole) error {
	for _, role := range roles {
		switch role {
		case domain.RoleAnyone, domain.RoleAuthor, domain.RoleResponsible:
		default:
			return fmt.Errorf("unknown system role %s", role)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	from, to, err := e.transitionPair(ctx, tx, fromID, toID)
	if err != nil {
		return err
	}
	if err := e.Graph.ReconcileRoleEdges(ctx, tx, from.ID, to.ID, roles); err != nil {
		return err
	}
	return tx.Commit()
}

// SetGroupTransitions reconciles the group-gated grantee set for one edge
// pair.
func (e Engine) SetGroupTransitions(ctx context.Context, fromID, toID string, groupIDs []string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	from, to, err := e.transitionPair(ctx, tx, fromID, toID)
	if err != nil {
		return err
	}
	for _, groupID := range groupIDs {
		if _, err := e.Repo.GetGroup(ctx, groupID); err != nil {
			return fmt.Errorf("group %s: %w", groupID, err)
		}
	}
	if err := e.Graph.ReconcileGroupEdges(ctx, tx, from.ID, to.ID, groupIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) transitionPair(ctx context.Context, tx *sql.Tx, fromID, toID string) (domain.State, domain.State, error) {
	from, err := e.Repo.GetStateTx(ctx, tx, fromID)
	if err != nil {
		return domain.State{}, domain.State{}, err
	}
	to, err := e.Repo.GetStateTx(ctx, tx, toID)
	if err != nil {
		return domain.State{}, domain.State{}, err
	}
	if from.TemplateID != to.TemplateID {
		return domain.State{}, domain.State{}, fmt.Errorf("transition states belong to different templates")
	}
	if from.Type == domain.StateFinal {
		return domain.State{}, domain.State{}, fmt.Errorf("state %s is final: no outgoing transitions", from.Name)
	}
	if err := e.requireUnlocked(ctx, tx, from.TemplateID); err != nil {
		return domain.State{}, domain.State{}, err
	}
	return from, to, nil
}
