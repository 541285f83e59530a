package engine_test

import (
	"context"
	"testing"
	"time"

	"tracker/internal/apperr"
	"tracker/internal/db"
	"tracker/internal/domain"
	"tracker/internal/engine"
	"tracker/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, id := range []string{"admin", "alice", "bob"} {
		if _, err := eng.EnsureUser(ctx, id, id); err != nil {
			t.Fatalf("ensure user %s: %v", id, err)
		}
	}
	if err := eng.SetUserAdmin(ctx, "admin", true); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) mustTemplate(t *testing.T, name string) domain.Template {
	t.Helper()
	tpl, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{Name: name})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func (env testEnv) mustState(t *testing.T, templateID, name string, typ domain.StateType) domain.State {
	t.Helper()
	s, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{
		TemplateID: templateID,
		Name:       name,
		Type:       typ,
	})
	if err != nil {
		t.Fatalf("create state %s: %v", name, err)
	}
	return s
}

func (env testEnv) mustField(t *testing.T, stateID, name string, typ domain.FieldType) domain.Field {
	t.Helper()
	f, err := env.Engine.CreateField(env.Ctx, engine.FieldCreateOptions{
		StateID: stateID,
		Name:    name,
		Type:    typ,
	})
	if err != nil {
		t.Fatalf("create field %s: %v", name, err)
	}
	return f
}

func TestFirstStateBecomesInitial(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")

	// the first state is initial no matter what type was asked for
	first := env.mustState(t, tpl.ID, "open", domain.StateIntermediate)
	if first.Type != domain.StateInitial {
		t.Fatalf("first state type = %s, want initial", first.Type)
	}

	second := env.mustState(t, tpl.ID, "triage", domain.StateInitial)
	if second.Type != domain.StateInitial {
		t.Fatalf("second state type = %s, want initial", second.Type)
	}
	// the previous initial state was demoted in the same transaction
	states, err := env.Engine.Repo.ListStates(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	initials := 0
	for _, s := range states {
		if s.Type == domain.StateInitial {
			initials++
			if s.ID != second.ID {
				t.Fatalf("initial state = %s, want %s", s.ID, second.ID)
			}
		}
	}
	if initials != 1 {
		t.Fatalf("initial count = %d, want 1", initials)
	}
}

func TestSetInitialDemotesPrevious(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	env.mustState(t, tpl.ID, "open", domain.StateIntermediate)
	other := env.mustState(t, tpl.ID, "triage", domain.StateIntermediate)
	final := env.mustState(t, tpl.ID, "closed", domain.StateFinal)

	if err := env.Engine.SetInitial(env.Ctx, other.ID); err != nil {
		t.Fatalf("set initial: %v", err)
	}
	got, err := env.Engine.Repo.GetState(env.Ctx, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != domain.StateInitial {
		t.Fatalf("type = %s, want initial", got.Type)
	}

	if err := env.Engine.SetInitial(env.Ctx, final.ID); err == nil {
		t.Fatal("expected error making a final state initial")
	}
}

func TestLockedTemplateRejectsStructuralEdits(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	if err := env.Engine.SetTemplateLocked(env.Ctx, tpl.ID, true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{TemplateID: tpl.ID, Name: "more"})
	if !apperr.IsConflict(err) {
		t.Fatalf("create state on locked template: %v, want conflict", err)
	}
	_, err = env.Engine.CreateField(env.Ctx, engine.FieldCreateOptions{
		StateID: state.ID, Name: "notes", Type: domain.FieldText,
	})
	if !apperr.IsConflict(err) {
		t.Fatalf("create field on locked template: %v, want conflict", err)
	}

	// unlocking reopens edits
	if err := env.Engine.SetTemplateLocked(env.Ctx, tpl.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{TemplateID: tpl.ID, Name: "more"}); err != nil {
		t.Fatalf("create state after unlock: %v", err)
	}
}

func TestDeleteGuards(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "admin",
	}); err != nil {
		t.Fatalf("create issue: %v", err)
	}

	if err := env.Engine.DeleteTemplate(env.Ctx, tpl.ID); !apperr.IsConflict(err) {
		t.Fatalf("delete template with issues: %v, want conflict", err)
	}
	if err := env.Engine.DeleteState(env.Ctx, state.ID); !apperr.IsConflict(err) {
		t.Fatalf("delete state with issues: %v, want conflict", err)
	}

	empty := env.mustTemplate(t, "empty")
	env.mustState(t, empty.ID, "only", domain.StateInitial)
	if err := env.Engine.DeleteTemplate(env.Ctx, empty.ID); err != nil {
		t.Fatalf("delete empty template: %v", err)
	}
}

func TestCreateIssueRequiresInitialState(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	_, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "too early", ActorID: "admin",
	})
	if !apperr.IsConfiguration(err) {
		t.Fatalf("issue on stateless template: %v, want configuration error", err)
	}
}

func TestCreateIssuePermission(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	env.mustState(t, tpl.ID, "open", domain.StateInitial)

	// alice has no grant on the template yet
	_, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "nope", ActorID: "alice",
	})
	if !apperr.IsForbidden(err) {
		t.Fatalf("create without grant: %v, want forbidden", err)
	}

	if err := env.Engine.SetRoleGrant(env.Ctx, domain.TargetTemplate, tpl.ID, domain.RoleAnyone, domain.PermissionReadOnly); err != nil {
		t.Fatalf("grant: %v", err)
	}
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create with grant: %v", err)
	}
	if issue.AuthorID != "alice" || issue.RowID == 0 {
		t.Fatalf("unexpected issue %+v", issue)
	}
}

func TestTransitionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	open := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	closed := env.mustState(t, tpl.ID, "closed", domain.StateFinal)
	if err := env.Engine.SetRoleGrant(env.Ctx, domain.TargetTemplate, tpl.ID, domain.RoleAnyone, domain.PermissionReadOnly); err != nil {
		t.Fatal(err)
	}
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	// no edge grants yet: author may not move it
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		IssueID: issue.ID, ToStateID: closed.ID, ActorID: "alice",
	})
	if !apperr.IsForbidden(err) {
		t.Fatalf("transition without edge: %v, want forbidden", err)
	}

	// bob is neither author nor admin, an author edge does not help him
	if err := env.Engine.SetRoleTransitions(env.Ctx, open.ID, closed.ID, []domain.SystemRole{domain.RoleAuthor}); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		IssueID: issue.ID, ToStateID: closed.ID, ActorID: "bob",
	})
	if !apperr.IsForbidden(err) {
		t.Fatalf("transition as non-author: %v, want forbidden", err)
	}

	moved, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		IssueID: issue.ID, ToStateID: closed.ID, ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("transition as author: %v", err)
	}
	if moved.StateID != closed.ID {
		t.Fatalf("state = %s, want %s", moved.StateID, closed.ID)
	}

	// a closed issue never leaves its final state, not even for an admin
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		IssueID: issue.ID, ToStateID: open.ID, ActorID: "admin",
	})
	if err == nil {
		t.Fatal("expected error leaving final state")
	}
}

func TestResponsibilityModes(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	open := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	working, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{
		TemplateID:      tpl.ID,
		Name:            "working",
		ResponsibleMode: domain.ResponsibleAssign,
	})
	if err != nil {
		t.Fatal(err)
	}
	closed := env.mustState(t, tpl.ID, "closed", domain.StateFinal)

	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}

	// assign mode demands an explicit responsible user
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		IssueID: issue.ID, ToStateID: working.ID, ActorID: "admin",
	})
	if err == nil {
		t.Fatal("expected error entering assign state without responsible")
	}
	bob := "bob"
	moved, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		IssueID: issue.ID, ToStateID: working.ID, ActorID: "admin", ResponsibleID: &bob,
	})
	if err != nil {
		t.Fatal(err)
	}
	if moved.ResponsibleID == nil || *moved.ResponsibleID != "bob" {
		t.Fatalf("responsible = %v, want bob", moved.ResponsibleID)
	}

	// final states always drop the responsible user
	moved, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		IssueID: issue.ID, ToStateID: closed.ID, ActorID: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if moved.ResponsibleID != nil {
		t.Fatalf("responsible after close = %v, want nil", *moved.ResponsibleID)
	}
	_ = open
}

func TestFieldConflicts(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	env.mustField(t, state.ID, "severity", domain.FieldNumber)

	_, err := env.Engine.CreateField(env.Ctx, engine.FieldCreateOptions{
		StateID: state.ID, Name: "severity", Type: domain.FieldString,
	})
	if !apperr.IsConflict(err) {
		t.Fatalf("duplicate field name: %v, want conflict", err)
	}
	_, err = env.Engine.CreateField(env.Ctx, engine.FieldCreateOptions{
		StateID: state.ID, Name: "priority", Type: domain.FieldNumber, Position: 1,
	})
	if !apperr.IsConflict(err) {
		t.Fatalf("duplicate position: %v, want conflict", err)
	}

	_, err = env.Engine.CreateField(env.Ctx, engine.FieldCreateOptions{
		StateID: state.ID, Name: "weird", Type: domain.FieldType("blob"),
	})
	if !apperr.IsConfiguration(err) {
		t.Fatalf("unknown type: %v, want configuration error", err)
	}
}

func TestRemovedFieldRejectsWrites(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	f := env.mustField(t, state.ID, "severity", domain.FieldNumber)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveField(env.Ctx, f.ID); err != nil {
		t.Fatalf("remove field: %v", err)
	}
	if err := env.Engine.RemoveField(env.Ctx, f.ID); !apperr.IsConflict(err) {
		t.Fatalf("double remove: %v, want conflict", err)
	}
	err = env.Engine.SetFieldValue(env.Ctx, engine.SetFieldValueOptions{
		IssueID: issue.ID, FieldID: f.ID, ActorID: "admin", Value: "3",
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("write to removed field: %v, want validation error", err)
	}
}

func TestListItemGuards(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	f := env.mustField(t, state.ID, "component", domain.FieldList)

	if _, err := env.Engine.AddListItem(env.Ctx, f.ID, 1, "backend"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddListItem(env.Ctx, f.ID, 1, "frontend"); !apperr.IsConflict(err) {
		t.Fatalf("duplicate value: %v, want conflict", err)
	}
	if _, err := env.Engine.AddListItem(env.Ctx, f.ID, 2, "backend"); !apperr.IsConflict(err) {
		t.Fatalf("duplicate text: %v, want conflict", err)
	}
	if _, err := env.Engine.AddListItem(env.Ctx, f.ID, 0, "zero"); !apperr.IsValidation(err) {
		t.Fatalf("zero value: %v, want validation error", err)
	}

	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetFieldValue(env.Ctx, engine.SetFieldValueOptions{
		IssueID: issue.ID, FieldID: f.ID, ActorID: "admin", Value: "1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteListItem(env.Ctx, f.ID, 1); !apperr.IsConflict(err) {
		t.Fatalf("delete item in use: %v, want conflict", err)
	}
}

func TestSetFieldValueLedger(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	f := env.mustField(t, state.ID, "severity", domain.FieldNumber)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}

	set := func(v string) {
		t.Helper()
		if err := env.Engine.SetFieldValue(env.Ctx, engine.SetFieldValueOptions{
			IssueID: issue.ID, FieldID: f.ID, ActorID: "admin", Value: v,
		}); err != nil {
			t.Fatalf("set %q: %v", v, err)
		}
	}
	set("3")
	set("3") // unchanged, must not append
	set("5")

	var events int
	if err := env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM events WHERE issue_id=? AND type=?`,
		issue.ID, engine.EventIssueFieldChanged).Scan(&events); err != nil {
		t.Fatal(err)
	}
	if events != 2 {
		t.Fatalf("field_changed events = %d, want 2", events)
	}

	entries, err := env.Engine.History(env.Ctx, issue.ID, "admin", nil)
	if err != nil {
		t.Fatal(err)
	}
	// creation subject row plus two value changes
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}
	last := entries[len(entries)-1]
	if last.OldValue == nil || *last.OldValue != "3" || last.NewValue == nil || *last.NewValue != "5" {
		t.Fatalf("last change = %v -> %v, want 3 -> 5", last.OldValue, last.NewValue)
	}
}

func TestHistoryVisibilityFiltering(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	secret := env.mustField(t, state.ID, "cost", domain.FieldDecimal)
	public := env.mustField(t, state.ID, "severity", domain.FieldNumber)
	if err := env.Engine.SetRoleGrant(env.Ctx, domain.TargetField, public.ID, domain.RoleAnyone, domain.PermissionReadOnly); err != nil {
		t.Fatal(err)
	}

	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	for fieldID, v := range map[string]string{secret.ID: "12.50", public.ID: "3"} {
		if err := env.Engine.SetFieldValue(env.Ctx, engine.SetFieldValueOptions{
			IssueID: issue.ID, FieldID: fieldID, ActorID: "admin", Value: v,
		}); err != nil {
			t.Fatal(err)
		}
	}

	asAdmin, err := env.Engine.History(env.Ctx, issue.ID, "admin", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(asAdmin) != 3 {
		t.Fatalf("admin history = %d entries, want 3", len(asAdmin))
	}

	asBob, err := env.Engine.History(env.Ctx, issue.ID, "bob", nil)
	if err != nil {
		t.Fatal(err)
	}
	// subject row stays, the ungranted field row falls out silently
	if len(asBob) != 2 {
		t.Fatalf("bob history = %d entries, want 2", len(asBob))
	}
	for _, entry := range asBob {
		if entry.Field != nil && entry.Field.ID == secret.ID {
			t.Fatal("ungranted field leaked into history")
		}
	}
}

func TestReadFieldValues(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	state := env.mustState(t, tpl.ID, "open", domain.StateInitial)
	secret := env.mustField(t, state.ID, "cost", domain.FieldDecimal)
	public := env.mustField(t, state.ID, "severity", domain.FieldNumber)
	if err := env.Engine.SetRoleGrant(env.Ctx, domain.TargetField, public.ID, domain.RoleAnyone, domain.PermissionReadOnly); err != nil {
		t.Fatal(err)
	}
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: tpl.ID, Subject: "crash on save", ActorID: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	for fieldID, v := range map[string]string{secret.ID: "12.50", public.ID: "3"} {
		if err := env.Engine.SetFieldValue(env.Ctx, engine.SetFieldValueOptions{
			IssueID: issue.ID, FieldID: fieldID, ActorID: "admin", Value: v,
		}); err != nil {
			t.Fatal(err)
		}
	}

	views, err := env.Engine.ReadFieldValues(env.Ctx, issue.ID, "bob", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].Field.ID != public.ID || views[0].Value != "3" {
		t.Fatalf("unexpected views %+v", views)
	}

	// an explicit single fetch of the hidden field is forbidden, not empty
	_, err = env.Engine.ReadFieldValue(env.Ctx, issue.ID, secret.ID, "bob", nil)
	if !apperr.IsForbidden(err) {
		t.Fatalf("single fetch: %v, want forbidden", err)
	}
	view, err := env.Engine.ReadFieldValue(env.Ctx, issue.ID, secret.ID, "admin", nil)
	if err != nil {
		t.Fatal(err)
	}
	if view.Value != "12.5" {
		t.Fatalf("decimal value = %q, want 12.5", view.Value)
	}
}

func TestGrantNoneDeletesRow(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.mustTemplate(t, "bug")
	env.mustState(t, tpl.ID, "open", domain.StateInitial)
	if err := env.Engine.SetRoleGrant(env.Ctx, domain.TargetTemplate, tpl.ID, domain.RoleAnyone, domain.PermissionReadWrite); err != nil {
		t.Fatal(err)
	}
	level, err := env.Engine.Resolver.Resolve(env.Ctx, "alice", domain.TargetTemplate, tpl.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if level != domain.PermissionReadWrite {
		t.Fatalf("level = %v, want rw", level)
	}
	if err := env.Engine.SetRoleGrant(env.Ctx, domain.TargetTemplate, tpl.ID, domain.RoleAnyone, domain.PermissionNone); err != nil {
		t.Fatal(err)
	}
	level, err = env.Engine.Resolver.Resolve(env.Ctx, "alice", domain.TargetTemplate, tpl.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if level != domain.PermissionNone {
		t.Fatalf("level after none = %v, want none", level)
	}
	var rows int
	if err := env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM role_grants WHERE target_id=?`, tpl.ID).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 0 {
		t.Fatalf("grant rows = %d, want 0", rows)
	}
}
