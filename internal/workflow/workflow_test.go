package workflow_test

import (
	"context"
	"database/sql"
	"testing"

	"tracker/internal/db"
	"tracker/internal/domain"
	"tracker/internal/migrate"
	"tracker/internal/repo"
	"tracker/internal/workflow"
)

func TestApplyResponsibility(t *testing.T) {
	alice := "alice"
	bob := "bob"

	keep := domain.State{Name: "open", Type: domain.StateIntermediate, ResponsibleMode: domain.ResponsibleKeep}
	got, err := workflow.ApplyResponsibility(keep, &alice, nil)
	if err != nil || got == nil || *got != "alice" {
		t.Fatalf("keep: got %v, %v", got, err)
	}

	assign := domain.State{Name: "working", Type: domain.StateIntermediate, ResponsibleMode: domain.ResponsibleAssign}
	if _, err := workflow.ApplyResponsibility(assign, &alice, nil); err == nil {
		t.Fatal("assign without supplied user must error")
	}
	got, err = workflow.ApplyResponsibility(assign, &alice, &bob)
	if err != nil || got == nil || *got != "bob" {
		t.Fatalf("assign: got %v, %v", got, err)
	}

	remove := domain.State{Name: "closed", Type: domain.StateIntermediate, ResponsibleMode: domain.ResponsibleRemove}
	got, err = workflow.ApplyResponsibility(remove, &alice, &bob)
	if err != nil || got != nil {
		t.Fatalf("remove: got %v, %v", got, err)
	}

	// a final state removes even if its stored mode says otherwise
	final := domain.State{Name: "done", Type: domain.StateFinal, ResponsibleMode: domain.ResponsibleKeep}
	got, err = workflow.ApplyResponsibility(final, &alice, &bob)
	if err != nil || got != nil {
		t.Fatalf("final: got %v, %v", got, err)
	}
}

func newGraph(t *testing.T) (workflow.Graph, *sql.DB, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	tpl := domain.Template{ID: "t1", Name: "bug", CreatedAt: "2026-03-01T00:00:00Z"}
	if err := r.InsertTemplate(ctx, tx, tpl); err != nil {
		t.Fatal(err)
	}
	states := []domain.State{
		{ID: "s1", TemplateID: "t1", Name: "open", Type: domain.StateInitial, ResponsibleMode: domain.ResponsibleKeep},
		{ID: "s2", TemplateID: "t1", Name: "closed", Type: domain.StateFinal, ResponsibleMode: domain.ResponsibleRemove},
	}
	for _, s := range states {
		if err := r.InsertState(ctx, tx, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return workflow.Graph{Repo: r}, conn, ctx
}

func TestReconcileRoleEdgesIdempotent(t *testing.T) {
	g, conn, ctx := newGraph(t)

	reconcile := func(want []domain.SystemRole) {
		t.Helper()
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer tx.Rollback()
		if err := g.ReconcileRoleEdges(ctx, tx, "s1", "s2", want); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	grantees := func() []domain.SystemRole {
		t.Helper()
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer tx.Rollback()
		roles, err := g.Repo.ListRoleTransitionGrantees(ctx, tx, "s1", "s2")
		if err != nil {
			t.Fatal(err)
		}
		return roles
	}

	reconcile([]domain.SystemRole{domain.RoleAuthor, domain.RoleResponsible})
	if got := grantees(); len(got) != 2 {
		t.Fatalf("grantees = %v, want 2", got)
	}
	// same set again changes nothing
	reconcile([]domain.SystemRole{domain.RoleAuthor, domain.RoleResponsible})
	if got := grantees(); len(got) != 2 {
		t.Fatalf("grantees after repeat = %v, want 2", got)
	}
	// shrinking the set deletes the edge no longer wanted
	reconcile([]domain.SystemRole{domain.RoleAuthor})
	got := grantees()
	if len(got) != 1 || got[0] != domain.RoleAuthor {
		t.Fatalf("grantees after shrink = %v, want [author]", got)
	}
	reconcile(nil)
	if got := grantees(); len(got) != 0 {
		t.Fatalf("grantees after clear = %v, want none", got)
	}
}

func TestAuthorizeTransitionFinalState(t *testing.T) {
	g, conn, ctx := newGraph(t)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	issue := domain.Issue{ID: "i1", TemplateID: "t1", StateID: "s2", AuthorID: "alice"}
	from := domain.State{ID: "s2", TemplateID: "t1", Name: "closed", Type: domain.StateFinal}
	to := domain.State{ID: "s1", TemplateID: "t1", Name: "open", Type: domain.StateInitial}

	// final-state rule applies even to admins
	if err := g.AuthorizeTransition(ctx, tx, "alice", true, issue, from, to); err == nil {
		t.Fatal("expected final state rejection")
	}
	// admins bypass the grant checks on non-final edges
	if err := g.AuthorizeTransition(ctx, tx, "alice", true, issue, to, from); err != nil {
		t.Fatalf("admin transition: %v", err)
	}
}
