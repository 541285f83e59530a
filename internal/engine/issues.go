package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"tracker/internal/apperr"
	"tracker/internal/domain"
	"tracker/internal/fieldtype"
	"tracker/internal/ledger"
	"tracker/internal/perm"
	"tracker/internal/workflow"
)

const (
	EventIssueCreated      = "issue.created"
	EventIssueStateChanged = "issue.state_changed"
	EventIssueFieldChanged = "issue.field_changed"
)

func (e Engine) encodeContext(ctx context.Context, tx *sql.Tx, tz *time.Location) fieldtype.EncodeContext {
	return fieldtype.EncodeContext{
		Ctx:      ctx,
		Tx:       tx,
		Interner: e.Interner,
		Issues:   e.Repo,
		Items:    e.Repo,
		TZ:       viewerZone(tz),
		Now:      e.Now,
	}
}

func (e Engine) decodeContext(ctx context.Context, tz *time.Location) fieldtype.DecodeContext {
	return fieldtype.DecodeContext{
		Ctx:      ctx,
		Interner: e.Interner,
		Items:    e.Repo,
		TZ:       viewerZone(tz),
		Now:      e.Now,
	}
}

func viewerZone(tz *time.Location) *time.Location {
	if tz == nil {
		return time.UTC
	}
	return tz
}

func issueContext(issue domain.Issue) *perm.IssueContext {
	return &perm.IssueContext{
		AuthorID:      issue.AuthorID,
		ResponsibleID: issue.ResponsibleID,
		ProjectID:     issue.ProjectID,
	}
}

type IssueCreateOptions struct {
	TemplateID    string
	Subject       string
	ActorID       string
	ProjectID     *string
	ResponsibleID *string
}

// CreateIssue opens an issue at the template's initial state. The creation
// is itself the first ledger entry: an event with a subject change row.
func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if opts.Subject == "" {
		return domain.Issue{}, apperr.ValidationError{Field: "subject", Reason: "subject is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTemplateTx(ctx, tx, opts.TemplateID)
	if err != nil {
		return domain.Issue{}, err
	}
	ok, err := e.Resolver.CanRead(ctx, opts.ActorID, domain.TargetTemplate, t.ID, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	if !ok {
		return domain.Issue{}, apperr.ForbiddenError{Actor: opts.ActorID, Target: "template " + t.Name}
	}

	initial, err := e.Repo.InitialState(ctx, tx, t.ID)
	if err == apperr.ErrNotFound {
		return domain.Issue{}, apperr.ConfigurationError{Field: t.Name, Reason: "template has no initial state"}
	}
	if err != nil {
		return domain.Issue{}, err
	}
	responsible, err := workflow.ApplyResponsibility(initial, nil, opts.ResponsibleID)
	if err != nil {
		return domain.Issue{}, err
	}

	issue := domain.Issue{
		ID:            newID(),
		TemplateID:    t.ID,
		StateID:       initial.ID,
		Subject:       opts.Subject,
		AuthorID:      opts.ActorID,
		ResponsibleID: responsible,
		ProjectID:     opts.ProjectID,
		CreatedAt:     e.timestamp(),
	}
	rowID, err := e.Repo.InsertIssue(ctx, tx, issue)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	issue.RowID = rowID

	eventID, err := e.Ledger.AppendEvent(ctx, tx, issue.ID, EventIssueCreated, opts.ActorID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.Ledger.AppendChange(ctx, tx, eventID, nil, nil, nil); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

type TransitionOptions struct {
	IssueID       string
	ToStateID     string
	ActorID       string
	ResponsibleID *string
}

// Transition moves the issue along an authorized edge and applies the target
// state's responsibility rule. The state change and its event land in one
// transaction.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	issue, err := e.Repo.GetIssueTx(ctx, tx, opts.IssueID)
	if err != nil {
		return domain.Issue{}, err
	}
	from, err := e.Repo.GetStateTx(ctx, tx, issue.StateID)
	if err != nil {
		return domain.Issue{}, err
	}
	to, err := e.Repo.GetStateTx(ctx, tx, opts.ToStateID)
	if err != nil {
		return domain.Issue{}, err
	}
	admin, err := e.Repo.IsAdmin(ctx, opts.ActorID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.Graph.AuthorizeTransition(ctx, tx, opts.ActorID, admin, issue, from, to); err != nil {
		return domain.Issue{}, err
	}
	responsible, err := workflow.ApplyResponsibility(to, issue.ResponsibleID, opts.ResponsibleID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.Repo.MoveIssue(ctx, tx, issue.ID, to.ID, responsible); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.Ledger.AppendEvent(ctx, tx, issue.ID, EventIssueStateChanged, opts.ActorID); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	issue.StateID = to.ID
	issue.ResponsibleID = responsible
	return issue, nil
}

type SetFieldValueOptions struct {
	IssueID string
	FieldID string
	ActorID string
	Value   string
	TZ      *time.Location
}

// SetFieldValue writes one typed value through the field's facade. A write
// that leaves the raw slot unchanged appends nothing; otherwise the new slot
// and its change row commit together.
func (e Engine) SetFieldValue(ctx context.Context, opts SetFieldValueOptions) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	issue, err := e.Repo.GetIssueTx(ctx, tx, opts.IssueID)
	if err != nil {
		return err
	}
	f, err := e.Repo.GetFieldTx(ctx, tx, opts.FieldID)
	if err != nil {
		return err
	}
	if f.Removed() {
		return apperr.ValidationError{Field: f.Name, Reason: "field has been removed"}
	}
	state, err := e.Repo.GetStateTx(ctx, tx, f.StateID)
	if err != nil {
		return err
	}
	if state.TemplateID != issue.TemplateID {
		return fmt.Errorf("field %s does not belong to the issue's template", f.Name)
	}

	ok, err := e.Resolver.CanWrite(ctx, opts.ActorID, domain.TargetField, f.ID, issueContext(issue))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ForbiddenError{Actor: opts.ActorID, Target: "field " + f.Name}
	}

	raw, err := fieldtype.New(f).Encode(e.encodeContext(ctx, tx, opts.TZ), opts.Value)
	if err != nil {
		return err
	}
	old, _, err := e.Repo.GetFieldValue(ctx, tx, issue.ID, f.ID)
	if err != nil {
		return err
	}
	if rawEqual(old, raw) {
		return tx.Commit()
	}
	if err := e.Repo.UpsertFieldValue(ctx, tx, domain.FieldValue{
		IssueID:   issue.ID,
		FieldID:   f.ID,
		RawValue:  raw,
		CreatedAt: e.timestamp(),
	}); err != nil {
		return err
	}
	eventID, err := e.Ledger.AppendEvent(ctx, tx, issue.ID, EventIssueFieldChanged, opts.ActorID)
	if err != nil {
		return err
	}
	fieldID := f.ID
	if err := e.Ledger.AppendChange(ctx, tx, eventID, &fieldID, old, raw); err != nil {
		return err
	}
	return tx.Commit()
}

func rawEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// FieldValueView is one decoded field value as a given viewer sees it.
type FieldValueView struct {
	Field   domain.Field
	Raw     *int64
	Value   string
	Display string
}

// ReadFieldValue fetches one field value for the viewer. Unlike the list
// read, an explicit single fetch the viewer cannot see is a forbidden error
// rather than a silent omission.
func (e Engine) ReadFieldValue(ctx context.Context, issueID, fieldID, viewerID string, tz *time.Location) (FieldValueView, error) {
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return FieldValueView{}, err
	}
	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return FieldValueView{}, err
	}
	ok, err := e.Resolver.CanRead(ctx, viewerID, domain.TargetField, f.ID, issueContext(issue))
	if err != nil {
		return FieldValueView{}, err
	}
	if !ok {
		return FieldValueView{}, apperr.ForbiddenError{Actor: viewerID, Target: "field " + f.Name}
	}
	raw, _, err := e.Repo.GetFieldValue(ctx, nil, issue.ID, f.ID)
	if err != nil {
		return FieldValueView{}, err
	}
	return e.fieldValueView(ctx, f, raw, tz)
}

// ReadFieldValues returns the issue's stored values the viewer may see,
// ordered by state and field position. Unreadable fields fall out silently.
func (e Engine) ReadFieldValues(ctx context.Context, issueID, viewerID string, tz *time.Location) ([]FieldValueView, error) {
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	values, err := e.Repo.ListFieldValues(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	var views []FieldValueView
	for _, v := range values {
		f, err := e.Repo.GetField(ctx, v.FieldID)
		if err != nil {
			return nil, err
		}
		ok, err := e.Resolver.CanRead(ctx, viewerID, domain.TargetField, f.ID, issueContext(issue))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		view, err := e.fieldValueView(ctx, f, v.RawValue, tz)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	sortFieldValueViews(views)
	return views, nil
}

func (e Engine) fieldValueView(ctx context.Context, f domain.Field, raw *int64, tz *time.Location) (FieldValueView, error) {
	dc := e.decodeContext(ctx, tz)
	facade := fieldtype.New(f)
	value, err := facade.Decode(dc, raw)
	if err != nil {
		return FieldValueView{}, err
	}
	display, err := facade.Display(dc, raw)
	if err != nil {
		return FieldValueView{}, err
	}
	return FieldValueView{Field: f, Raw: raw, Value: value, Display: display}, nil
}

func sortFieldValueViews(views []FieldValueView) {
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].Field, views[j].Field
		if a.StateID != b.StateID {
			return a.StateID < b.StateID
		}
		return a.Position < b.Position
	})
}

// HistoryEntry is one visible ledger row with its raw slots decoded for the
// viewer. Old and New are nil for empty slots and for subject rows.
type HistoryEntry struct {
	ledger.Entry
	OldValue *string
	NewValue *string
}

// History returns the issue's filtered change ledger decoded for the
// viewer. Surrogate ids are warmed into the interner cache in bulk first so
// decoding a page does not point-read per row.
func (e Engine) History(ctx context.Context, issueID, viewerID string, tz *time.Location) ([]HistoryEntry, error) {
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	entries, err := e.Ledger.History(ctx, e.Resolver, issue, viewerID)
	if err != nil {
		return nil, err
	}
	if err := e.warmupInterned(ctx, entries); err != nil {
		return nil, err
	}

	dc := e.decodeContext(ctx, tz)
	out := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		he := HistoryEntry{Entry: entry}
		if entry.Field != nil {
			facade := fieldtype.New(*entry.Field)
			he.OldValue, err = decodeSlot(dc, facade, entry.Change.OldValue)
			if err != nil {
				return nil, err
			}
			he.NewValue, err = decodeSlot(dc, facade, entry.Change.NewValue)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, he)
	}
	return out, nil
}

func decodeSlot(dc fieldtype.DecodeContext, facade fieldtype.Facade, raw *int64) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	s, err := facade.Decode(dc, raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (e Engine) warmupInterned(ctx context.Context, entries []ledger.Entry) error {
	var strs, txts, decs []int64
	collect := func(t domain.FieldType, raw *int64) {
		if raw == nil {
			return
		}
		switch t {
		case domain.FieldString:
			strs = append(strs, *raw)
		case domain.FieldText:
			txts = append(txts, *raw)
		case domain.FieldDecimal:
			decs = append(decs, *raw)
		}
	}
	for _, entry := range entries {
		if entry.Field == nil {
			continue
		}
		collect(entry.Field.Type, entry.Change.OldValue)
		collect(entry.Field.Type, entry.Change.NewValue)
	}
	if err := e.Interner.WarmupStrings(ctx, strs); err != nil {
		return err
	}
	if err := e.Interner.WarmupTexts(ctx, txts); err != nil {
		return err
	}
	return e.Interner.WarmupDecimals(ctx, decs)
}
