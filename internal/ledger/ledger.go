// Package ledger is the audit spine: every field-value mutation appends a
// change row tied to an event, in the same transaction as the mutation
// itself. Rows are append-only; history is surfaced through the permission
// resolver, never raw.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"tracker/internal/domain"
	"tracker/internal/perm"
)

// Writer appends events and changes inside the caller's transaction.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// AppendEvent inserts the audit event and returns its id for the change
// rows that hang off it.
func (w Writer) AppendEvent(ctx context.Context, tx *sql.Tx, issueID, evtType, actorID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO events(issue_id,type,actor_id,created_at) VALUES (?,?,?,?)`,
		issueID, evtType, actorID, w.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AppendChange records one mutation. fieldID == nil denotes the subject
// pseudo-field.
func (w Writer) AppendChange(ctx context.Context, tx *sql.Tx, eventID int64, fieldID *string, oldValue, newValue *int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO changes(event_id,field_id,old_value,new_value) VALUES (?,?,?,?)`,
		eventID, nullableStringPtr(fieldID), nullableInt64Ptr(oldValue), nullableInt64Ptr(newValue))
	return err
}

// Entry is one visible change row plus the metadata needed to decode it.
// Field is nil for subject changes.
type Entry struct {
	Change    domain.Change
	EventType string
	ActorID   string
	CreatedAt string
	Field     *domain.Field
}

// History returns the issue's change rows the viewer may see, ordered by
// event creation time ascending and then by field position within one
// event; subject rows sort before field rows of the same event. Rows whose
// field the viewer cannot read are omitted, never errored.
func (w Writer) History(ctx context.Context, resolver perm.Resolver, issue domain.Issue, viewerID string) ([]Entry, error) {
	rows, err := w.DB.QueryContext(ctx, `
SELECT c.id, c.event_id, c.field_id, c.old_value, c.new_value,
       e.type, e.actor_id, e.created_at,
       f.id, f.state_id, f.name, f.type, f.position, f.required,
       f.min_value, f.max_value, f.default_value, f.max_length,
       f.pcre_check, f.pcre_search, f.pcre_replace
FROM changes c
JOIN events e ON e.id=c.event_id
LEFT JOIN fields f ON f.id=c.field_id
WHERE e.issue_id=?
ORDER BY e.created_at ASC, e.id ASC, COALESCE(f.position, -1) ASC, c.id ASC`, issue.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issueCtx := &perm.IssueContext{
		AuthorID:      issue.AuthorID,
		ResponsibleID: issue.ResponsibleID,
		ProjectID:     issue.ProjectID,
	}

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var oldValue, newValue sql.NullInt64
		var changeFieldID sql.NullString
		var fID, fStateID, fName, fType sql.NullString
		var fPosition sql.NullInt64
		var fRequired sql.NullBool
		var fMin, fMax, fDefault, fCheck, fSearch, fReplace sql.NullString
		var fMaxLength sql.NullInt64
		if err := rows.Scan(&entry.Change.ID, &entry.Change.EventID, &changeFieldID, &oldValue, &newValue,
			&entry.EventType, &entry.ActorID, &entry.CreatedAt,
			&fID, &fStateID, &fName, &fType, &fPosition, &fRequired,
			&fMin, &fMax, &fDefault, &fMaxLength, &fCheck, &fSearch, &fReplace); err != nil {
			return nil, err
		}
		if changeFieldID.Valid {
			entry.Change.FieldID = &changeFieldID.String
		}
		if oldValue.Valid {
			v := oldValue.Int64
			entry.Change.OldValue = &v
		}
		if newValue.Valid {
			v := newValue.Int64
			entry.Change.NewValue = &v
		}
		if fID.Valid {
			field := domain.Field{
				ID:       fID.String,
				StateID:  fStateID.String,
				Name:     fName.String,
				Type:     domain.FieldType(fType.String),
				Position: int(fPosition.Int64),
				Required: fRequired.Bool,
			}
			if fMin.Valid {
				field.MinValue = &fMin.String
			}
			if fMax.Valid {
				field.MaxValue = &fMax.String
			}
			if fDefault.Valid {
				field.DefaultValue = &fDefault.String
			}
			if fMaxLength.Valid {
				v := int(fMaxLength.Int64)
				field.MaxLength = &v
			}
			if fCheck.Valid {
				field.PCRECheck = &fCheck.String
			}
			if fSearch.Valid {
				field.PCRESearch = &fSearch.String
			}
			if fReplace.Valid {
				field.PCREReplace = &fReplace.String
			}
			entry.Field = &field
		}

		// Subject rows are always visible; field rows go through the
		// resolver and fall out silently on none.
		if entry.Change.FieldID != nil {
			ok, err := resolver.CanRead(ctx, viewerID, domain.TargetField, *entry.Change.FieldID, issueCtx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
