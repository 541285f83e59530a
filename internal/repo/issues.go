package repo

import (
	"context"
	"database/sql"

	"tracker/internal/domain"
)

const issueCols = `row_id,id,template_id,state_id,subject,author_id,responsible_id,project_id,created_at`

func scanIssueRow(scan func(dest ...any) error) (domain.Issue, error) {
	var i domain.Issue
	var responsible, project sql.NullString
	err := scan(&i.RowID, &i.ID, &i.TemplateID, &i.StateID, &i.Subject, &i.AuthorID, &responsible, &project, &i.CreatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if responsible.Valid {
		i.ResponsibleID = &responsible.String
	}
	if project.Valid {
		i.ProjectID = &project.String
	}
	return i, nil
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO issues(id,template_id,state_id,subject,author_id,responsible_id,project_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		i.ID, i.TemplateID, i.StateID, i.Subject, i.AuthorID, nullableStringPtr(i.ResponsibleID), nullableStringPtr(i.ProjectID), i.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return scanIssueRow(r.DB.QueryRowContext(ctx, `SELECT `+issueCols+` FROM issues WHERE id=?`, id).Scan)
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Issue, error) {
	return scanIssueRow(tx.QueryRowContext(ctx, `SELECT `+issueCols+` FROM issues WHERE id=?`, id).Scan)
}

// IssueRowExists backs the issue-reference facade's existence check.
func (r Repo) IssueRowExists(ctx context.Context, tx *sql.Tx, rowID int64) (bool, error) {
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE row_id=? LIMIT 1`, rowID)
	} else {
		row = r.DB.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE row_id=? LIMIT 1`, rowID)
	}
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListIssues(ctx context.Context, templateID string) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+issueCols+` FROM issues WHERE template_id=? ORDER BY row_id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssueRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// MoveIssue sets the issue's state and responsible in one statement; the
// responsibility outcome was already computed by the workflow engine.
func (r Repo) MoveIssue(ctx context.Context, tx *sql.Tx, issueID, stateID string, responsible *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET state_id=?, responsible_id=? WHERE id=?`,
		stateID, nullableStringPtr(responsible), issueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- field values ---

// GetFieldValue returns the current raw slot. found=false means no row. A
// nil tx reads through the pool.
func (r Repo) GetFieldValue(ctx context.Context, tx *sql.Tx, issueID, fieldID string) (*int64, bool, error) {
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, `SELECT raw_value FROM field_values WHERE issue_id=? AND field_id=?`, issueID, fieldID)
	} else {
		row = r.DB.QueryRowContext(ctx, `SELECT raw_value FROM field_values WHERE issue_id=? AND field_id=?`, issueID, fieldID)
	}
	var raw sql.NullInt64
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !raw.Valid {
		return nil, true, nil
	}
	v := raw.Int64
	return &v, true, nil
}

func (r Repo) UpsertFieldValue(ctx context.Context, tx *sql.Tx, v domain.FieldValue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO field_values(issue_id,field_id,raw_value,created_at) VALUES (?,?,?,?)
ON CONFLICT(issue_id,field_id) DO UPDATE SET raw_value=excluded.raw_value`,
		v.IssueID, v.FieldID, nullableInt64Ptr(v.RawValue), v.CreatedAt)
	return err
}

func (r Repo) ListFieldValues(ctx context.Context, issueID string) ([]domain.FieldValue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT issue_id,field_id,raw_value,created_at FROM field_values WHERE issue_id=?`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldValue
	for rows.Next() {
		var v domain.FieldValue
		var raw sql.NullInt64
		if err := rows.Scan(&v.IssueID, &v.FieldID, &raw, &v.CreatedAt); err != nil {
			return nil, err
		}
		if raw.Valid {
			n := raw.Int64
			v.RawValue = &n
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
