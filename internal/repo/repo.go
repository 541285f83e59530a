package repo

import (
	"context"
	"database/sql"

	"tracker/internal/apperr"
	"tracker/internal/domain"
)

// Repo is the SQL repository. Methods with a Tx parameter participate in the
// caller's transaction; the rest read through the pool.
type Repo struct {
	DB *sql.DB
}

// ErrNotFound is re-exported so callers can errors.Is against the repo.
var ErrNotFound = apperr.ErrNotFound

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
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

// --- templates ---

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO templates(id,name,locked,critical_age,frozen_time,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, t.Locked, nullableIntPtr(t.CriticalAge), nullableIntPtr(t.FrozenTime), t.CreatedAt)
	return err
}

func scanTemplate(row *sql.Row) (domain.Template, error) {
	var t domain.Template
	var criticalAge, frozenTime sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.Locked, &criticalAge, &frozenTime, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if criticalAge.Valid {
		v := int(criticalAge.Int64)
		t.CriticalAge = &v
	}
	if frozenTime.Valid {
		v := int(frozenTime.Int64)
		t.FrozenTime = &v
	}
	return t, nil
}

const templateCols = `id,name,locked,critical_age,frozen_time,created_at`

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE id=?`, id))
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Template, error) {
	return scanTemplate(tx.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE id=?`, id))
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateCols+` FROM templates ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		var t domain.Template
		var criticalAge, frozenTime sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &t.Locked, &criticalAge, &frozenTime, &t.CreatedAt); err != nil {
			return nil, err
		}
		if criticalAge.Valid {
			v := int(criticalAge.Int64)
			t.CriticalAge = &v
		}
		if frozenTime.Valid {
			v := int(frozenTime.Int64)
			t.FrozenTime = &v
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) RenameTemplate(ctx context.Context, tx *sql.Tx, id, name string) error {
	res, err := tx.ExecContext(ctx, `UPDATE templates SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTemplateLocked(ctx context.Context, tx *sql.Tx, id string, locked bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE templates SET locked=? WHERE id=?`, locked, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TemplateNameTaken(ctx context.Context, tx *sql.Tx, name, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM templates WHERE name=? AND id<>? LIMIT 1`, name, excludeID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) TemplateHasIssues(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE template_id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- states ---

const stateCols = `id,template_id,name,type,responsible_mode,default_next_state_id`

func scanStateRow(scan func(dest ...any) error) (domain.State, error) {
	var s domain.State
	var defaultNext sql.NullString
	err := scan(&s.ID, &s.TemplateID, &s.Name, &s.Type, &s.ResponsibleMode, &defaultNext)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if defaultNext.Valid {
		s.DefaultNextStateID = &defaultNext.String
	}
	return s, nil
}

func (r Repo) InsertState(ctx context.Context, tx *sql.Tx, s domain.State) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO states(id,template_id,name,type,responsible_mode,default_next_state_id) VALUES (?,?,?,?,?,?)`,
		s.ID, s.TemplateID, s.Name, string(s.Type), string(s.ResponsibleMode), nullableStringPtr(s.DefaultNextStateID))
	return err
}

func (r Repo) GetState(ctx context.Context, id string) (domain.State, error) {
	return scanStateRow(r.DB.QueryRowContext(ctx, `SELECT `+stateCols+` FROM states WHERE id=?`, id).Scan)
}

func (r Repo) GetStateTx(ctx context.Context, tx *sql.Tx, id string) (domain.State, error) {
	return scanStateRow(tx.QueryRowContext(ctx, `SELECT `+stateCols+` FROM states WHERE id=?`, id).Scan)
}

func (r Repo) ListStates(ctx context.Context, templateID string) ([]domain.State, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stateCols+` FROM states WHERE template_id=? ORDER BY name`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.State
	for rows.Next() {
		s, err := scanStateRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) ListStatesTx(ctx context.Context, tx *sql.Tx, templateID string) ([]domain.State, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+stateCols+` FROM states WHERE template_id=? ORDER BY name`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.State
	for rows.Next() {
		s, err := scanStateRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) RenameState(ctx context.Context, tx *sql.Tx, id, name string) error {
	res, err := tx.ExecContext(ctx, `UPDATE states SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetStateResponsibleMode(ctx context.Context, tx *sql.Tx, id string, mode domain.ResponsibleMode) error {
	res, err := tx.ExecContext(ctx, `UPDATE states SET responsible_mode=? WHERE id=?`, string(mode), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetStateDefaultNext(ctx context.Context, tx *sql.Tx, id string, next *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE states SET default_next_state_id=? WHERE id=?`, nullableStringPtr(next), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PromoteInitial makes stateID the template's initial state and demotes any
// previous initial state to intermediate in one statement, so a concurrent
// reader never observes zero or two initial states.
func (r Repo) PromoteInitial(ctx context.Context, tx *sql.Tx, templateID, stateID string) error {
	_, err := tx.ExecContext(ctx, `
UPDATE states SET type = CASE
    WHEN id=? THEN 'initial'
    WHEN type='initial' THEN 'intermediate'
    ELSE type
END
WHERE template_id=? AND (id=? OR type='initial')`, stateID, templateID, stateID)
	return err
}

func (r Repo) CountInitialStates(ctx context.Context, templateID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM states WHERE template_id=? AND type='initial'`, templateID).Scan(&n)
	return n, err
}

func (r Repo) InitialState(ctx context.Context, tx *sql.Tx, templateID string) (domain.State, error) {
	return scanStateRow(tx.QueryRowContext(ctx, `SELECT `+stateCols+` FROM states WHERE template_id=? AND type='initial'`, templateID).Scan)
}

func (r Repo) StateNameTaken(ctx context.Context, tx *sql.Tx, templateID, name, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM states WHERE template_id=? AND name=? AND id<>? LIMIT 1`, templateID, name, excludeID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) StateHasIssues(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE state_id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) DeleteState(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM state_role_transitions WHERE from_state_id=? OR to_state_id=?`, id, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM state_group_transitions WHERE from_state_id=? OR to_state_id=?`, id, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE states SET default_next_state_id=NULL WHERE default_next_state_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM states WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
