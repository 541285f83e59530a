package repo

import (
	"context"
	"database/sql"

	"tracker/internal/domain"
)

const fieldCols = `id,state_id,name,type,position,required,removed_at,min_value,max_value,default_value,max_length,pcre_check,pcre_search,pcre_replace`

func scanFieldRow(scan func(dest ...any) error) (domain.Field, error) {
	var f domain.Field
	var removedAt, minValue, maxValue, defaultValue, pcreCheck, pcreSearch, pcreReplace sql.NullString
	var maxLength sql.NullInt64
	err := scan(&f.ID, &f.StateID, &f.Name, &f.Type, &f.Position, &f.Required,
		&removedAt, &minValue, &maxValue, &defaultValue, &maxLength, &pcreCheck, &pcreSearch, &pcreReplace)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if removedAt.Valid {
		f.RemovedAt = &removedAt.String
	}
	if minValue.Valid {
		f.MinValue = &minValue.String
	}
	if maxValue.Valid {
		f.MaxValue = &maxValue.String
	}
	if defaultValue.Valid {
		f.DefaultValue = &defaultValue.String
	}
	if maxLength.Valid {
		v := int(maxLength.Int64)
		f.MaxLength = &v
	}
	if pcreCheck.Valid {
		f.PCRECheck = &pcreCheck.String
	}
	if pcreSearch.Valid {
		f.PCRESearch = &pcreSearch.String
	}
	if pcreReplace.Valid {
		f.PCREReplace = &pcreReplace.String
	}
	return f, nil
}

func (r Repo) InsertField(ctx context.Context, tx *sql.Tx, f domain.Field) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO fields(`+fieldCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.StateID, f.Name, string(f.Type), f.Position, f.Required,
		nullableStringPtr(f.RemovedAt), nullableStringPtr(f.MinValue), nullableStringPtr(f.MaxValue),
		nullableStringPtr(f.DefaultValue), nullableIntPtr(f.MaxLength),
		nullableStringPtr(f.PCRECheck), nullableStringPtr(f.PCRESearch), nullableStringPtr(f.PCREReplace))
	return err
}

// UpdateField rewrites the mutable attributes. The type tag and state are
// immutable after creation.
func (r Repo) UpdateField(ctx context.Context, tx *sql.Tx, f domain.Field) error {
	res, err := tx.ExecContext(ctx, `UPDATE fields SET name=?, position=?, required=?, min_value=?, max_value=?, default_value=?, max_length=?, pcre_check=?, pcre_search=?, pcre_replace=? WHERE id=?`,
		f.Name, f.Position, f.Required,
		nullableStringPtr(f.MinValue), nullableStringPtr(f.MaxValue), nullableStringPtr(f.DefaultValue),
		nullableIntPtr(f.MaxLength),
		nullableStringPtr(f.PCRECheck), nullableStringPtr(f.PCRESearch), nullableStringPtr(f.PCREReplace), f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetField(ctx context.Context, id string) (domain.Field, error) {
	return scanFieldRow(r.DB.QueryRowContext(ctx, `SELECT `+fieldCols+` FROM fields WHERE id=?`, id).Scan)
}

func (r Repo) GetFieldTx(ctx context.Context, tx *sql.Tx, id string) (domain.Field, error) {
	return scanFieldRow(tx.QueryRowContext(ctx, `SELECT `+fieldCols+` FROM fields WHERE id=?`, id).Scan)
}

// ListFields returns the state's fields ordered by position. Removed fields
// are excluded unless includeRemoved is set.
func (r Repo) ListFields(ctx context.Context, stateID string, includeRemoved bool) ([]domain.Field, error) {
	query := `SELECT ` + fieldCols + ` FROM fields WHERE state_id=?`
	if !includeRemoved {
		query += ` AND removed_at IS NULL`
	}
	query += ` ORDER BY position, id`
	rows, err := r.DB.QueryContext(ctx, query, stateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Field
	for rows.Next() {
		f, err := scanFieldRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// RemoveField soft-deletes: the row stays so historical values and changes
// keep resolving.
func (r Repo) RemoveField(ctx context.Context, tx *sql.Tx, id, removedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE fields SET removed_at=? WHERE id=? AND removed_at IS NULL`, removedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FieldPositionTaken scopes the uniqueness check to non-removed fields; a
// removed field may share a position with a live one.
func (r Repo) FieldPositionTaken(ctx context.Context, tx *sql.Tx, stateID string, position int, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM fields WHERE state_id=? AND position=? AND removed_at IS NULL AND id<>? LIMIT 1`,
		stateID, position, excludeID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) FieldNameTaken(ctx context.Context, tx *sql.Tx, stateID, name, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM fields WHERE state_id=? AND name=? AND removed_at IS NULL AND id<>? LIMIT 1`,
		stateID, name, excludeID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) MaxFieldPosition(ctx context.Context, tx *sql.Tx, stateID string) (int, error) {
	var max int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM fields WHERE state_id=? AND removed_at IS NULL`, stateID).Scan(&max)
	return max, err
}

// --- list items ---

func (r Repo) InsertListItem(ctx context.Context, tx *sql.Tx, item domain.ListItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO list_items(field_id,value,text) VALUES (?,?,?)`,
		item.FieldID, item.Value, item.Text)
	return err
}

func (r Repo) DeleteListItem(ctx context.Context, tx *sql.Tx, fieldID string, value int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE field_id=? AND value=?`, fieldID, value)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListItem looks up one item of a list field; a nil tx reads through the
// pool (the decode path).
func (r Repo) ListItem(ctx context.Context, tx *sql.Tx, fieldID string, value int64) (domain.ListItem, error) {
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, `SELECT field_id,value,text FROM list_items WHERE field_id=? AND value=?`, fieldID, value)
	} else {
		row = r.DB.QueryRowContext(ctx, `SELECT field_id,value,text FROM list_items WHERE field_id=? AND value=?`, fieldID, value)
	}
	var item domain.ListItem
	err := row.Scan(&item.FieldID, &item.Value, &item.Text)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	return item, err
}

func (r Repo) ListItems(ctx context.Context, fieldID string) ([]domain.ListItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT field_id,value,text FROM list_items WHERE field_id=? ORDER BY value`, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ListItem
	for rows.Next() {
		var item domain.ListItem
		if err := rows.Scan(&item.FieldID, &item.Value, &item.Text); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) ListItemTextTaken(ctx context.Context, tx *sql.Tx, fieldID, text string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM list_items WHERE field_id=? AND text=? LIMIT 1`, fieldID, text).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListItemValueTaken(ctx context.Context, tx *sql.Tx, fieldID string, value int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM list_items WHERE field_id=? AND value=? LIMIT 1`, fieldID, value).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListItemInUse reports whether any live field value still references the
// item. Historical change rows do not count; they resolve against the kept
// item row only until it is deleted, which the engine refuses while this
// returns true.
func (r Repo) ListItemInUse(ctx context.Context, tx *sql.Tx, fieldID string, value int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM field_values WHERE field_id=? AND raw_value=? LIMIT 1`, fieldID, value).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
