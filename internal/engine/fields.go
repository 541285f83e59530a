package engine

import (
	"context"
	"database/sql"
	"fmt"

	"tracker/internal/apperr"
	"tracker/internal/domain"
	"tracker/internal/fieldtype"
)

type FieldCreateOptions struct {
	StateID      string
	Name         string
	Type         domain.FieldType
	Required     bool
	Position     int // 0 appends after the state's last field
	MinValue     *string
	MaxValue     *string
	DefaultValue *string
	MaxLength    *int
	PCRECheck    *string
	PCRESearch   *string
	PCREReplace  *string
}

// CreateField adds a field to a state. Parameters are validated against the
// type's rules before anything is written; a bad parameter set is a
// configuration error, distinct from the validation errors bad values get
// later.
func (e Engine) CreateField(ctx context.Context, opts FieldCreateOptions) (domain.Field, error) {
	if opts.Name == "" {
		return domain.Field{}, fmt.Errorf("name is required")
	}
	if !opts.Type.Valid() {
		return domain.Field{}, apperr.ConfigurationError{Field: opts.Name, Reason: fmt.Sprintf("unknown field type %s", opts.Type)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Field{}, err
	}
	defer tx.Rollback()

	state, err := e.Repo.GetStateTx(ctx, tx, opts.StateID)
	if err != nil {
		return domain.Field{}, err
	}
	if err := e.requireUnlocked(ctx, tx, state.TemplateID); err != nil {
		return domain.Field{}, err
	}

	position := opts.Position
	if position == 0 {
		max, err := e.Repo.MaxFieldPosition(ctx, tx, state.ID)
		if err != nil {
			return domain.Field{}, err
		}
		position = max + 1
	} else {
		taken, err := e.Repo.FieldPositionTaken(ctx, tx, state.ID, position, "")
		if err != nil {
			return domain.Field{}, err
		}
		if taken {
			return domain.Field{}, apperr.ConflictError{Reason: fmt.Sprintf("position %d already taken in state %s", position, state.Name)}
		}
	}
	taken, err := e.Repo.FieldNameTaken(ctx, tx, state.ID, opts.Name, "")
	if err != nil {
		return domain.Field{}, err
	}
	if taken {
		return domain.Field{}, apperr.ConflictError{Reason: fmt.Sprintf("field name %s already exists in state %s", opts.Name, state.Name)}
	}

	f := domain.Field{
		ID:           newID(),
		StateID:      state.ID,
		Name:         opts.Name,
		Type:         opts.Type,
		Position:     position,
		Required:     opts.Required,
		MinValue:     opts.MinValue,
		MaxValue:     opts.MaxValue,
		DefaultValue: opts.DefaultValue,
		MaxLength:    opts.MaxLength,
		PCRECheck:    opts.PCRECheck,
		PCRESearch:   opts.PCRESearch,
		PCREReplace:  opts.PCREReplace,
	}
	if err := fieldtype.ValidateParams(f); err != nil {
		return domain.Field{}, err
	}
	if err := e.Repo.InsertField(ctx, tx, f); err != nil {
		return domain.Field{}, fmt.Errorf("insert field: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Field{}, err
	}
	return f, nil
}

type FieldUpdateOptions struct {
	FieldID      string
	Name         string
	Required     bool
	Position     int
	MinValue     *string
	MaxValue     *string
	DefaultValue *string
	MaxLength    *int
	PCRECheck    *string
	PCRESearch   *string
	PCREReplace  *string
}

// UpdateField rewrites the field's mutable attributes. The type tag never
// changes: stored raw values would silently reinterpret.
func (e Engine) UpdateField(ctx context.Context, opts FieldUpdateOptions) (domain.Field, error) {
	if opts.Name == "" {
		return domain.Field{}, fmt.Errorf("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Field{}, err
	}
	defer tx.Rollback()

	f, err := e.Repo.GetFieldTx(ctx, tx, opts.FieldID)
	if err != nil {
		return domain.Field{}, err
	}
	if f.Removed() {
		return domain.Field{}, apperr.ConflictError{Reason: fmt.Sprintf("field %s has been removed", f.Name)}
	}
	state, err := e.Repo.GetStateTx(ctx, tx, f.StateID)
	if err != nil {
		return domain.Field{}, err
	}
	if err := e.requireUnlocked(ctx, tx, state.TemplateID); err != nil {
		return domain.Field{}, err
	}

	position := opts.Position
	if position == 0 {
		position = f.Position
	}
	if position != f.Position {
		taken, err := e.Repo.FieldPositionTaken(ctx, tx, f.StateID, position, f.ID)
		if err != nil {
			return domain.Field{}, err
		}
		if taken {
			return domain.Field{}, apperr.ConflictError{Reason: fmt.Sprintf("position %d already taken in state %s", position, state.Name)}
		}
	}
	if opts.Name != f.Name {
		taken, err := e.Repo.FieldNameTaken(ctx, tx, f.StateID, opts.Name, f.ID)
		if err != nil {
			return domain.Field{}, err
		}
		if taken {
			return domain.Field{}, apperr.ConflictError{Reason: fmt.Sprintf("field name %s already exists in state %s", opts.Name, state.Name)}
		}
	}

	f.Name = opts.Name
	f.Required = opts.Required
	f.Position = position
	f.MinValue = opts.MinValue
	f.MaxValue = opts.MaxValue
	f.DefaultValue = opts.DefaultValue
	f.MaxLength = opts.MaxLength
	f.PCRECheck = opts.PCRECheck
	f.PCRESearch = opts.PCRESearch
	f.PCREReplace = opts.PCREReplace
	if err := fieldtype.ValidateParams(f); err != nil {
		return domain.Field{}, err
	}
	if err := e.Repo.UpdateField(ctx, tx, f); err != nil {
		return domain.Field{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Field{}, err
	}
	return f, nil
}

// RemoveField soft-deletes the field. Its row and any stored values stay so
// change history keeps resolving.
func (e Engine) RemoveField(ctx context.Context, fieldID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	f, err := e.Repo.GetFieldTx(ctx, tx, fieldID)
	if err != nil {
		return err
	}
	if f.Removed() {
		return apperr.ConflictError{Reason: fmt.Sprintf("field %s has already been removed", f.Name)}
	}
	state, err := e.Repo.GetStateTx(ctx, tx, f.StateID)
	if err != nil {
		return err
	}
	if err := e.requireUnlocked(ctx, tx, state.TemplateID); err != nil {
		return err
	}
	if err := e.Repo.RemoveField(ctx, tx, fieldID, e.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}

// --- list items ---

// AddListItem adds an item to a list field. Both the numeric value and the
// text must be unique within the field.
func (e Engine) AddListItem(ctx context.Context, fieldID string, value int64, text string) (domain.ListItem, error) {
	if text == "" {
		return domain.ListItem{}, fmt.Errorf("text is required")
	}
	if value < 1 {
		return domain.ListItem{}, apperr.ValidationError{Field: "value", Reason: "list item values start at 1"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ListItem{}, err
	}
	defer tx.Rollback()

	f, err := e.listField(ctx, tx, fieldID)
	if err != nil {
		return domain.ListItem{}, err
	}
	taken, err := e.Repo.ListItemValueTaken(ctx, tx, f.ID, value)
	if err != nil {
		return domain.ListItem{}, err
	}
	if taken {
		return domain.ListItem{}, apperr.ConflictError{Reason: fmt.Sprintf("list item value %d already exists on field %s", value, f.Name)}
	}
	taken, err = e.Repo.ListItemTextTaken(ctx, tx, f.ID, text)
	if err != nil {
		return domain.ListItem{}, err
	}
	if taken {
		return domain.ListItem{}, apperr.ConflictError{Reason: fmt.Sprintf("list item text %q already exists on field %s", text, f.Name)}
	}
	item := domain.ListItem{FieldID: f.ID, Value: value, Text: text}
	if err := e.Repo.InsertListItem(ctx, tx, item); err != nil {
		return domain.ListItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ListItem{}, err
	}
	return item, nil
}

// DeleteListItem removes an item unless a live field value still points at
// it; historical change rows alone do not block deletion.
func (e Engine) DeleteListItem(ctx context.Context, fieldID string, value int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	f, err := e.listField(ctx, tx, fieldID)
	if err != nil {
		return err
	}
	inUse, err := e.Repo.ListItemInUse(ctx, tx, f.ID, value)
	if err != nil {
		return err
	}
	if inUse {
		return apperr.ConflictError{Reason: fmt.Sprintf("list item %d on field %s is still in use", value, f.Name)}
	}
	if err := e.Repo.DeleteListItem(ctx, tx, f.ID, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) listField(ctx context.Context, tx *sql.Tx, fieldID string) (domain.Field, error) {
	f, err := e.Repo.GetFieldTx(ctx, tx, fieldID)
	if err != nil {
		return domain.Field{}, err
	}
	if f.Type != domain.FieldList {
		return domain.Field{}, apperr.ConfigurationError{Field: f.Name, Reason: "not a list field"}
	}
	state, err := e.Repo.GetStateTx(ctx, tx, f.StateID)
	if err != nil {
		return domain.Field{}, err
	}
	if err := e.requireUnlocked(ctx, tx, state.TemplateID); err != nil {
		return domain.Field{}, err
	}
	return f, nil
}
