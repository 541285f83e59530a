// Package fieldtype translates between human-facing typed values and the
// raw integer storage slot every field value shares. One facade per member
// of the closed nine-type set; the switch in New is the single dispatch
// point, so adding a type without handling it everywhere fails to compile.
package fieldtype

import (
	"context"
	"database/sql"
	"time"

	"tracker/internal/apperr"
	"tracker/internal/domain"
	"tracker/internal/intern"
)

// Storage caps shared with the schema. Values beyond these are rejected at
// encode time; parameters beyond these are rejected at configuration time.
const (
	MaxStringLength = 250
	MaxTextLength   = 4000
	MaxNumberBound  = 1_000_000_000
	MaxDurationMin  = 999999*60 + 59
	DecimalScale    = 10
)

// IssueResolver checks that a cross-issue reference points at a real issue.
type IssueResolver interface {
	IssueRowExists(ctx context.Context, tx *sql.Tx, rowID int64) (bool, error)
}

// ListResolver resolves a list field's item by its per-field value.
type ListResolver interface {
	ListItem(ctx context.Context, tx *sql.Tx, fieldID string, value int64) (domain.ListItem, error)
}

// EncodeContext carries the collaborators encode needs. Tx is the caller's
// transaction; interning and reference checks happen inside it so a rolled
// back write leaves nothing behind.
type EncodeContext struct {
	Ctx      context.Context
	Tx       *sql.Tx
	Interner *intern.Interner
	Issues   IssueResolver
	Items    ListResolver
	TZ       *time.Location
	Now      func() time.Time
}

// DecodeContext carries the viewer-dependent inputs of decode. The timezone
// is an explicit parameter, never ambient state: date decode is a pure
// function of (raw, tz, now).
type DecodeContext struct {
	Ctx      context.Context
	Interner *intern.Interner
	Items    ListResolver
	TZ       *time.Location
	Now      func() time.Time
}

func (dc DecodeContext) now() time.Time {
	if dc.Now != nil {
		return dc.Now()
	}
	return time.Now()
}

func (ec EncodeContext) now() time.Time {
	if ec.Now != nil {
		return ec.Now()
	}
	return time.Now()
}

// ConstraintSet is the declarative validation contract handed to the
// external validation collaborator. Encode re-checks all of it regardless.
type ConstraintSet struct {
	Required  bool    `json:"required"`
	Min       *string `json:"min,omitempty"`
	Max       *string `json:"max,omitempty"`
	MaxLength *int    `json:"max_length,omitempty"`
	Pattern   *string `json:"pattern,omitempty"`
	Default   *string `json:"default,omitempty"`
}

// Facade is the typed view over a field's raw storage slot.
//
// Decode is the exact inverse of Encode for every value that satisfies the
// field's constraints; the one exception is the date facade, whose result
// additionally depends on the decode context's timezone and clock.
type Facade interface {
	// Encode validates the canonical input against the field's parameters
	// and produces the raw slot value. Interned types get-or-create their
	// surrogate inside the context's transaction.
	Encode(ec EncodeContext, input string) (*int64, error)
	// Decode resolves the raw slot back to the canonical representation.
	Decode(dc DecodeContext, raw *int64) (string, error)
	// Display renders the raw slot for presentation: civil dates, list item
	// texts, and the field's search/replace rewrite for string and text.
	Display(dc DecodeContext, raw *int64) (string, error)
	// Constraints derives the validation contract from stored parameters.
	Constraints() ConstraintSet
}

// New returns the facade for the field's type tag. The switch is exhaustive
// over the closed set.
func New(f domain.Field) Facade {
	switch f.Type {
	case domain.FieldCheckbox:
		return checkboxFacade{f}
	case domain.FieldDate:
		return dateFacade{f}
	case domain.FieldDecimal:
		return decimalFacade{f}
	case domain.FieldDuration:
		return durationFacade{f}
	case domain.FieldIssue:
		return issueFacade{f}
	case domain.FieldList:
		return listFacade{f}
	case domain.FieldNumber:
		return numberFacade{f}
	case domain.FieldString:
		return stringFacade{f}
	case domain.FieldText:
		return textFacade{f}
	default:
		panic("unknown field type " + string(f.Type))
	}
}

// emptyInput handles the shared required-but-null rule: empty input on a
// required field is a validation failure, on an optional field it clears
// the slot.
func emptyInput(f domain.Field) (*int64, error) {
	if f.Required {
		return nil, apperr.ValidationError{Field: f.Name, Reason: "value is required"}
	}
	return nil, nil
}

func baseConstraints(f domain.Field) ConstraintSet {
	return ConstraintSet{
		Required:  f.Required,
		Min:       f.MinValue,
		Max:       f.MaxValue,
		MaxLength: f.MaxLength,
		Pattern:   f.PCRECheck,
		Default:   f.DefaultValue,
	}
}
