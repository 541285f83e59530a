package fieldtype

import (
	"fmt"
	"strconv"

	"tracker/internal/apperr"
	"tracker/internal/domain"
)

// issueFacade stores the referenced issue's rowid. Encode verifies the
// target exists; a dangling reference is a NotFound, not a validation error.
type issueFacade struct {
	field domain.Field
}

func (f issueFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(f.field)
	}
	rowID, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return nil, apperr.ValidationError{Field: f.field.Name, Reason: "must be an issue number"}
	}
	if ec.Issues == nil {
		return nil, fmt.Errorf("issue resolver not configured")
	}
	ok, err := ec.Issues.IssueRowExists(ec.Ctx, ec.Tx, rowID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("issue", input)
	}
	return &rowID, nil
}

func (f issueFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return strconv.FormatInt(*raw, 10), nil
}

func (f issueFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	return f.Decode(dc, raw)
}

func (f issueFacade) Constraints() ConstraintSet {
	return baseConstraints(f.field)
}

// listFacade stores the item's per-field value. Encode verifies the item
// belongs to this field; Display resolves it to the item text.
type listFacade struct {
	field domain.Field
}

func (f listFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(f.field)
	}
	value, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return nil, apperr.ValidationError{Field: f.field.Name, Reason: "must be a list item value"}
	}
	if ec.Items == nil {
		return nil, fmt.Errorf("list resolver not configured")
	}
	if _, err := ec.Items.ListItem(ec.Ctx, ec.Tx, f.field.ID, value); err != nil {
		return nil, err
	}
	return &value, nil
}

func (f listFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return strconv.FormatInt(*raw, 10), nil
}

func (f listFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	if dc.Items == nil {
		return "", fmt.Errorf("list resolver not configured")
	}
	item, err := dc.Items.ListItem(dc.Ctx, nil, f.field.ID, *raw)
	if err != nil {
		return "", err
	}
	return item.Text, nil
}

func (f listFacade) Constraints() ConstraintSet {
	return baseConstraints(f.field)
}
