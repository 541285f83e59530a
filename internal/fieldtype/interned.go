package fieldtype

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"tracker/internal/apperr"
	"tracker/internal/domain"
)

// decimalFacade interns the canonical decimal string and stores the
// surrogate id. All comparisons are exact decimal comparisons at up to ten
// fractional digits; floats never enter the path.
type decimalFacade struct {
	field domain.Field
}

// ParseDecimal parses and canonicalizes a decimal input at the fixed scale.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a decimal: %w", err)
	}
	if d.Exponent() < -DecimalScale {
		return decimal.Decimal{}, fmt.Errorf("more than %d fractional digits", DecimalScale)
	}
	return d, nil
}

func (f decimalFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(f.field)
	}
	d, err := ParseDecimal(input)
	if err != nil {
		return nil, apperr.ValidationError{Field: f.field.Name, Reason: err.Error()}
	}
	min, max, err := decimalBounds(f.field)
	if err != nil {
		return nil, err
	}
	if (min != nil && d.Cmp(*min) < 0) || (max != nil && d.Cmp(*max) > 0) {
		return nil, apperr.ValidationError{
			Field:  f.field.Name,
			Reason: fmt.Sprintf("must be between %s and %s", boundString(min), boundString(max)),
		}
	}
	id, err := ec.Interner.GetOrCreateDecimal(ec.Ctx, ec.Tx, d.String())
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (f decimalFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return dc.Interner.LookupDecimal(dc.Ctx, *raw)
}

func (f decimalFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	return f.Decode(dc, raw)
}

func (f decimalFacade) Constraints() ConstraintSet {
	return baseConstraints(f.field)
}

func decimalBounds(f domain.Field) (*decimal.Decimal, *decimal.Decimal, error) {
	var min, max *decimal.Decimal
	if f.MinValue != nil {
		d, err := ParseDecimal(*f.MinValue)
		if err != nil {
			return nil, nil, apperr.ConfigurationError{Field: f.Name, Reason: "minimum: " + err.Error()}
		}
		min = &d
	}
	if f.MaxValue != nil {
		d, err := ParseDecimal(*f.MaxValue)
		if err != nil {
			return nil, nil, apperr.ConfigurationError{Field: f.Name, Reason: "maximum: " + err.Error()}
		}
		max = &d
	}
	return min, max, nil
}

func boundString(d *decimal.Decimal) string {
	if d == nil {
		return "unbounded"
	}
	return d.String()
}

// stringFacade interns single-line strings. Length and format violations
// carry distinct messages so the caller can tell them apart.
type stringFacade struct {
	field domain.Field
}

func (f stringFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(f.field)
	}
	if err := checkTextual(f.field, input, MaxStringLength); err != nil {
		return nil, err
	}
	id, err := ec.Interner.GetOrCreateString(ec.Ctx, ec.Tx, input)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (f stringFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return dc.Interner.LookupString(dc.Ctx, *raw)
}

func (f stringFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	value, err := f.Decode(dc, raw)
	if err != nil {
		return "", err
	}
	return rewrite(f.field, value)
}

func (f stringFacade) Constraints() ConstraintSet {
	cs := baseConstraints(f.field)
	if cs.MaxLength == nil {
		limit := MaxStringLength
		cs.MaxLength = &limit
	}
	return cs
}

// textFacade interns long text, deduplicated by hash.
type textFacade struct {
	field domain.Field
}

func (f textFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(f.field)
	}
	if err := checkTextual(f.field, input, MaxTextLength); err != nil {
		return nil, err
	}
	id, err := ec.Interner.GetOrCreateText(ec.Ctx, ec.Tx, input)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (f textFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return dc.Interner.LookupText(dc.Ctx, *raw)
}

func (f textFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	value, err := f.Decode(dc, raw)
	if err != nil {
		return "", err
	}
	return rewrite(f.field, value)
}

func (f textFacade) Constraints() ConstraintSet {
	cs := baseConstraints(f.field)
	if cs.MaxLength == nil {
		limit := MaxTextLength
		cs.MaxLength = &limit
	}
	return cs
}

func checkTextual(f domain.Field, input string, hardLimit int) error {
	limit := hardLimit
	if f.MaxLength != nil {
		limit = *f.MaxLength
	}
	if len([]rune(input)) > limit {
		return apperr.ValidationError{
			Field:  f.Name,
			Reason: fmt.Sprintf("must be at most %d characters", limit),
		}
	}
	if f.PCRECheck != nil {
		re, err := regexp.Compile(*f.PCRECheck)
		if err != nil {
			return apperr.ConfigurationError{Field: f.Name, Reason: "check pattern does not compile"}
		}
		if !re.MatchString(input) {
			return apperr.ValidationError{
				Field:  f.Name,
				Reason: fmt.Sprintf("must match pattern %s", *f.PCRECheck),
			}
		}
	}
	return nil
}

// rewrite applies the field's display-time search/replace, if configured.
func rewrite(f domain.Field, value string) (string, error) {
	if f.PCRESearch == nil || f.PCREReplace == nil || value == "" {
		return value, nil
	}
	re, err := regexp.Compile(*f.PCRESearch)
	if err != nil {
		return "", apperr.ConfigurationError{Field: f.Name, Reason: "search pattern does not compile"}
	}
	return re.ReplaceAllString(value, *f.PCREReplace), nil
}
