package fieldtype

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"tracker/internal/apperr"
	"tracker/internal/domain"
)

// checkboxFacade stores a boolean as 0/1. A null slot decodes to false.
type checkboxFacade struct {
	field domain.Field
}

func (c checkboxFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(c.field)
	}
	var raw int64
	switch input {
	case "true":
		raw = 1
	case "false":
		raw = 0
	default:
		return nil, apperr.ValidationError{Field: c.field.Name, Reason: "must be true or false"}
	}
	return &raw, nil
}

func (c checkboxFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil || *raw == 0 {
		return "false", nil
	}
	return "true", nil
}

func (c checkboxFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	return c.Decode(dc, raw)
}

func (c checkboxFacade) Constraints() ConstraintSet {
	return baseConstraints(c.field)
}

// numberFacade stores a plain integer within the configured range.
type numberFacade struct {
	field domain.Field
}

func (n numberFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(n.field)
	}
	v, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return nil, apperr.ValidationError{Field: n.field.Name, Reason: "must be an integer"}
	}
	min, max, err := intBounds(n.field, -MaxNumberBound, MaxNumberBound)
	if err != nil {
		return nil, err
	}
	if v < min || v > max {
		return nil, apperr.ValidationError{
			Field:  n.field.Name,
			Reason: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}
	return &v, nil
}

func (n numberFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return strconv.FormatInt(*raw, 10), nil
}

func (n numberFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	return n.Decode(dc, raw)
}

func (n numberFacade) Constraints() ConstraintSet {
	return baseConstraints(n.field)
}

// durationFacade stores total minutes and exposes an "H:MM" string.
type durationFacade struct {
	field domain.Field
}

var durationPattern = regexp.MustCompile(`^(\d{1,6}):([0-5]\d)$`)

// ParseDuration converts "H:MM" to total minutes.
func ParseDuration(s string) (int64, bool) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.ParseInt(m[1], 10, 64)
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	return hours*60 + minutes, true
}

// FormatDuration converts total minutes back to "H:MM".
func FormatDuration(minutes int64) string {
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}

func (d durationFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(d.field)
	}
	v, ok := ParseDuration(input)
	if !ok {
		return nil, apperr.ValidationError{Field: d.field.Name, Reason: "must be in H:MM format"}
	}
	min, max, err := durationBounds(d.field)
	if err != nil {
		return nil, err
	}
	if v < min || v > max {
		return nil, apperr.ValidationError{
			Field:  d.field.Name,
			Reason: fmt.Sprintf("must be between %s and %s", FormatDuration(min), FormatDuration(max)),
		}
	}
	return &v, nil
}

func (d durationFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return FormatDuration(*raw), nil
}

func (d durationFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	return d.Decode(dc, raw)
}

func (d durationFacade) Constraints() ConstraintSet {
	return baseConstraints(d.field)
}

// dateFacade works in day offsets relative to "today" in the viewer's
// timezone; the raw slot holds the absolute epoch-day. Decode therefore
// depends on the context's timezone and clock, both explicit inputs.
type dateFacade struct {
	field domain.Field
}

// EpochDay returns the number of whole days between the civil date of t in
// tz and 1970-01-01.
func EpochDay(t time.Time, tz *time.Location) int64 {
	if tz == nil {
		tz = time.UTC
	}
	local := t.In(tz)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// FormatEpochDay renders an absolute epoch-day as a civil date.
func FormatEpochDay(day int64) string {
	return time.Unix(day*86400, 0).UTC().Format("2006-01-02")
}

func (d dateFacade) Encode(ec EncodeContext, input string) (*int64, error) {
	if input == "" {
		return emptyInput(d.field)
	}
	offset, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return nil, apperr.ValidationError{Field: d.field.Name, Reason: "must be a day offset integer"}
	}
	min, max, err := intBounds(d.field, -100*365, 100*365)
	if err != nil {
		return nil, err
	}
	if offset < min || offset > max {
		return nil, apperr.ValidationError{
			Field:  d.field.Name,
			Reason: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}
	raw := EpochDay(ec.now(), ec.TZ) + offset
	return &raw, nil
}

func (d dateFacade) Decode(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	offset := *raw - EpochDay(dc.now(), dc.TZ)
	return strconv.FormatInt(offset, 10), nil
}

func (d dateFacade) Display(dc DecodeContext, raw *int64) (string, error) {
	if raw == nil {
		return "", nil
	}
	return FormatEpochDay(*raw), nil
}

func (d dateFacade) Constraints() ConstraintSet {
	return baseConstraints(d.field)
}

// intBounds parses the field's min/max parameters as integers, falling back
// to the type's hard limits. Unparseable parameters are a configuration
// fault, not a value fault.
func intBounds(f domain.Field, lo, hi int64) (int64, int64, error) {
	min, max := lo, hi
	if f.MinValue != nil {
		v, err := strconv.ParseInt(*f.MinValue, 10, 64)
		if err != nil {
			return 0, 0, apperr.ConfigurationError{Field: f.Name, Reason: "minimum is not an integer"}
		}
		min = v
	}
	if f.MaxValue != nil {
		v, err := strconv.ParseInt(*f.MaxValue, 10, 64)
		if err != nil {
			return 0, 0, apperr.ConfigurationError{Field: f.Name, Reason: "maximum is not an integer"}
		}
		max = v
	}
	return min, max, nil
}

func durationBounds(f domain.Field) (int64, int64, error) {
	min, max := int64(0), int64(MaxDurationMin)
	if f.MinValue != nil {
		v, ok := ParseDuration(*f.MinValue)
		if !ok {
			return 0, 0, apperr.ConfigurationError{Field: f.Name, Reason: "minimum is not in H:MM format"}
		}
		min = v
	}
	if f.MaxValue != nil {
		v, ok := ParseDuration(*f.MaxValue)
		if !ok {
			return 0, 0, apperr.ConfigurationError{Field: f.Name, Reason: "maximum is not in H:MM format"}
		}
		max = v
	}
	return min, max, nil
}
