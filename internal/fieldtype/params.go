package fieldtype

import (
	"fmt"
	"regexp"
	"strconv"

	"tracker/internal/apperr"
	"tracker/internal/domain"
)

// ValidateParams checks a field's own parameters for internal consistency.
// Violations are configuration faults raised at field create/update time;
// value writes against a validated field can only fail with value errors.
func ValidateParams(f domain.Field) error {
	switch f.Type {
	case domain.FieldCheckbox:
		if f.DefaultValue != nil && *f.DefaultValue != "true" && *f.DefaultValue != "false" {
			return apperr.ConfigurationError{Field: f.Name, Reason: "default must be true or false"}
		}
		return nil
	case domain.FieldDate:
		return validateIntParams(f, -100*365, 100*365)
	case domain.FieldNumber:
		return validateIntParams(f, -MaxNumberBound, MaxNumberBound)
	case domain.FieldDuration:
		return validateDurationParams(f)
	case domain.FieldDecimal:
		return validateDecimalParams(f)
	case domain.FieldString:
		return validateTextualParams(f, MaxStringLength)
	case domain.FieldText:
		return validateTextualParams(f, MaxTextLength)
	case domain.FieldIssue, domain.FieldList:
		// No scalar parameters; list defaults are checked against the item
		// set by the engine once items exist.
		return nil
	default:
		return apperr.ConfigurationError{Field: f.Name, Reason: fmt.Sprintf("unknown type %s", f.Type)}
	}
}

func validateIntParams(f domain.Field, lo, hi int64) error {
	min, max, err := intBounds(f, lo, hi)
	if err != nil {
		return err
	}
	if min > max {
		return apperr.ConfigurationError{Field: f.Name, Reason: "minimum is greater than maximum"}
	}
	if f.DefaultValue != nil {
		d, err := strconv.ParseInt(*f.DefaultValue, 10, 64)
		if err != nil {
			return apperr.ConfigurationError{Field: f.Name, Reason: "default is not an integer"}
		}
		if d < min || d > max {
			return apperr.ConfigurationError{
				Field:  f.Name,
				Reason: fmt.Sprintf("default %d is outside %d..%d", d, min, max),
			}
		}
	}
	return nil
}

func validateDurationParams(f domain.Field) error {
	min, max, err := durationBounds(f)
	if err != nil {
		return err
	}
	if min > max {
		return apperr.ConfigurationError{Field: f.Name, Reason: "minimum is greater than maximum"}
	}
	if f.DefaultValue != nil {
		d, ok := ParseDuration(*f.DefaultValue)
		if !ok {
			return apperr.ConfigurationError{Field: f.Name, Reason: "default is not in H:MM format"}
		}
		if d < min || d > max {
			return apperr.ConfigurationError{
				Field:  f.Name,
				Reason: fmt.Sprintf("default %s is outside %s..%s", FormatDuration(d), FormatDuration(min), FormatDuration(max)),
			}
		}
	}
	return nil
}

func validateDecimalParams(f domain.Field) error {
	min, max, err := decimalBounds(f)
	if err != nil {
		return err
	}
	if min != nil && max != nil && min.Cmp(*max) > 0 {
		return apperr.ConfigurationError{Field: f.Name, Reason: "minimum is greater than maximum"}
	}
	if f.DefaultValue != nil {
		d, err := ParseDecimal(*f.DefaultValue)
		if err != nil {
			return apperr.ConfigurationError{Field: f.Name, Reason: "default: " + err.Error()}
		}
		if (min != nil && d.Cmp(*min) < 0) || (max != nil && d.Cmp(*max) > 0) {
			return apperr.ConfigurationError{
				Field:  f.Name,
				Reason: fmt.Sprintf("default %s is outside %s..%s", d.String(), boundString(min), boundString(max)),
			}
		}
	}
	return nil
}

func validateTextualParams(f domain.Field, hardLimit int) error {
	limit := hardLimit
	if f.MaxLength != nil {
		if *f.MaxLength < 1 || *f.MaxLength > hardLimit {
			return apperr.ConfigurationError{
				Field:  f.Name,
				Reason: fmt.Sprintf("max length must be within 1..%d", hardLimit),
			}
		}
		limit = *f.MaxLength
	}
	var re *regexp.Regexp
	if f.PCRECheck != nil {
		var err error
		re, err = regexp.Compile(*f.PCRECheck)
		if err != nil {
			return apperr.ConfigurationError{Field: f.Name, Reason: "check pattern does not compile"}
		}
	}
	if f.PCRESearch != nil {
		if _, err := regexp.Compile(*f.PCRESearch); err != nil {
			return apperr.ConfigurationError{Field: f.Name, Reason: "search pattern does not compile"}
		}
	}
	if f.DefaultValue != nil {
		if len([]rune(*f.DefaultValue)) > limit {
			return apperr.ConfigurationError{Field: f.Name, Reason: "default is longer than max length"}
		}
		if re != nil && !re.MatchString(*f.DefaultValue) {
			return apperr.ConfigurationError{Field: f.Name, Reason: "default does not match check pattern"}
		}
	}
	return nil
}
