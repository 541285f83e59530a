package fieldtype_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/apperr"
	"tracker/internal/domain"
	"tracker/internal/fieldtype"
)

func strPtr(s string) *string { return &s }
func intPtr(v int) *int       { return &v }

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
}

func TestCheckboxRoundTrip(t *testing.T) {
	f := domain.Field{Name: "done", Type: domain.FieldCheckbox}
	facade := fieldtype.New(f)

	raw, err := facade.Encode(fieldtype.EncodeContext{}, "true")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, int64(1), *raw)

	value, err := facade.Decode(fieldtype.DecodeContext{}, raw)
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	// a null slot reads as false, not as empty
	value, err = facade.Decode(fieldtype.DecodeContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "false", value)

	_, err = facade.Encode(fieldtype.EncodeContext{}, "yes")
	assert.True(t, apperr.IsValidation(err))
}

func TestNumberBounds(t *testing.T) {
	f := domain.Field{
		Name:     "severity",
		Type:     domain.FieldNumber,
		MinValue: strPtr("1"),
		MaxValue: strPtr("5"),
	}
	facade := fieldtype.New(f)

	raw, err := facade.Encode(fieldtype.EncodeContext{}, "3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *raw)

	_, err = facade.Encode(fieldtype.EncodeContext{}, "6")
	assert.True(t, apperr.IsValidation(err))
	_, err = facade.Encode(fieldtype.EncodeContext{}, "0")
	assert.True(t, apperr.IsValidation(err))
	_, err = facade.Encode(fieldtype.EncodeContext{}, "three")
	assert.True(t, apperr.IsValidation(err))

	// unparseable bounds are a configuration fault, not a value fault
	broken := fieldtype.New(domain.Field{Name: "b", Type: domain.FieldNumber, MinValue: strPtr("low")})
	_, err = broken.Encode(fieldtype.EncodeContext{}, "3")
	assert.True(t, apperr.IsConfiguration(err))
}

func TestRequiredAndOptionalEmpty(t *testing.T) {
	required := fieldtype.New(domain.Field{Name: "n", Type: domain.FieldNumber, Required: true})
	_, err := required.Encode(fieldtype.EncodeContext{}, "")
	assert.True(t, apperr.IsValidation(err))

	optional := fieldtype.New(domain.Field{Name: "n", Type: domain.FieldNumber})
	raw, err := optional.Encode(fieldtype.EncodeContext{}, "")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestDurationFormat(t *testing.T) {
	facade := fieldtype.New(domain.Field{Name: "spent", Type: domain.FieldDuration})

	raw, err := facade.Encode(fieldtype.EncodeContext{}, "2:30")
	require.NoError(t, err)
	assert.Equal(t, int64(150), *raw)

	value, err := facade.Decode(fieldtype.DecodeContext{}, raw)
	require.NoError(t, err)
	assert.Equal(t, "2:30", value)

	for _, bad := range []string{"2:60", "2.5", ":30", "2:3", "-1:00"} {
		_, err := facade.Encode(fieldtype.EncodeContext{}, bad)
		assert.Truef(t, apperr.IsValidation(err), "input %q: %v", bad, err)
	}

	minutes, ok := fieldtype.ParseDuration("999999:59")
	require.True(t, ok)
	assert.Equal(t, "999999:59", fieldtype.FormatDuration(minutes))
}

func TestDateOffsetsFollowViewerZone(t *testing.T) {
	facade := fieldtype.New(domain.Field{Name: "due", Type: domain.FieldDate})
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC is already the next civil day in Tokyo
	utcDay := fieldtype.EpochDay(fixedClock(), time.UTC)
	tokyoDay := fieldtype.EpochDay(fixedClock(), tokyo)
	assert.Equal(t, utcDay+1, tokyoDay)

	ec := fieldtype.EncodeContext{TZ: time.UTC, Now: fixedClock}
	raw, err := facade.Encode(ec, "7")
	require.NoError(t, err)
	assert.Equal(t, utcDay+7, *raw)

	// the same slot reads back as a different offset for a Tokyo viewer
	value, err := facade.Decode(fieldtype.DecodeContext{TZ: time.UTC, Now: fixedClock}, raw)
	require.NoError(t, err)
	assert.Equal(t, "7", value)
	value, err = facade.Decode(fieldtype.DecodeContext{TZ: tokyo, Now: fixedClock}, raw)
	require.NoError(t, err)
	assert.Equal(t, "6", value)

	// display is the absolute civil date, independent of the viewer
	display, err := facade.Display(fieldtype.DecodeContext{TZ: tokyo, Now: fixedClock}, raw)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-08", display)
}

func TestDateWindowBounds(t *testing.T) {
	facade := fieldtype.New(domain.Field{
		Name:         "due",
		Type:         domain.FieldDate,
		MinValue:     strPtr("1"),
		MaxValue:     strPtr("7"),
		DefaultValue: strPtr("3"),
	})
	ec := fieldtype.EncodeContext{TZ: time.UTC, Now: fixedClock}

	_, err := facade.Encode(ec, "0")
	require.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "between 1 and 7")

	raw, err := facade.Encode(ec, "3")
	require.NoError(t, err)
	value, err := facade.Decode(fieldtype.DecodeContext{TZ: time.UTC, Now: fixedClock}, raw)
	require.NoError(t, err)
	assert.Equal(t, "3", value)
}

func TestParseDecimal(t *testing.T) {
	d, err := fieldtype.ParseDecimal("12.50")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	_, err = fieldtype.ParseDecimal("0.12345678901")
	assert.Error(t, err, "eleven fractional digits must be rejected")
	_, err = fieldtype.ParseDecimal("12,5")
	assert.Error(t, err)
}

func TestValidateParams(t *testing.T) {
	cases := []struct {
		name  string
		field domain.Field
		ok    bool
	}{
		{"number ok", domain.Field{Type: domain.FieldNumber, MinValue: strPtr("1"), MaxValue: strPtr("5"), DefaultValue: strPtr("3")}, true},
		{"number min above max", domain.Field{Type: domain.FieldNumber, MinValue: strPtr("5"), MaxValue: strPtr("1")}, false},
		{"number default outside", domain.Field{Type: domain.FieldNumber, MinValue: strPtr("1"), MaxValue: strPtr("5"), DefaultValue: strPtr("9")}, false},
		{"number bad bound", domain.Field{Type: domain.FieldNumber, MinValue: strPtr("low")}, false},
		{"checkbox bad default", domain.Field{Type: domain.FieldCheckbox, DefaultValue: strPtr("maybe")}, false},
		{"duration ok", domain.Field{Type: domain.FieldDuration, MinValue: strPtr("0:30"), MaxValue: strPtr("8:00")}, true},
		{"duration bad format", domain.Field{Type: domain.FieldDuration, MinValue: strPtr("30m")}, false},
		{"decimal ok", domain.Field{Type: domain.FieldDecimal, MinValue: strPtr("0"), MaxValue: strPtr("99.99")}, true},
		{"decimal min above max", domain.Field{Type: domain.FieldDecimal, MinValue: strPtr("10"), MaxValue: strPtr("1")}, false},
		{"string ok", domain.Field{Type: domain.FieldString, MaxLength: intPtr(40), PCRECheck: strPtr(`^[A-Z]`)}, true},
		{"string max length too big", domain.Field{Type: domain.FieldString, MaxLength: intPtr(9999)}, false},
		{"string bad pattern", domain.Field{Type: domain.FieldString, PCRECheck: strPtr(`([`)}, false},
		{"string default fails pattern", domain.Field{Type: domain.FieldString, PCRECheck: strPtr(`^[A-Z]`), DefaultValue: strPtr("lower")}, false},
		{"text max length within text limit", domain.Field{Type: domain.FieldText, MaxLength: intPtr(4000)}, true},
		{"list has no scalar params", domain.Field{Type: domain.FieldList}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := fieldtype.ValidateParams(tc.field)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Truef(t, apperr.IsConfiguration(err), "got %v", err)
			}
		})
	}
}

func TestTextualPattern(t *testing.T) {
	f := domain.Field{
		Name:      "ticket",
		Type:      domain.FieldString,
		PCRECheck: strPtr(`^[A-Z]+-\d+$`),
	}
	facade := fieldtype.New(f)
	// the pattern gate fires before interning, so no collaborators are needed
	_, err := facade.Encode(fieldtype.EncodeContext{}, "not a ticket")
	assert.True(t, apperr.IsValidation(err))

	long := domain.Field{Name: "s", Type: domain.FieldString, MaxLength: intPtr(3)}
	_, err = fieldtype.New(long).Encode(fieldtype.EncodeContext{}, "abcd")
	assert.True(t, apperr.IsValidation(err))
}
