package importer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceChoice(t *testing.T) {
	spec := FieldSpec{Name: "Climate", Kind: KindText, MaxLength: 20, Choices: choices("Arid", "Tropical")}

	v, ok := Coerce(spec, "tropical")
	assert.True(t, ok)
	assert.Equal(t, "Tropical", v)

	v, ok = Coerce(spec, "  ARID ")
	assert.True(t, ok)
	assert.Equal(t, "Arid", v)

	v, ok = Coerce(spec, "Mediterranean")
	assert.False(t, ok)
	assert.Equal(t, `"Mediterranean" is not an allowed option`, v)

	// Null tokens on a required choice field fail with the generic reason.
	v, ok = Coerce(spec, "N/A")
	assert.False(t, ok)
	assert.Equal(t, "missing", v)
}

func TestCoerceChoiceNullTokenAfterMatch(t *testing.T) {
	// A choice literally named "Not Defined" must match as a choice, not be
	// swallowed as a null token.
	spec := FieldSpec{Kind: KindText, MaxLength: 50, Choices: choices("Not Defined", "Aboriginal population")}
	v, ok := Coerce(spec, "not defined")
	assert.True(t, ok)
	assert.Equal(t, "Not Defined", v)
}

func TestCoerceText(t *testing.T) {
	spec := FieldSpec{Name: "Paper_title", Kind: KindText, MaxLength: 5}

	v, ok := Coerce(spec, "abcd")
	assert.True(t, ok)
	assert.Equal(t, "abcd", v)

	// Exactly MaxLength is already too long.
	v, ok = Coerce(spec, "abcde")
	assert.False(t, ok)
	assert.Equal(t, `"abcde" is too long (max length 5)`, v)

	v, ok = Coerce(spec, "")
	assert.False(t, ok)
	assert.Equal(t, "missing", v)

	nullable := FieldSpec{Kind: KindText, MaxLength: 5, Nullable: true}
	v, ok = Coerce(nullable, "none")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestCoerceTextCountsCharacters(t *testing.T) {
	// Length is measured in characters, not bytes. Four accented letters fit
	// under a 5-character limit even though they encode to 8 bytes.
	spec := FieldSpec{Name: "Paper_title", Kind: KindText, MaxLength: 5}

	v, ok := Coerce(spec, "éñüö")
	assert.True(t, ok)
	assert.Equal(t, "éñüö", v)

	v, ok = Coerce(spec, "éñüöé")
	assert.False(t, ok)
	assert.Equal(t, `"éñüöé" is too long (max length 5)`, v)
}

func TestCoerceLongText(t *testing.T) {
	spec := FieldSpec{Kind: KindLongText}
	v, ok := Coerce(spec, "anything at all, any length, even n/a")
	assert.True(t, ok)
	assert.Equal(t, "anything at all, any length, even n/a", v)
}

func TestCoerceDecimal(t *testing.T) {
	spec := FieldSpec{Kind: KindDecimal, Places: 2, MaxDigits: 4, Nullable: true}

	v, ok := Coerce(spec, "3.14159")
	require.True(t, ok)
	assert.Equal(t, 3.14, v)

	v, ok = Coerce(spec, "not applicable")
	assert.True(t, ok)
	assert.Nil(t, v)

	// Overflow clamps to the representable bound instead of failing.
	v, ok = Coerce(spec, "123456")
	require.True(t, ok)
	assert.Equal(t, 99.0, v)

	v, ok = Coerce(spec, "-123456")
	require.True(t, ok)
	assert.Equal(t, -99.0, v)

	v, ok = Coerce(spec, "twelve")
	assert.False(t, ok)
	assert.Equal(t, "Can't parse value 'twelve'", v)

	_, ok = Coerce(spec, math.NaN())
	assert.False(t, ok)

	// Native numerics bypass string parsing.
	v, ok = Coerce(spec, 2.555)
	require.True(t, ok)
	assert.Equal(t, 2.56, v)
}

func TestCoerceUint(t *testing.T) {
	spec := FieldSpec{Kind: KindUint, Nullable: true}

	v, ok := Coerce(spec, "1,234,567")
	require.True(t, ok)
	assert.Equal(t, int64(1234567), v)

	v, ok = Coerce(spec, "2005")
	require.True(t, ok)
	assert.Equal(t, int64(2005), v)

	v, ok = Coerce(spec, float64(1998))
	require.True(t, ok)
	assert.Equal(t, int64(1998), v)

	v, ok = Coerce(spec, "n/a")
	assert.True(t, ok)
	assert.Nil(t, v)

	v, ok = Coerce(spec, "12.5")
	assert.False(t, ok)
	assert.Equal(t, "Can't parse value '12.5'", v)
}

func TestCoerceBool(t *testing.T) {
	nullable := FieldSpec{Kind: KindBool, Nullable: true}
	required := FieldSpec{Kind: KindBool}

	for _, token := range []string{"yes", "Y", "TRUE", "t", "1"} {
		v, ok := Coerce(nullable, token)
		assert.True(t, ok)
		assert.Equal(t, true, v, token)
	}
	for _, token := range []string{"no", "N", "false", "f", "0"} {
		v, ok := Coerce(nullable, token)
		assert.True(t, ok)
		assert.Equal(t, false, v, token)
	}

	// A tri-state flag keeps unknown as null and never fails.
	v, ok := Coerce(nullable, "maybe")
	assert.True(t, ok)
	assert.Nil(t, v)
	v, ok = Coerce(nullable, "")
	assert.True(t, ok)
	assert.Nil(t, v)

	// Required flags collapse unknown and empty to false.
	v, ok = Coerce(required, "")
	assert.True(t, ok)
	assert.Equal(t, false, v)
	v, ok = Coerce(required, "maybe")
	assert.True(t, ok)
	assert.Equal(t, false, v)
	v, ok = Coerce(required, "yes")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	v, ok = Coerce(nullable, true)
	assert.True(t, ok)
	assert.Equal(t, true, v)
}

func TestCoerceRefAlwaysFails(t *testing.T) {
	spec := FieldSpec{Name: FieldStudyID, Kind: KindRef}
	v, ok := Coerce(spec, "S1")
	assert.False(t, ok)
	assert.Equal(t, "Can't import related field", v)
}
