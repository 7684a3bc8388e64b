package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// nullTokens are the spellings contributors use for "no value". Compared
// case-insensitively after trimming.
var nullTokens = map[string]struct{}{
	"n/a":            {},
	"not applicable": {},
	"none":           {},
	"not defined":    {},
	"":               {},
	"missing":        {},
	"nan":            {},
}

var trueTokens = map[string]struct{}{"t": {}, "1": {}, "yes": {}, "y": {}, "true": {}}
var falseTokens = map[string]struct{}{"f": {}, "0": {}, "no": {}, "n": {}, "false": {}}

func isNullToken(s string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// stringify renders a raw cell value for text handling. Spreadsheet readers
// hand us strings, but staged payloads decoded from JSON carry numbers and
// booleans as their native types.
func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Coerce converts one raw cell into the typed value a field expects. On
// failure the returned value is a human-readable reason and ok is false;
// Coerce never panics. Numeric raw values coerce directly without going
// through string parsing.
func Coerce(spec FieldSpec, raw any) (any, bool) {
	switch spec.Kind {
	case KindRef:
		// Cross-references are resolved by row linking, never per cell.
		return "Can't import related field", false
	case KindLongText:
		return stringify(raw), true
	case KindText:
		return coerceText(spec, stringify(raw))
	case KindDecimal:
		return coerceDecimal(spec, raw)
	case KindUint:
		return coerceUint(spec, raw)
	case KindBool:
		return coerceBool(spec, raw)
	default:
		return fmt.Sprintf("unsupported field kind %d", spec.Kind), false
	}
}

func coerceText(spec FieldSpec, value string) (any, bool) {
	if len(spec.Choices) > 0 {
		lower := strings.ToLower(strings.TrimSpace(value))
		for _, c := range spec.Choices {
			if lower == strings.ToLower(strings.TrimSpace(c.Code)) ||
				lower == strings.ToLower(strings.TrimSpace(c.Label)) {
				return c.Code, true
			}
		}
		if _, ok := nullTokens[lower]; ok {
			if spec.Nullable {
				return nil, true
			}
			return "missing", false
		}
		return fmt.Sprintf("%q is not an allowed option", value), false
	}
	if isNullToken(value) {
		if spec.Nullable {
			return nil, true
		}
		return "missing", false
	}
	// The boundary is >=, not >: a value of exactly MaxLength characters is
	// rejected. Counted in runes, not bytes.
	if utf8.RuneCountInString(value) >= spec.MaxLength {
		return fmt.Sprintf("%q is too long (max length %d)", value, spec.MaxLength), false
	}
	return value, true
}

func coerceDecimal(spec FieldSpec, raw any) (any, bool) {
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	default:
		s := stringify(raw)
		if isNullToken(s) {
			return nil, true
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Sprintf("Can't parse value '%s'", s), false
		}
		value = parsed
	}
	if math.IsNaN(value) {
		return fmt.Sprintf("Invalid decimal value '%s'", stringify(raw)), false
	}
	if spec.Places > 0 {
		shift := math.Pow(10, float64(spec.Places))
		value = math.Round(value*shift) / shift
	}
	if spec.MaxDigits > 0 {
		// Overflow clamps to the largest representable magnitude rather
		// than rejecting the row.
		limit := math.Pow(10, float64(spec.MaxDigits-spec.Places)) - 1
		if value > limit {
			value = limit
		} else if value < -limit {
			value = -limit
		}
	}
	return value, true
}

func coerceUint(spec FieldSpec, raw any) (any, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	s := stringify(raw)
	if isNullToken(s) {
		return nil, true
	}
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	parsed, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return fmt.Sprintf("Can't parse value '%s'", s), false
	}
	return parsed, true
}

func coerceBool(spec FieldSpec, raw any) (any, bool) {
	var value any
	if b, ok := raw.(bool); ok {
		value = b
	} else {
		s := stringify(raw)
		if isNullToken(s) {
			value = nil
		} else {
			lower := strings.ToLower(strings.TrimSpace(s))
			if _, ok := trueTokens[lower]; ok {
				value = true
			} else if _, ok := falseTokens[lower]; ok {
				value = false
			} else {
				value = nil
			}
		}
	}
	// Non-nullable flags collapse unknown/false-like to false; a tri-state
	// bool coercion never fails.
	if !spec.Nullable && (value == nil || value == false) {
		return false, true
	}
	return value, true
}
