package scoring

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"monitorai/internal/rubric"
)

// Boolean tokens accepted from the judge, compared after NFC normalization
// and lower-casing.
var verdictTokens = map[string]bool{
	"sim":   true,
	"true":  true,
	"não":   false,
	"false": false,
}

// parseVerdict maps a verdict value to true, false or nil (not evaluated).
// JSON null is the only spelling of "not evaluated".
func parseVerdict(field string, v any) (*bool, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return boolPtr(x), nil
	case string:
		token := strings.ToLower(norm.NFC.String(strings.TrimSpace(x)))
		if b, ok := verdictTokens[token]; ok {
			return boolPtr(b), nil
		}
	}
	return nil, invalidEnum(field, v)
}

// parseNumber returns the value of an optional non-negative numeric field.
// present is false for absent and null values.
func parseNumber(field string, v any) (value float64, present bool, err error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		parsed, perr := strconv.ParseFloat(string(x), 64)
		if perr != nil {
			return 0, false, invalidNumber(field, v)
		}
		f = parsed
	case float64:
		f = x
	case string:
		parsed, ok := coerceNumeric(x)
		if !ok {
			return 0, false, invalidNumber(field, v)
		}
		f = parsed
	default:
		return 0, false, invalidNumber(field, v)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, invalidNumber(field, v)
	}
	return f, true, nil
}

// coerceNumeric strips everything that cannot belong to a number ("86 pts",
// "70%", "R$ 10,5") and parses the rest. A decimal comma is accepted; when
// both separators appear the last one is the decimal mark.
func coerceNumeric(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}
	lastDot := strings.LastIndexByte(cleaned, '.')
	lastComma := strings.LastIndexByte(cleaned, ',')
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case lastComma >= 0:
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// identifier renders an id given as number or string in canonical form, so
// 3, 3.0 and "3" all match rubric item "3".
func identifier(v any) (string, bool) {
	switch x := v.(type) {
	case json.Number:
		return rubric.CanonicalID(string(x)), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", false
		}
		return rubric.CanonicalID(s), true
	default:
		return "", false
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func floatPtr(f float64) *float64 {
	return &f
}
