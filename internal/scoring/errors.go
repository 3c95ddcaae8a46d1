package scoring

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sentinel kinds. Every *Error unwraps to exactly one of them.
var (
	ErrMalformedResponse  = errors.New("malformed response")
	ErrMissingField       = errors.New("missing field")
	ErrInvalidEnumeration = errors.New("invalid enumeration")
	ErrInvalidNumber      = errors.New("invalid number")
)

const excerptRunes = 100

// Error is a terminal failure for one submission.
type Error struct {
	Kind    error
	Field   string
	Value   string
	Excerpt string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " value=%q", e.Value)
	}
	if e.Excerpt != "" {
		fmt.Fprintf(&b, " excerpt=%q", e.Excerpt)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// KindName is the stable identifier used by HTTP responses and storage.
func (e *Error) KindName() string {
	return KindName(e.Kind)
}

// KindName maps a sentinel (or an error wrapping one) to its stable name.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrMalformedResponse):
		return "MalformedResponse"
	case errors.Is(err, ErrMissingField):
		return "MissingField"
	case errors.Is(err, ErrInvalidEnumeration):
		return "InvalidEnumeration"
	case errors.Is(err, ErrInvalidNumber):
		return "InvalidNumber"
	default:
		return ""
	}
}

func malformed(text string) *Error {
	return &Error{Kind: ErrMalformedResponse, Excerpt: Excerpt(text, excerptRunes)}
}

func missing(field string) *Error {
	return &Error{Kind: ErrMissingField, Field: field}
}

func invalidEnum(field string, raw any) *Error {
	return &Error{Kind: ErrInvalidEnumeration, Field: field, Value: rawString(raw)}
}

func invalidNumber(field string, raw any) *Error {
	return &Error{Kind: ErrInvalidNumber, Field: field, Value: rawString(raw)}
}

// Excerpt returns at most n runes of s, never splitting a UTF-8 sequence.
func Excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func rawString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return Excerpt(x, excerptRunes)
	default:
		return Excerpt(fmt.Sprint(x), excerptRunes)
	}
}
